package api

import "github.com/keagan/reelcut/internal/jobstore"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	UptimeS    int64    `json:"uptime_s"`
	Operations []string `json:"operations"`
}

type JobsResponse struct {
	Jobs []*jobstore.Job `json:"jobs"`
}
