package timeline

import "math"

// DefaultSnapTolerance is the distance at which a time is pulled onto an edit point.
const DefaultSnapTolerance = 0.1

// SnapTargets lists every clip start and end on the three tracks plus the playhead.
func (p *Project) SnapTargets(playhead float64) []float64 {
	targets := make([]float64, 0, 2*(len(p.VideoClips)+len(p.AudioClips)+len(p.Overlays))+1)
	for _, c := range p.VideoClips {
		targets = append(targets, c.TimelineStart, c.TimelineEnd)
	}
	for _, o := range p.Overlays {
		targets = append(targets, o.TimelineStart, o.TimelineEnd)
	}
	for _, a := range p.AudioClips {
		targets = append(targets, a.TimelineOffset, a.End())
	}
	return append(targets, playhead)
}

// Snap returns the target nearest to raw when it lies strictly within
// tolerance, otherwise raw unchanged.
func Snap(raw float64, targets []float64, tolerance float64) float64 {
	best, min := raw, tolerance
	for _, t := range targets {
		if d := math.Abs(t - raw); d < min {
			min = d
			best = t
		}
	}
	return best
}

// Snap snaps raw against this project's edit points.
func (p *Project) Snap(raw, playhead, tolerance float64) float64 {
	return Snap(raw, p.SnapTargets(playhead), tolerance)
}
