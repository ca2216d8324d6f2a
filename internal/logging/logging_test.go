package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriterPlainForNonTerminal(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWriter(&buf, true)
	l := WithComponent("playback")
	l.Debug().Float64("t", 1.5).Msg("play")

	out := buf.String()
	if !strings.Contains(out, "play") || !strings.Contains(out, "component=playback") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colour codes written to a non-terminal")
	}
}

func TestInitWriterLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	InitWriter(&buf, false)
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug written at info level: %q", buf.String())
	}
}

func TestNewLoggerMulti(t *testing.T) {
	var a, b bytes.Buffer
	l := NewLogger(&a, &b)
	l.Info().Msg("both")
	if !strings.Contains(a.String(), "both") || !strings.Contains(b.String(), "both") {
		t.Error("expected the message in both writers")
	}
}
