package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", false)
	l.Info().Msg("hidden")
	l.Warn().Int("rank", 3).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("%q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("%+v", err)
	}
	if m["message"] != "shown" || m["rank"] != float64(3) {
		t.Fatalf("%#v", m)
	}
}

func TestStack(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", false)
	l.Error().Stack().Err(errors.New("boom")).Msg("")
	if !strings.Contains(buf.String(), `"stack":[`) {
		t.Fatalf("%s", buf.String())
	}
}
