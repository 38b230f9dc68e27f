package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Quertz/joker/internal/config"
	"github.com/Quertz/joker/internal/updater"
)

func sampleStatus() statusResponse {
	commit := "bbbb2222"
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return statusResponse{
		Success: true,
		AutoUpdate: &updater.Status{
			Enabled:            true,
			Running:            true,
			CurrentCommit:      &commit,
			LastCheck:          &last,
			CheckIntervalHours: 48,
			Branch:             "main",
			RestartMode:        updater.ModeReExec,
		},
		Timestamp: "2026-03-01T12:00:01Z",
	}
}

func TestPrintStatusText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, sampleStatus(), "text"))
	out := buf.String()
	assert.Contains(t, out, "Current commit: bbbb2222")
	assert.Contains(t, out, "Last check:     2026-03-01T12:00:00Z")
	assert.Contains(t, out, "Check interval: 48h")
}

func TestPrintStatusUnavailable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, statusResponse{Message: "Auto-update service is not initialized"}, ""))
	assert.Contains(t, buf.String(), "unavailable (Auto-update service is not initialized)")
}

func TestPrintStatusJSONAndYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, sampleStatus(), "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "bbbb2222", decoded["auto_update"].(map[string]any)["current_commit"])

	buf.Reset()
	require.NoError(t, printStatus(&buf, sampleStatus(), "yaml"))
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, "main", y["auto_update"].(map[string]any)["branch"])
}

func TestPrintStatusUnknownFormat(t *testing.T) {
	assert.Error(t, printStatus(&bytes.Buffer{}, sampleStatus(), "xml"))
}

func TestJokesDirRelativeToRepo(t *testing.T) {
	cfg := config.Default()
	cfg.RepoDir = "/srv/joker"
	assert.Equal(t, "/srv/joker/jokes", jokesDir(cfg))

	cfg.JokesDir = "/data/jokes"
	assert.Equal(t, "/data/jokes", jokesDir(cfg))
}
