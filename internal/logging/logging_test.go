package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New("production", "info", &buf), "feed")
	log.Info().Str("conversation", "c1").Msg("history loaded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "feed" {
		t.Errorf("component = %v, want feed", entry["component"])
	}
	if entry["conversation"] != "c1" {
		t.Errorf("conversation = %v, want c1", entry["conversation"])
	}
	if entry["message"] != "history loaded" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestNew_ConsoleInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	New("development", "debug", &buf).Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q, want to contain hello", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("development output should not be JSON: %q", buf.String())
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New("production", "warn", &buf)
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
	log.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn not written: %q", buf.String())
	}
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("test", "loud", &buf)
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("output = %q", buf.String())
	}
}
