package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
relay:
  url: "ws://localhost:3000/ws"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Classifier.URL != "http://127.0.0.1:5000/detect" {
		t.Errorf("classifier url = %s", cfg.Classifier.URL)
	}
	if cfg.Classifier.Timeout() != 10*time.Second {
		t.Errorf("classifier timeout = %v", cfg.Classifier.Timeout())
	}
	if cfg.Bootstrap.Interval() != 500*time.Millisecond || cfg.Bootstrap.MaxAttempts != 20 {
		t.Errorf("bootstrap = %+v", cfg.Bootstrap)
	}
	if cfg.Badge.Display() != 12*time.Second {
		t.Errorf("badge display = %v", cfg.Badge.Display())
	}
	if cfg.Relay.Name != "chatguard" || cfg.Relay.Room != "lobby" {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Twitch.Surface != "skribbl" {
		t.Errorf("twitch surface = %s", cfg.Twitch.Surface)
	}
	if cfg.S3.Enabled() {
		t.Error("s3 should be disabled without a bucket")
	}
	if cfg.Health.Addr != ":8080" {
		t.Errorf("health addr = %s", cfg.Health.Addr)
	}
	if cfg.FeedCount() != 1 {
		t.Errorf("feed count = %d", cfg.FeedCount())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
classifier:
  url: "http://original/detect"
twitch:
  username: "guard"
  channels: ["somechannel"]
`)
	t.Setenv("CLASSIFIER_URL", "http://override:5000/detect")
	t.Setenv("TWITCH_OAUTH", "oauth:secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Classifier.URL != "http://override:5000/detect" {
		t.Errorf("classifier url = %s", cfg.Classifier.URL)
	}
	if cfg.Twitch.OAuth != "oauth:secret" {
		t.Errorf("twitch oauth = %s", cfg.Twitch.OAuth)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"no feeds", `classifier: {url: "http://x/detect"}`, "at least one feed"},
		{"bad browser surface", `browser: {url: "https://skribbl.io", surface: "discord"}`, "browser.surface"},
		{"twitch without username", `twitch: {oauth: "x", channels: ["a"]}`, "twitch.username"},
		{"s3 without region", "relay: {url: \"ws://x\"}\ns3: {bucket: \"b\", role_arn: \"arn\"}", "s3.region"},
		{"s3 without credentials", "relay: {url: \"ws://x\"}\ns3: {bucket: \"b\", region: \"us-east-1\"}", "s3.role_arn"},
		{"s3 key without secret", "relay: {url: \"ws://x\"}\ns3: {bucket: \"b\", region: \"us-east-1\", access_key_id: \"k\"}", "s3.secret_access_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TWITCH_OAUTH", "")
			t.Setenv("S3_SECRET_ACCESS_KEY", "")
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
