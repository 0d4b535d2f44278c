package config

import (
	"errors"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"WS_URL", "USER_NAME", "WEB_AUTH_TOKEN", "WS_REPLY_WINDOW_SECONDS",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "OPENAI_TIMEOUT_SECONDS",
		"FSWEBCAM_CMD", "CAPTURE_DEVICE", "CAPTURE_RESOLUTION",
		"ARCHIVE_DIR", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_PREFIX", "SINK_ADDR",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Relay.URL != DefaultRelayURL {
		t.Errorf("Relay.URL = %q, want %q", cfg.Relay.URL, DefaultRelayURL)
	}
	if cfg.Relay.UserName != DefaultUserName {
		t.Errorf("Relay.UserName = %q, want %q", cfg.Relay.UserName, DefaultUserName)
	}
	if cfg.Relay.AuthToken != DefaultAuthToken {
		t.Errorf("Relay.AuthToken = %q, want %q", cfg.Relay.AuthToken, DefaultAuthToken)
	}
	if cfg.Relay.ReplyWindow != DefaultReplyWindow {
		t.Errorf("Relay.ReplyWindow = %v, want %v", cfg.Relay.ReplyWindow, DefaultReplyWindow)
	}
	if cfg.Vision.Model != DefaultVisionModel {
		t.Errorf("Vision.Model = %q, want %q", cfg.Vision.Model, DefaultVisionModel)
	}
	if cfg.Vision.Timeout != DefaultVisionTimeout {
		t.Errorf("Vision.Timeout = %v, want %v", cfg.Vision.Timeout, DefaultVisionTimeout)
	}
	if cfg.Capture.Command != DefaultCaptureCommand {
		t.Errorf("Capture.Command = %q, want %q", cfg.Capture.Command, DefaultCaptureCommand)
	}
	if cfg.Capture.Device != DefaultCaptureDevice {
		t.Errorf("Capture.Device = %q, want %q", cfg.Capture.Device, DefaultCaptureDevice)
	}
	if cfg.Sink.Addr != DefaultSinkAddr {
		t.Errorf("Sink.Addr = %q, want %q", cfg.Sink.Addr, DefaultSinkAddr)
	}
	if cfg.Archive.Dir != "" || cfg.Archive.S3Bucket != "" {
		t.Error("archive enabled by default, want disabled")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_URL", "wss://relay.example.com/ingest")
	t.Setenv("USER_NAME", "porch-cam")
	t.Setenv("WEB_AUTH_TOKEN", "hunter2")
	t.Setenv("WS_REPLY_WINDOW_SECONDS", "2.5")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "5")
	t.Setenv("FSWEBCAM_CMD", "/opt/bin/fswebcam")
	t.Setenv("ARCHIVE_S3_BUCKET", "captures")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Relay.URL != "wss://relay.example.com/ingest" {
		t.Errorf("Relay.URL = %q", cfg.Relay.URL)
	}
	if cfg.Relay.UserName != "porch-cam" {
		t.Errorf("Relay.UserName = %q", cfg.Relay.UserName)
	}
	if want := 2500 * time.Millisecond; cfg.Relay.ReplyWindow != want {
		t.Errorf("Relay.ReplyWindow = %v, want %v", cfg.Relay.ReplyWindow, want)
	}
	if cfg.Vision.APIKey != "sk-test" {
		t.Errorf("Vision.APIKey = %q", cfg.Vision.APIKey)
	}
	if want := 5 * time.Second; cfg.Vision.Timeout != want {
		t.Errorf("Vision.Timeout = %v, want %v", cfg.Vision.Timeout, want)
	}
	if cfg.Capture.Command != "/opt/bin/fswebcam" {
		t.Errorf("Capture.Command = %q", cfg.Capture.Command)
	}
	if cfg.Archive.S3Bucket != "captures" {
		t.Errorf("Archive.S3Bucket = %q", cfg.Archive.S3Bucket)
	}
	// The sink shares the relay auth token.
	if cfg.Sink.AuthToken != "hunter2" {
		t.Errorf("Sink.AuthToken = %q, want %q", cfg.Sink.AuthToken, "hunter2")
	}
}

func TestFromEnvMalformedNumbers(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"reply_window", "WS_REPLY_WINDOW_SECONDS"},
		{"vision_timeout", "OPENAI_TIMEOUT_SECONDS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, "not-a-number")
			if _, err := FromEnv(); err == nil {
				t.Errorf("FromEnv() error = nil, want parse error for %s", tc.key)
			}
		})
	}
}

func TestValidateSend(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if err := cfg.ValidateSend(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("ValidateSend() = %v, want ErrMissingAPIKey", err)
	}

	cfg.Vision.APIKey = "sk-present"
	if err := cfg.ValidateSend(); err != nil {
		t.Errorf("ValidateSend() with key = %v, want nil", err)
	}
}
