// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	// DefaultRelayURL is the relay endpoint.
	DefaultRelayURL = "ws://localhost:2953/"

	// DefaultUserName identifies this client to the relay.
	DefaultUserName = "camera-user"

	// DefaultAuthToken is the development auth token.
	DefaultAuthToken = "test-token"

	// DefaultReplyWindow is how long to poll for replies after the
	// observation is sent.
	DefaultReplyWindow = 10 * time.Second

	// DefaultVisionModel is the image description model.
	DefaultVisionModel = "gpt-4o-mini"

	// DefaultVisionBaseURL is the description API endpoint.
	DefaultVisionBaseURL = "https://api.openai.com"

	// DefaultVisionTimeout bounds one description request.
	DefaultVisionTimeout = 30 * time.Second

	// DefaultCaptureCommand is the webcam capture binary.
	DefaultCaptureCommand = "fswebcam"

	// DefaultCaptureDevice is the video device to capture from.
	DefaultCaptureDevice = "/dev/video0"

	// DefaultCaptureResolution is the capture resolution.
	DefaultCaptureResolution = "1920x1080"

	// DefaultSinkAddr is the development sink listen address.
	DefaultSinkAddr = ":2953"
)

// Configuration errors.
var (
	ErrMissingAPIKey = errors.New("config: OPENAI_API_KEY is required")
)

// Config is the full process configuration.
type Config struct {
	Relay   RelayConfig
	Vision  VisionConfig
	Capture CaptureConfig
	Archive ArchiveConfig
	Sink    SinkConfig
}

// RelayConfig configures the connection to the remote service.
type RelayConfig struct {
	URL         string        // WS_URL
	UserName    string        // USER_NAME
	AuthToken   string        // WEB_AUTH_TOKEN
	ReplyWindow time.Duration // WS_REPLY_WINDOW_SECONDS
}

// VisionConfig configures the image description API.
type VisionConfig struct {
	APIKey  string        // OPENAI_API_KEY
	Model   string        // OPENAI_MODEL
	BaseURL string        // OPENAI_BASE_URL
	Timeout time.Duration // OPENAI_TIMEOUT_SECONDS
}

// CaptureConfig configures the webcam capture command.
type CaptureConfig struct {
	Command    string // FSWEBCAM_CMD
	Device     string // CAPTURE_DEVICE
	Resolution string // CAPTURE_RESOLUTION
}

// ArchiveConfig configures optional capture archival. Archival is
// disabled when both Dir and S3Bucket are empty.
type ArchiveConfig struct {
	Dir      string // ARCHIVE_DIR
	S3Bucket string // ARCHIVE_S3_BUCKET
	S3Prefix string // ARCHIVE_S3_PREFIX
}

// SinkConfig configures the development sink server.
type SinkConfig struct {
	Addr      string // SINK_ADDR
	AuthToken string // WEB_AUTH_TOKEN
}

// FromEnv builds the configuration from environment variables,
// applying defaults for anything unset. Malformed numeric values are
// errors rather than silent fallbacks.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Relay: RelayConfig{
			URL:       getenv("WS_URL", DefaultRelayURL),
			UserName:  getenv("USER_NAME", DefaultUserName),
			AuthToken: getenv("WEB_AUTH_TOKEN", DefaultAuthToken),
		},
		Vision: VisionConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getenv("OPENAI_MODEL", DefaultVisionModel),
			BaseURL: getenv("OPENAI_BASE_URL", DefaultVisionBaseURL),
		},
		Capture: CaptureConfig{
			Command:    getenv("FSWEBCAM_CMD", DefaultCaptureCommand),
			Device:     getenv("CAPTURE_DEVICE", DefaultCaptureDevice),
			Resolution: getenv("CAPTURE_RESOLUTION", DefaultCaptureResolution),
		},
		Archive: ArchiveConfig{
			Dir:      os.Getenv("ARCHIVE_DIR"),
			S3Bucket: os.Getenv("ARCHIVE_S3_BUCKET"),
			S3Prefix: os.Getenv("ARCHIVE_S3_PREFIX"),
		},
		Sink: SinkConfig{
			Addr:      getenv("SINK_ADDR", DefaultSinkAddr),
			AuthToken: getenv("WEB_AUTH_TOKEN", DefaultAuthToken),
		},
	}

	var err error
	if cfg.Relay.ReplyWindow, err = getenvSeconds("WS_REPLY_WINDOW_SECONDS", DefaultReplyWindow); err != nil {
		return nil, err
	}
	if cfg.Vision.Timeout, err = getenvSeconds("OPENAI_TIMEOUT_SECONDS", DefaultVisionTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateSend checks the variables the send path cannot run
// without. The description API key is the only required secret.
func (c *Config) ValidateSend() error {
	if c.Vision.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getenvSeconds reads a duration expressed in (possibly fractional)
// seconds.
func getenvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}
