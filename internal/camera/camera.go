// Package camera captures still images by shelling out to an
// external webcam utility (fswebcam by default).
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Capture errors.
var (
	ErrCaptureFailed = errors.New("camera: capture failed")
)

// Camera runs one-shot still captures through an external command.
type Camera struct {
	command    string
	device     string
	input      string
	resolution string
	logger     *slog.Logger
}

// Option configures a Camera.
type Option func(*Camera)

// WithCommand overrides the capture binary.
func WithCommand(cmd string) Option {
	return func(c *Camera) {
		if cmd != "" {
			c.command = cmd
		}
	}
}

// WithDevice sets the video device.
func WithDevice(device string) Option {
	return func(c *Camera) {
		if device != "" {
			c.device = device
		}
	}
}

// WithResolution sets the capture resolution (WIDTHxHEIGHT).
func WithResolution(res string) Option {
	return func(c *Camera) {
		if res != "" {
			c.resolution = res
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Camera) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a camera with fswebcam defaults.
func New(opts ...Option) *Camera {
	c := &Camera{
		command:    "fswebcam",
		device:     "/dev/video0",
		input:      "0",
		resolution: "1920x1080",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// args builds the capture invocation writing to outPath.
func (c *Camera) args(outPath string) []string {
	return []string{
		"--device", c.device,
		"--input", c.input,
		"--resolution", c.resolution,
		"--no-banner",
		outPath,
	}
}

// Capture grabs a single frame and returns the encoded image bytes.
// The command writes to a temp file which is removed before return.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "capture-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("camera: create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, c.command, c.args(path)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrCaptureFailed, c.command, err, summarize(out))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read captured image: %v", ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s produced an empty image", ErrCaptureFailed, c.command)
	}

	c.logger.Debug("captured frame", "device", c.device, "bytes", len(data))
	return data, nil
}

// summarize trims command output to a single short diagnostic line.
func summarize(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
