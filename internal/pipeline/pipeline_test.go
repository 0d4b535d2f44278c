package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sight-dev/sight/internal/archive"
	"github.com/sight-dev/sight/internal/sink"
	"github.com/sight-dev/sight/pkg/sensory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCamera struct {
	image []byte
	err   error
	calls int
}

func (s *stubCamera) Capture(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.image, s.err
}

type stubVision struct {
	text     string
	err      error
	gotImage []byte
}

func (s *stubVision) Describe(ctx context.Context, image []byte) (string, error) {
	s.gotImage = image
	return s.text, s.err
}

type failingStore struct {
	err error
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.err
}

var testImage = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0x03}

func newTestSink(t *testing.T) *httptest.Server {
	t.Helper()
	s := sink.New("test-token", sink.WithLogger(testLogger()))
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
}

func TestRunDryRun(t *testing.T) {
	camera := &stubCamera{image: testImage}
	vision := &stubVision{text: "a desk with two monitors"}

	p := New(Config{
		Camera: camera,
		Vision: vision,
		// Unreachable on purpose: a dry run must never dial.
		RelayURL: "ws://127.0.0.1:1/",
		Logger:   testLogger(),
	})

	res, err := p.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.DryRun {
		t.Error("DryRun = false, want true")
	}
	if res.Description != "a desk with two monitors" {
		t.Errorf("Description = %q", res.Description)
	}
	if res.ImageBytes != len(testImage) {
		t.Errorf("ImageBytes = %d, want %d", res.ImageBytes, len(testImage))
	}
	if string(vision.gotImage) != string(testImage) {
		t.Error("vision did not receive the captured image")
	}
	if len(res.Replies) != 0 {
		t.Errorf("Replies = %v, want none", res.Replies)
	}
}

func TestRunRelaysToSink(t *testing.T) {
	ts := newTestSink(t)
	root := t.TempDir()

	p := New(Config{
		Camera:      &stubCamera{image: testImage},
		Vision:      &stubVision{text: "a red bicycle leaning on a fence"},
		Store:       archive.NewDiskStore(root),
		RelayURL:    wsURL(ts),
		Credential:  sensory.Credential{User: "camera-user", Token: "test-token"},
		ReplyWindow: 700 * time.Millisecond,
		Logger:      testLogger(),
	})

	res, err := p.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.ArchiveKey == "" {
		t.Error("ArchiveKey is empty, want archived capture")
	} else {
		archived, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(res.ArchiveKey)))
		if err != nil {
			t.Errorf("read archived capture: %v", err)
		} else if string(archived) != string(testImage) {
			t.Error("archived bytes differ from capture")
		}
	}

	// The sink echoes each recorded event back, so the run collects
	// its own observation as a reply.
	if len(res.Replies) != 1 {
		t.Fatalf("Replies = %d, want 1", len(res.Replies))
	}
	env, err := sensory.DecodeEnvelope([]byte(res.Replies[0]))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(env.Event.Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.Text != "a red bicycle leaning on a fence" {
		t.Errorf("reply text = %q", body.Text)
	}

	// The observation is also queryable from the sink's history.
	resp, err := http.Get(ts.URL + "/messages?tag=type:sensory")
	if err != nil {
		t.Fatalf("GET /messages: %v", err)
	}
	defer resp.Body.Close()
	var history struct {
		Events []sensory.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history.Events) != 1 {
		t.Errorf("sink history events = %d, want 1", len(history.Events))
	}
}

func TestRunCaptureFailure(t *testing.T) {
	captureErr := errors.New("no such device")
	vision := &stubVision{text: "unused"}

	p := New(Config{
		Camera: &stubCamera{err: captureErr},
		Vision: vision,
		Logger: testLogger(),
	})

	_, err := p.Run(context.Background(), true)
	if !errors.Is(err, captureErr) {
		t.Fatalf("Run() error = %v, want wrapped capture error", err)
	}
	if vision.gotImage != nil {
		t.Error("vision was called despite capture failure")
	}
}

func TestRunDescribeFailureAfterArchive(t *testing.T) {
	root := t.TempDir()
	describeErr := errors.New("api unreachable")

	p := New(Config{
		Camera: &stubCamera{image: testImage},
		Vision: &stubVision{err: describeErr},
		Store:  archive.NewDiskStore(root),
		Logger: testLogger(),
	})

	_, err := p.Run(context.Background(), true)
	if !errors.Is(err, describeErr) {
		t.Fatalf("Run() error = %v, want wrapped describe error", err)
	}

	// The capture was archived before the describe stage failed.
	var archived []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			archived = append(archived, path)
		}
		return nil
	})
	if len(archived) != 1 {
		t.Errorf("archived files = %d, want 1", len(archived))
	}
}

func TestRunArchiveFailureDoesNotAbort(t *testing.T) {
	p := New(Config{
		Camera: &stubCamera{image: testImage},
		Vision: &stubVision{text: "described anyway"},
		Store:  &failingStore{err: errors.New("bucket gone")},
		Logger: testLogger(),
	})

	res, err := p.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() error = %v, want archive failure swallowed", err)
	}
	if res.ArchiveKey != "" {
		t.Errorf("ArchiveKey = %q, want empty after failed archive", res.ArchiveKey)
	}
	if res.Description != "described anyway" {
		t.Errorf("Description = %q", res.Description)
	}
}

func TestRunRelayFailure(t *testing.T) {
	p := New(Config{
		Camera:   &stubCamera{image: testImage},
		Vision:   &stubVision{text: "a dark room"},
		RelayURL: "ws://127.0.0.1:1/",
		Logger:   testLogger(),
	})

	_, err := p.Run(context.Background(), false)
	if err == nil {
		t.Fatal("Run() error = nil, want relay failure")
	}
	if !strings.Contains(err.Error(), "connect relay") {
		t.Errorf("error = %v, want connect relay failure", err)
	}
}
