// Package pipeline orchestrates one capture, describe, and relay
// cycle: grab a webcam frame, archive it, ask the vision model for a
// description, send the description over the relay connection, then
// listen briefly for replies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sight-dev/sight/internal/archive"
	"github.com/sight-dev/sight/pkg/sensory"
	"github.com/sight-dev/sight/pkg/wsclient"
)

// Spans use the global tracer provider; wiring an SDK (or leaving the
// default no-op provider) is main's choice.
const tracerName = "sight"

// Capturer produces one encoded image.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Describer turns an image into text.
type Describer interface {
	Describe(ctx context.Context, image []byte) (string, error)
}

// Config assembles a Pipeline.
type Config struct {
	Camera Capturer
	Vision Describer

	// Store archives each capture. nil disables archiving.
	Store archive.Store

	RelayURL    string
	Credential  sensory.Credential
	ReplyWindow time.Duration

	Logger *slog.Logger
}

// Pipeline runs the stages in order. Create one with New.
type Pipeline struct {
	camera      Capturer
	vision      Describer
	store       archive.Store
	relayURL    string
	credential  sensory.Credential
	replyWindow time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Result reports what one run produced.
type Result struct {
	ImageBytes  int
	ArchiveKey  string // empty when archiving is off or failed
	Description string
	Replies     []string
	DryRun      bool
}

// New creates a pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		camera:      cfg.Camera,
		vision:      cfg.Vision,
		store:       cfg.Store,
		relayURL:    cfg.RelayURL,
		credential:  cfg.Credential,
		replyWindow: cfg.ReplyWindow,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Run executes one cycle. With dryRun set, the run stops after the
// description is produced and the relay leg is skipped entirely.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Bool("sight.dry_run", dryRun)))
	defer span.End()

	res, err := p.run(ctx, dryRun)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, dryRun bool) (*Result, error) {
	res := &Result{DryRun: dryRun}

	image, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	res.ImageBytes = len(image)
	p.logger.Info("captured image", "bytes", len(image))

	// Archiving is best effort: a failed upload must not cost the
	// observation, so the run continues on a warning.
	if p.store != nil {
		key := archive.Key(time.Now())
		if err := p.archiveCapture(ctx, key, image); err != nil {
			p.logger.Warn("archive failed", "key", key, "error", err)
		} else {
			res.ArchiveKey = key
			p.logger.Debug("capture archived", "key", key)
		}
	}

	description, err := p.describe(ctx, image)
	if err != nil {
		return nil, err
	}
	res.Description = description
	p.logger.Info("image described", "chars", len(description))

	if dryRun {
		p.logger.Info("dry run, skipping relay")
		return res, nil
	}

	replies, err := p.relay(ctx, description)
	if err != nil {
		return nil, err
	}
	res.Replies = replies
	return res, nil
}

func (p *Pipeline) capture(ctx context.Context) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.capture")
	defer span.End()

	image, err := p.camera.Capture(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("capture image: %w", err)
	}
	span.SetAttributes(attribute.Int("sight.image_bytes", len(image)))
	return image, nil
}

func (p *Pipeline) archiveCapture(ctx context.Context, key string, image []byte) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.archive",
		trace.WithAttributes(attribute.String("sight.archive_key", key)))
	defer span.End()

	if err := p.store.Put(ctx, key, image, "image/jpeg"); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) describe(ctx context.Context, image []byte) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.describe")
	defer span.End()

	description, err := p.vision.Describe(ctx, image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("describe image: %w", err)
	}
	return description, nil
}

// relay opens the WebSocket connection, authenticates, sends the
// observation, and collects text replies until the window closes.
func (p *Pipeline) relay(ctx context.Context, description string) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.relay",
		trace.WithAttributes(attribute.String("sight.relay_url", p.relayURL)))
	defer span.End()

	fail := func(err error) ([]string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conn, err := wsclient.Dial(ctx, p.relayURL, wsclient.WithLogger(p.logger))
	if err != nil {
		return fail(fmt.Errorf("connect relay: %w", err))
	}
	defer conn.Close()

	if err := conn.SendText(p.credential.String()); err != nil {
		return fail(fmt.Errorf("send credential: %w", err))
	}

	payload, err := sensory.NewMessage(description).Encode()
	if err != nil {
		return fail(err)
	}
	if err := conn.SendText(string(payload)); err != nil {
		return fail(fmt.Errorf("send observation: %w", err))
	}
	p.logger.Info("observation relayed", "user", p.credential.User)

	var replies []string
	err = conn.Listen(p.replyWindow, func(data []byte) {
		replies = append(replies, string(data))
		p.logger.Info("reply received", "payload", string(data))
	})
	if err != nil {
		return fail(fmt.Errorf("listen for replies: %w", err))
	}

	span.SetAttributes(attribute.Int("sight.replies", len(replies)))
	return replies, nil
}
