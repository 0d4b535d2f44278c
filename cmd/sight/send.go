package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/sight-dev/sight/internal/archive"
	"github.com/sight-dev/sight/internal/camera"
	"github.com/sight-dev/sight/internal/config"
	"github.com/sight-dev/sight/internal/pipeline"
	"github.com/sight-dev/sight/internal/vision"
	"github.com/sight-dev/sight/pkg/sensory"
)

func sendCmd() *cobra.Command {
	var (
		dryRun  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Capture, describe, and relay one observation",
		Long: `Capture one webcam frame, describe it with a vision model, and
relay the description as a sensory observation.

The relay expects a credential frame ("user:token") followed by a
JSON observation. After sending, the command listens for replies
until the reply window closes.

Configuration comes from the environment:
  WS_URL, USER_NAME, WEB_AUTH_TOKEN, WS_REPLY_WINDOW_SECONDS
  OPENAI_API_KEY (required), OPENAI_MODEL, OPENAI_BASE_URL,
  OPENAI_TIMEOUT_SECONDS
  FSWEBCAM_CMD, CAPTURE_DEVICE, CAPTURE_RESOLUTION
  ARCHIVE_DIR, ARCHIVE_S3_BUCKET, ARCHIVE_S3_PREFIX

Examples:
  sight send
  sight send --dry-run
  WS_URL=ws://relay.example.com/ sight send`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(dryRun, verbose)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Describe the capture but skip the relay")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runSend(dryRun, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSend(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			errorMsg("OPENAI_API_KEY is not set")
			info("Export it before running sight send")
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(pipeline.Config{
		Camera: camera.New(
			camera.WithCommand(cfg.Capture.Command),
			camera.WithDevice(cfg.Capture.Device),
			camera.WithResolution(cfg.Capture.Resolution),
			camera.WithLogger(logger),
		),
		Vision: vision.New(cfg.Vision.APIKey,
			vision.WithModel(cfg.Vision.Model),
			vision.WithBaseURL(cfg.Vision.BaseURL),
			vision.WithTimeout(cfg.Vision.Timeout),
			vision.WithLogger(logger),
		),
		Store:       newStore(cfg),
		RelayURL:    cfg.Relay.URL,
		Credential:  sensory.Credential{User: cfg.Relay.UserName, Token: cfg.Relay.AuthToken},
		ReplyWindow: cfg.Relay.ReplyWindow,
		Logger:      logger,
	})

	res, err := p.Run(ctx, dryRun)
	if err != nil {
		return err
	}

	success("Captured image (%d bytes)", res.ImageBytes)
	if res.ArchiveKey != "" {
		info("Archived as %s", res.ArchiveKey)
	}
	success("Image described: %s", res.Description)
	if res.DryRun {
		warn("Dry run, not sending to the relay")
		return nil
	}
	success("Observation relayed to %s", cfg.Relay.URL)
	for _, reply := range res.Replies {
		info("Reply: %s", reply)
	}
	return nil
}

// newStore picks the archive backend: S3 when a bucket is set, the
// local directory when configured, otherwise none.
func newStore(cfg *config.Config) archive.Store {
	if cfg.Archive.S3Bucket != "" {
		return archive.NewS3Store(newS3Client(), cfg.Archive.S3Bucket, cfg.Archive.S3Prefix)
	}
	if cfg.Archive.Dir != "" {
		return archive.NewDiskStore(cfg.Archive.Dir)
	}
	return nil
}

// newS3Client builds an S3 client directly from AWS_* environment
// variables.
func newS3Client() *s3.Client {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			}, nil
		}),
	})
}
