package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔═╗╦╔═╗╦ ╦╔╦╗
  ╚═╗║║ ╦╠═╣ ║
  ╚═╝╩╚═╝╩ ╩ ╩
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "sight",
		Short: "Webcam observations over a WebSocket relay",
		Long: `Sight captures a webcam image, asks a vision model to describe
it, and relays the description as a sensory observation over a
WebSocket connection.

  • sight send   capture, describe, and relay one observation
  • sight serve  run a local relay sink for development

Configuration is read from the environment; run either command
with --help for the variable list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		sendCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the Sight ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// newLogger builds the process logger writing to stderr.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
