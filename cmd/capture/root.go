package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
	"github.com/e7canasta/orion-care-sensor/modules/stream-record/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/stream-record/internal/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/stream-record/internal/notify"
	"github.com/e7canasta/orion-care-sensor/modules/stream-record/internal/pidfile"
	"github.com/e7canasta/orion-care-sensor/modules/stream-record/internal/rtsp"
)

const usageExample = `  # record 10 seconds of channel 1 to a file
  capture 10.17.4.118 1 10 out.264

  # record a playable stream until a signal is received
  capture 10.17.4.118 1 0 - | ffmpeg -i - -vcodec copy -f mp4 video.mp4`

// maxSeconds is the longest capture a time.Duration can represent
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// invocation holds the positional arguments
type invocation struct {
	host        string
	channel     string
	duration    time.Duration
	destination string
	pidFile     string
}

func parseArgs(args []string) (invocation, error) {
	if len(args) < 4 || len(args) > 5 {
		return invocation{}, errors.Errorf("expected 4 or 5 arguments, got %d", len(args))
	}

	inv := invocation{
		host:        args[0],
		channel:     args[1],
		destination: args[3],
	}
	if len(args) == 5 {
		inv.pidFile = args[4]
	}

	if inv.host == "" || inv.channel == "" || inv.destination == "" {
		return invocation{}, errors.New("sourceHost, channel and outputDestination must not be empty")
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(args[2]), 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return invocation{}, errors.Errorf("invalid seconds %q (must be a number, 0 = until signalled)", args[2])
	}
	if seconds < 0 {
		return invocation{}, errors.Errorf("seconds must not be negative, got %s", args[2])
	}
	if seconds >= maxSeconds {
		return invocation{}, errors.Errorf("seconds must be below %.0f, got %s", maxSeconds, args[2])
	}
	inv.duration = time.Duration(math.Round(seconds * float64(time.Second)))
	if seconds > 0 && inv.duration == 0 {
		return invocation{}, errors.Errorf("seconds %s is below one nanosecond (use 0 to record until signalled)", args[2])
	}

	return inv, nil
}

// newRootCommand builds the command. The process exit status is stored in
// *exit once RunE returns.
func newRootCommand(stderr io.Writer, exit *streamrecord.ExitCode) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture <sourceHost> <channel> <seconds> <outputDestination> [pidFile]",
		Short: "Record the compressed frames of an RTSP camera channel",
		Long: `Record the compressed frames of an RTSP camera channel to a file or stdout.

seconds may be fractional; 0 records until SIGINT or SIGTERM.
outputDestination "-" writes the raw stream to stdout.
Settings are read from CAPTURE_* environment variables (see CAPTURE_CONFIG).`,
		Example:       usageExample,
		Args:          cobra.RangeArgs(4, 5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := parseArgs(args)
			if err != nil {
				return err
			}

			settings, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := newLogger(stderr, settings)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			client, err := newClient(settings, logger)
			if err != nil {
				return err
			}

			*exit = runCapture(cmd.Context(), inv, client, settings, logger)
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetErr(stderr)
	cmd.SetOut(stderr)
	return cmd
}

// execute runs the command line and returns the process exit status
func execute(args []string, stderr io.Writer) int {
	exit := streamrecord.ExitOK
	cmd := newRootCommand(stderr, &exit)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(stderr, "Error: ")
		fmt.Fprintf(stderr, "%v\n\n%s", err, cmd.UsageString())
		return int(streamrecord.ExitStartFailure)
	}
	return int(exit)
}

func newLogger(w io.Writer, s config.Settings) (*slog.Logger, error) {
	level, err := s.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	// stdout may carry the video stream, so logs always go to stderr
	if strings.EqualFold(s.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newClient(s config.Settings, logger *slog.Logger) (streamrecord.StreamingClient, error) {
	switch s.Backend {
	case config.BackendGortsplib:
		return rtsp.NewClient(
			rtsp.WithReadTimeout(s.ReadTimeout),
			rtsp.WithLogger(logger),
		), nil
	case config.BackendGStreamer:
		return gstreamer.NewClient(
			gstreamer.WithCodec(s.Codec),
			gstreamer.WithLatency(s.Latency),
			gstreamer.WithLogger(logger),
		), nil
	default:
		return nil, errors.Errorf("unknown backend %q", s.Backend)
	}
}

// connectNotifier returns nil when notifications are disabled or the broker
// is unreachable; notifications are best-effort.
func connectNotifier(s config.Settings, logger *slog.Logger) *notify.Publisher {
	if s.NotifyURL == "" {
		return nil
	}

	enc, err := notify.ParseEncoding(s.NotifyEncoding)
	if err != nil {
		logger.Warn("capture: lifecycle notifications disabled", "error", err)
		return nil
	}

	pub, err := notify.Connect(s.NotifyURL,
		notify.WithSubject(s.NotifySubject),
		notify.WithEncoder(enc),
		notify.WithLogger(logger),
	)
	if err != nil {
		logger.Warn("capture: lifecycle notifications disabled", "error", err)
		return nil
	}
	return pub
}

// runCapture performs one capture and returns the exit status. The pid file,
// when requested, exists for the whole capture and is removed on every path.
func runCapture(ctx context.Context, inv invocation, client streamrecord.StreamingClient, s config.Settings, logger *slog.Logger) streamrecord.ExitCode {
	url, err := s.SourceURL(inv.host, inv.channel)
	if err != nil {
		logger.Error("capture: invalid source", "error", err)
		return streamrecord.ExitStartFailure
	}
	transport, err := s.ParsedTransport()
	if err != nil {
		logger.Error("capture: invalid transport", "error", err)
		return streamrecord.ExitStartFailure
	}

	if inv.pidFile != "" {
		if err := pidfile.Write(inv.pidFile); err != nil {
			logger.Error("capture: failed to write pid file", "error", err, "path", inv.pidFile)
			return streamrecord.ExitStartFailure
		}
		defer func() {
			if err := pidfile.Remove(inv.pidFile); err != nil {
				logger.Warn("capture: failed to remove pid file", "error", err, "path", inv.pidFile)
			}
		}()
	}

	sink, err := streamrecord.OpenSink(inv.destination)
	if err != nil {
		logger.Error("capture: failed to open output", "error", err, "destination", inv.destination)
		return streamrecord.ExitStartFailure
	}

	var sessionOpts []streamrecord.SessionOption
	if pub := connectNotifier(s, logger); pub != nil {
		defer pub.Close()
		sessionOpts = append(sessionOpts, streamrecord.WithObserver(pub))
	}

	sup := streamrecord.NewSupervisor(client, sink,
		streamrecord.WithSupervisorLogger(logger),
		streamrecord.WithSessionOptions(sessionOpts...),
	)

	return sup.Run(ctx, streamrecord.Config{
		SourceURL: url,
		Transport: transport,
		Duration:  inv.duration,
	})
}
