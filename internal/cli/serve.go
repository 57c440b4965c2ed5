package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/dispatch"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/journal"
	"github.com/roach88/visiontool/internal/protocol"
	"github.com/roach88/visiontool/internal/serialport"
	"github.com/roach88/visiontool/internal/status"
	"github.com/roach88/visiontool/internal/storage"
	"github.com/roach88/visiontool/internal/vision"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Port       string
	FramesDir  string
	LogFile    string
	Journal    string

	// OpenPort allows overriding the serial port (for testing).
	// If nil, defaults to serialport.Open.
	OpenPort func(path string, opts serialport.Options) (io.ReadWriteCloser, error)

	// SessionIDs allows overriding the session id generator (for testing).
	// If nil, the dispatcher generates UUIDv7 ids.
	SessionIDs dispatch.IDGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve vision requests on the serial port",
		Long: `Serve vision requests on the serial port until interrupted.

The runtime boots the camera, applies device overrides from config.json on
the storage card, loads enrolled face templates and then answers one request
line at a time.

Example:
  visiontool serve --config /etc/visiontool.yaml
  visiontool serve --port /dev/ttyUSB0 --frames-dir ./bench --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (defaults apply when empty)")
	cmd.Flags().StringVar(&opts.Port, "port", "", "serial device (overrides serial.port)")
	cmd.Flags().StringVar(&opts.FramesDir, "frames-dir", "", "serve camera frames from image files in this directory")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "also write logs to this file, rotated")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "request journal database (overrides journal.path)")

	return cmd
}

// newLogger configures slog the same way for every long-running command.
func newLogger(verbose bool, stderr io.Writer, logFile string) (*slog.Logger, io.Closer) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	var out io.Writer = stderr
	var closer io.Closer = io.NopCloser(nil)
	if logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		out = io.MultiWriter(stderr, rotating)
		closer = rotating
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler), closer
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger, logCloser := newLogger(opts.Verbose, cmd.ErrOrStderr(), opts.LogFile)
	defer logCloser.Close()
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Port != "" {
		cfg.Serial.Port = opts.Port
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}

	// Status sinks come up first so boot is visible.
	sink, closeSink := openStatus(cfg, logger)
	defer closeSink()
	sink.Set(hal.StateBoot)

	openPort := opts.OpenPort
	if openPort == nil {
		openPort = serialport.Open
	}
	logger.Info("opening serial port", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
	port, err := openPort(cfg.Serial.Port, serialport.Options{
		BaudRate:    cfg.Serial.Baud,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		sink.Set(hal.StateError)
		return WrapExitError(ExitCommandError, "failed to open serial port", err)
	}
	defer func() {
		if closeErr := port.Close(); closeErr != nil {
			logger.Error("error closing serial port", "error", closeErr)
		}
	}()

	sd := storage.NewOS(cfg.Storage)
	if !sd.Available() {
		logger.Warn("storage unavailable", "root", cfg.Storage.Root)
	}

	var camera hal.Camera = hal.NullCamera{}
	if opts.FramesDir != "" {
		camera = hal.NewDirCamera(opts.FramesDir)
	}
	rt := vision.New(camera, hal.NullAccelerator{}, sd, cfg, vision.WithLogger(logger))
	if bootErr := rt.Boot(); bootErr != nil {
		logger.Warn("boot incomplete", "error", bootErr)
	}

	framer := protocol.NewFramer(port,
		protocol.WithMaxLineBytes(cfg.Serial.MaxLineBytes),
		protocol.WithMaxWriteBytes(cfg.Protocol.MaxJSONBytes),
	)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithStatus(sink),
		dispatch.WithLimits(cfg.Protocol),
	}
	if opts.SessionIDs != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithIDGenerator(opts.SessionIDs))
	}

	if cfg.Journal.Path != "" {
		st, pruner, jerr := openJournal(cfg, logger)
		if jerr != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", jerr)
		}
		defer func() {
			if closeErr := multierr.Combine(pruner.Stop(), st.Close()); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(st))
	}

	d := dispatch.New(rt, framer, dispatchOpts...)

	serverOpts := []dispatch.ServerOption{
		dispatch.WithServerLogger(logger),
		dispatch.WithServerStatus(sink),
	}
	modelsDir := path.Join(cfg.Storage.Root, cfg.Storage.ModelsDir)
	if watcher, werr := storage.Watch(modelsDir, logger); werr != nil {
		logger.Warn("model watch disabled", "dir", modelsDir, "error", werr)
	} else {
		defer watcher.Close()
		serverOpts = append(serverOpts, dispatch.WithModelReload(watcher, rt.ReloadModels))
	}
	server := dispatch.NewServer(framer, d, cfg.LineTimeout(), serverOpts...)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s (session %s). Press Ctrl-C to stop.\n",
		cfg.Serial.Port, d.SessionID())

	if err := server.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "serve error", err)
	}

	rt.Recover()
	logger.Info("stopped gracefully")
	return nil
}

// openStatus builds the indicator: a log sink, plus the GPIO pin when
// configured and present.
func openStatus(cfg *config.Config, logger *slog.Logger) (hal.StatusSink, func()) {
	sinks := status.Multi{status.LogSink{Logger: logger}}
	if cfg.Status.GPIOPin == "" {
		return sinks, func() {}
	}
	pin, err := status.OpenGPIO(cfg.Status.GPIOPin, logger)
	if err != nil {
		logger.Warn("status pin unavailable", "pin", cfg.Status.GPIOPin, "error", err)
		return sinks, func() {}
	}
	sinks = append(sinks, pin)
	return sinks, func() { pin.Set(hal.StateIdle) }
}

func openJournal(cfg *config.Config, logger *slog.Logger) (*journal.Store, *journal.Pruner, error) {
	logger.Info("opening journal", "path", cfg.Journal.Path)
	st, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	pruner, err := journal.StartPruner(st, cfg.Retention(), cfg.PruneInterval(), logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, pruner, nil
}
