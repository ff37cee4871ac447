// Command adcp is the single entry point for every role this service
// plays (recorder, processor, orchestrator, simulator, and the one-shot
// --replay path); the role is selected by the config file's mode key,
// the way the teacher CLI dispatched on its own flag set in main().
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/busoc/adcp-telemetry/internal/capture"
	"github.com/busoc/adcp-telemetry/internal/config"
	"github.com/busoc/adcp-telemetry/internal/heartbeat"
	"github.com/busoc/adcp-telemetry/internal/processing"
	"github.com/busoc/adcp-telemetry/internal/recorder"
	"github.com/busoc/adcp-telemetry/internal/store"
	"github.com/busoc/adcp-telemetry/internal/supervisor"
	"github.com/busoc/adcp-telemetry/internal/xerrors"
	"github.com/busoc/adcp-telemetry/internal/xlog"
)

const (
	Program = "adcp"
	Version = "0.1.0"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, helpText)
	}
}

const helpText = `usage: adcp [--config PATH] [--replay PATH] [--help]

  --config PATH   service configuration file (default: adcp.toml)
  --replay PATH   replay a single capture file through the parser and
                  persistence pipeline, then exit 0 (clean) or 1 (any
                  line failed to parse or persist)
  --help          print this message
`

func main() {
	var (
		configPath = flag.String("config", "adcp.toml", "service configuration file")
		replayPath = flag.String("replay", "", "replay a single capture file and exit")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Fprintf(os.Stderr, "%s-%s\n", Program, Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		xerrors.Exit(err)
		return
	}
	log := xlog.New(cfg.ServiceName, cfg.LogLevel, os.Stderr)

	if *replayPath != "" {
		os.Exit(runReplay(cfg, *replayPath, log))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch cfg.Mode {
	case config.ModeRecording:
		runErr = runRecording(ctx, cfg, log)
	case config.ModeProcessing:
		runErr = runProcessing(ctx, cfg, log)
	case config.ModeOrchestrator:
		runErr = runOrchestrator(ctx, cfg, *configPath, log)
	case config.ModeSimulator:
		runErr = runRecording(ctx, cfg, log) // simulator drives the same pipeline off a FileSource
	default:
		runErr = xerrors.BadUsage("mode %q is not recognized", cfg.Mode)
	}
	if runErr != nil && ctx.Err() == nil {
		xerrors.Exit(xerrors.Generic(runErr))
	}
}

func runReplay(cfg *config.AppConfig, path string, log zerolog.Logger) int {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("open replay file failed")
		return 1
	}
	dest, err := store.Open(cfg.DataDirectory, cfg.ServiceName)
	if err != nil {
		log.Error().Err(err).Msg("prepare persistence failed")
		return 1
	}
	defer dest.Close()

	result := processing.ReplayFile(string(content), dest, log)
	log.Info().
		Int("frames", result.FramesProcessed).
		Int("parse_errors", result.ParseErrors).
		Int("persistence_errors", result.PersistenceErrors).
		Msg("replay completed")

	if result.ParseErrors > 0 || result.PersistenceErrors > 0 {
		return 1
	}
	return 0
}

func runRecording(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) error {
	var source recorder.Source
	var sourceName string
	var err error
	if cfg.Mode == config.ModeSimulator && cfg.SampleFile != "" {
		source, err = recorder.OpenFileSource(cfg.SampleFile)
		sourceName = cfg.SampleFile
	} else {
		source, err = recorder.OpenSerialSource(cfg.SerialPort, int(cfg.BaudRate))
		sourceName = cfg.SerialPort
	}
	if err != nil {
		return xerrors.Source(err)
	}

	archival, err := capture.NewArchival(cfg.BackupFolder)
	if err != nil {
		return err
	}
	handoffSink, err := capture.NewHandoff(cfg.DataProcessFolder)
	if err != nil {
		return err
	}
	dest, err := store.Open(cfg.DataDirectory, cfg.ServiceName)
	if err != nil {
		return err
	}

	heartbeatComponent := "recorder"
	if cfg.Mode == config.ModeSimulator {
		heartbeatComponent = "simulator"
	}

	stability := time.Duration(cfg.FileStabilitySeconds) * time.Second
	pipeline := &recorder.Pipeline{
		Source:           source,
		SourceName:       sourceName,
		Archival:         archival,
		Handoff:          handoffSink,
		HandoffDir:       cfg.DataProcessFolder,
		Dest:             dest,
		HeartbeatPath:    cfg.HeartbeatPath(heartbeatComponent),
		HeartbeatCadence: heartbeat.Cadence(stability),
		IdleThreshold:    time.Duration(cfg.IdleThresholdSeconds) * time.Second,
		AlertWebhook:     cfg.AlertWebhook,
		Log:              log,
	}
	return pipeline.Run(ctx)
}

func runProcessing(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) error {
	dest, err := store.Open(cfg.DataDirectory, cfg.ServiceName)
	if err != nil {
		return err
	}
	stability := time.Duration(cfg.FileStabilitySeconds) * time.Second
	poller := &processing.Poller{
		HandoffDir:       cfg.DataProcessFolder,
		ProcessedDir:     cfg.ProcessedFolder,
		StabilityAfter:   stability,
		HeartbeatPath:    cfg.HeartbeatPath("processing"),
		HeartbeatCadence: heartbeat.Cadence(stability),
		Dest:             dest,
		Log:              log,
	}
	return poller.Run(ctx)
}

func runOrchestrator(ctx context.Context, cfg *config.AppConfig, configPath string, log zerolog.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}
	configDir := filepath.Dir(configPath)

	children := []supervisor.ChildSpec{
		{
			Name:          "recorder",
			Binary:        self,
			Args:          []string{"--config", filepath.Join(configDir, cfg.ServiceName+"-recorder.toml")},
			HeartbeatPath: cfg.HeartbeatPath("recorder"),
		},
		{
			Name:          "processing",
			Binary:        self,
			Args:          []string{"--config", filepath.Join(configDir, cfg.ServiceName+"-processing.toml")},
			HeartbeatPath: cfg.HeartbeatPath("processing"),
		},
	}
	if cfg.SampleFile != "" {
		children = append(children, supervisor.ChildSpec{
			Name:          "simulator",
			Binary:        self,
			Args:          []string{"--config", filepath.Join(configDir, cfg.ServiceName+"-simulator.toml")},
			HeartbeatPath: cfg.HeartbeatPath("simulator"),
		})
	}

	stability := time.Duration(cfg.FileStabilitySeconds) * time.Second
	staleAfter := 10 * time.Second
	if threshold := 3 * stability; threshold > staleAfter {
		staleAfter = threshold
	}

	sup := &supervisor.Supervisor{
		Children:     children,
		StaleAfter:   staleAfter,
		PIDPath:      cfg.PIDPath("supervisor"),
		HandoffDir:   cfg.DataProcessFolder,
		ProcessedDir: cfg.ProcessedFolder,
		Log:          log,
	}
	return sup.Run(ctx)
}
