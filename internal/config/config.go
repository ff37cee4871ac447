// Package config loads the TOML service configuration, the way the
// teacher CLI's Assist.Load did for its own schedule-generation settings,
// but for the ADCP acquisition service's components.
package config

import (
	"fmt"
	"strings"

	"github.com/midbel/toml"

	"github.com/busoc/adcp-telemetry/internal/xerrors"
)

// Mode selects which component of the service a process instance runs.
type Mode string

const (
	ModeRecording    Mode = "recording"
	ModeProcessing   Mode = "processing"
	ModeOrchestrator Mode = "orchestrator"
	ModeSimulator    Mode = "simulator"
)

// SplitMode selects the persistence rotation cadence. Only Daily is
// implemented; Weekly decodes but is rejected at startup (see Validate).
type SplitMode string

const (
	SplitDaily  SplitMode = "daily"
	SplitWeekly SplitMode = "weekly"
)

const (
	DefaultServiceName = "adcp-supervisor"

	defaultLogLevel             = "info"
	defaultDataDirectory        = "./deployment/data"
	defaultBaudRate             = 115200
	defaultIdleThresholdSeconds = 30
	defaultBackupFolder         = "./deployment/backup"
	defaultDataProcessFolder    = "./deployment/to_process"
	defaultProcessedFolder      = "./deployment/processed"
	defaultFileStabilitySeconds = 5

	// TmpDir holds heartbeat and PID files, per spec.md's "ambient OS
	// facility" treatment of process bookkeeping.
	TmpDir = "./deployment/tmp"
)

// AppConfig is the decoded, defaulted service configuration.
type AppConfig struct {
	ServiceName string `toml:"service_name"`
	LogLevel    string `toml:"log_level"`

	DataDirectory string `toml:"data_directory"`

	SerialPort string `toml:"serial_port"`
	BaudRate   uint32 `toml:"baud_rate"`

	IdleThresholdSeconds uint64 `toml:"idle_threshold_seconds"`
	AlertWebhook         string `toml:"alert_webhook"`

	Mode Mode `toml:"mode"`

	BackupFolder      string `toml:"backup_folder"`
	DataProcessFolder string `toml:"data_process_folder"`
	ProcessedFolder   string `toml:"processed_folder"`

	SplitMode SplitMode `toml:"split_mode"`

	MaxBackupFiles   *int    `toml:"max_backup_files"`
	MaxBackupAgeDays *uint64 `toml:"max_backup_age_days"`

	FileStabilitySeconds uint64 `toml:"file_stability_seconds"`

	SampleFile string `toml:"sample_file"`
}

// Default returns the configuration the service boots with when a key is
// absent from the TOML file, mirroring the teacher's Assist.Default().
func Default() *AppConfig {
	return &AppConfig{
		ServiceName:          DefaultServiceName,
		LogLevel:             defaultLogLevel,
		DataDirectory:        defaultDataDirectory,
		BaudRate:             defaultBaudRate,
		IdleThresholdSeconds: defaultIdleThresholdSeconds,
		Mode:                 ModeRecording,
		BackupFolder:         defaultBackupFolder,
		DataProcessFolder:    defaultDataProcessFolder,
		ProcessedFolder:      defaultProcessedFolder,
		SplitMode:            SplitDaily,
		FileStabilitySeconds: defaultFileStabilitySeconds,
	}
}

// Load decodes file over the defaults and validates the result. Unknown
// keys are tolerated, as spec.md §6 requires.
func Load(file string) (*AppConfig, error) {
	c := Default()
	if err := toml.DecodeFile(file, c); err != nil {
		return nil, xerrors.Config(fmt.Errorf("invalid configuration file %s: %w", file, err))
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultServiceName
	}
	if err := c.Validate(); err != nil {
		return nil, xerrors.Config(err)
	}
	return c, nil
}

// Validate rejects configurations the service cannot act on.
func (c *AppConfig) Validate() error {
	switch c.Mode {
	case ModeRecording, ModeProcessing, ModeOrchestrator, ModeSimulator:
	default:
		return fmt.Errorf("mode %q is not recognized", c.Mode)
	}
	switch c.SplitMode {
	case SplitDaily:
	case SplitWeekly:
		return fmt.Errorf("split_mode %q is not implemented", c.SplitMode)
	default:
		return fmt.Errorf("split_mode %q is not recognized", c.SplitMode)
	}
	if c.FileStabilitySeconds == 0 {
		return fmt.Errorf("file_stability_seconds must be greater than zero")
	}
	return nil
}

// HeartbeatPath returns the per-service heartbeat file path under the
// shared tmp directory.
func (c *AppConfig) HeartbeatPath(component string) string {
	return fmt.Sprintf("%s/%s-%s.heartbeat", TmpDir, c.ServiceName, component)
}

// PIDPath returns the per-service PID file path.
func (c *AppConfig) PIDPath(component string) string {
	return fmt.Sprintf("%s/%s-%s.pid", TmpDir, c.ServiceName, component)
}
