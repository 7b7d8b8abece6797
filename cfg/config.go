// Package cfg holds the runtime tunables of the virtual file system:
// default permission bits, lock-watchdog and remote deadlines, the
// ACL and access-check toggles, and logging. Values are bound to
// pflag flags and unmarshalled through viper so a config file and
// command-line flags feed one Config struct.
package cfg

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Locking LockingConfig `yaml:"locking"`

	Remote RemoteConfig `yaml:"remote"`

	Logging LoggingConfig `yaml:"logging"`
}

type DebugConfig struct {
	// ExitOnInvariantViolation and LogMutex are parsed from config and
	// flags; no component in this module reads them.
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type FileSystemConfig struct {
	FileMode Octal `yaml:"file-mode"`

	DirMode Octal `yaml:"dir-mode"`

	Uid int64 `yaml:"uid"`

	Gid int64 `yaml:"gid"`

	// EnforceAcls evaluates system.posix_acl_access xattrs during
	// access checks instead of plain mode bits when present.
	EnforceAcls bool `yaml:"enforce-acls"`

	// CheckAccess gates all permission checking; test harnesses turn
	// it off wholesale.
	CheckAccess bool `yaml:"check-access"`

	// InodeIDBits is the width of the random inode ID space.
	InodeIDBits int `yaml:"inode-id-bits"`
}

type LockingConfig struct {
	// WatchdogTimeout is how long a waiter may block on a path lock
	// before failing EDEADLK.
	WatchdogTimeout time.Duration `yaml:"watchdog-timeout"`
}

type RemoteConfig struct {
	// Deadline bounds a single request against a remote store.
	Deadline time.Duration `yaml:"deadline"`
}

type LoggingConfig struct {
	// FilePath sends logs to a rotating file instead of stderr when
	// non-empty.
	FilePath string `yaml:"file-path"`

	Format string `yaml:"format"`

	Severity LogSeverity `yaml:"severity"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`
}

// BindFlags declares every config key as a flag on flagSet and binds
// it into v, so flag defaults double as config defaults.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	flagSet.StringP("app-name", "", "", "The application name of this process.")
	if err := v.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Sets debug.exit-on-invariant-violation; no component reads it.")
	if err := v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Sets debug.log-mutex; no component reads it.")
	if err := v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.StringP("file-mode", "", "644", "Permission bits for new files, in octal.")
	if err := v.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "755", "Permission bits for new directories, in octal.")
	if err := v.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.Int64P("uid", "", 0, "UID owning new file system objects.")
	if err := v.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.Int64P("gid", "", 0, "GID owning new file system objects.")
	if err := v.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.BoolP("enforce-acls", "", true, "Evaluate POSIX ACL xattrs during access checks.")
	if err := v.BindPFlag("file-system.enforce-acls", flagSet.Lookup("enforce-acls")); err != nil {
		return err
	}

	flagSet.BoolP("check-access", "", true, "Enable permission checking.")
	if err := v.BindPFlag("file-system.check-access", flagSet.Lookup("check-access")); err != nil {
		return err
	}

	flagSet.IntP("inode-id-bits", "", 48, "Width of the random inode ID space.")
	if err := v.BindPFlag("file-system.inode-id-bits", flagSet.Lookup("inode-id-bits")); err != nil {
		return err
	}

	flagSet.DurationP("lock-watchdog-timeout", "", 5*time.Second, "How long a path-lock waiter may block before EDEADLK.")
	if err := v.BindPFlag("locking.watchdog-timeout", flagSet.Lookup("lock-watchdog-timeout")); err != nil {
		return err
	}

	flagSet.DurationP("remote-deadline", "", time.Second, "Deadline for a single remote-store request.")
	if err := v.BindPFlag("remote.deadline", flagSet.Lookup("remote-deadline")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Log to this file, rotated, instead of stderr.")
	if err := v.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log format: text or json.")
	if err := v.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum severity to log: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := v.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "Rotate the log file once it reaches this size.")
	if err := v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "How many rotated log files to retain; 0 retains all.")
	if err := v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files.")
	if err := v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress")); err != nil {
		return err
	}

	return nil
}

// Load unmarshals v into a Config. Field names follow the yaml tags,
// and types implementing encoding.TextUnmarshaler (Octal, LogSeverity)
// decode from their flag/string form.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	err := v.Unmarshal(&c,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		)),
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
	)
	if err != nil {
		return Config{}, err
	}
	return c, nil
}
