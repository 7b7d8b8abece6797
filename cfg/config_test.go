package cfg_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodefs/corefs/cfg"
)

func loadWithArgs(t *testing.T, args ...string) cfg.Config {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, cfg.BindFlags(v, fs))
	require.NoError(t, fs.Parse(args))
	c, err := cfg.Load(v)
	require.NoError(t, err)
	return c
}

func TestDefaultsAreValid(t *testing.T) {
	c := loadWithArgs(t)

	assert.NoError(t, cfg.Validate(&c))
	assert.Equal(t, cfg.Octal(0o644), c.FileSystem.FileMode)
	assert.Equal(t, cfg.Octal(0o755), c.FileSystem.DirMode)
	assert.Equal(t, 48, c.FileSystem.InodeIDBits)
	assert.True(t, c.FileSystem.CheckAccess)
	assert.Equal(t, 5*time.Second, c.Locking.WatchdogTimeout)
	assert.Equal(t, time.Second, c.Remote.Deadline)
	assert.Equal(t, "text", c.Logging.Format)
	assert.Equal(t, cfg.InfoLevel, c.Logging.Severity)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	c := loadWithArgs(t,
		"--file-mode=600",
		"--dir-mode=700",
		"--lock-watchdog-timeout=250ms",
		"--check-access=false",
		"--log-severity=debug",
	)

	assert.Equal(t, cfg.Octal(0o600), c.FileSystem.FileMode)
	assert.Equal(t, cfg.Octal(0o700), c.FileSystem.DirMode)
	assert.Equal(t, 250*time.Millisecond, c.Locking.WatchdogTimeout)
	assert.False(t, c.FileSystem.CheckAccess)
	assert.Equal(t, cfg.DebugLevel, c.Logging.Severity)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := loadWithArgs(t)

	c := base
	c.Locking.WatchdogTimeout = 0
	assert.Error(t, cfg.Validate(&c))

	c = base
	c.FileSystem.InodeIDBits = 64
	assert.Error(t, cfg.Validate(&c))

	c = base
	c.Logging.Format = "xml"
	assert.Error(t, cfg.Validate(&c))

	c = base
	c.Logging.LogRotate.MaxFileSizeMb = 0
	assert.Error(t, cfg.Validate(&c))
}

func TestOctalTextRoundTrip(t *testing.T) {
	var o cfg.Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.Equal(t, cfg.Octal(0o755), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))

	assert.Error(t, o.UnmarshalText([]byte("9z")))
}

func TestLogSeverityRanks(t *testing.T) {
	assert.Less(t, cfg.TraceLevel.Rank(), cfg.DebugLevel.Rank())
	assert.Less(t, cfg.DebugLevel.Rank(), cfg.InfoLevel.Rank())
	assert.Less(t, cfg.WarningLevel.Rank(), cfg.ErrorLevel.Rank())
	assert.Less(t, cfg.ErrorLevel.Rank(), cfg.OffLevel.Rank())

	var s cfg.LogSeverity
	assert.Error(t, s.UnmarshalText([]byte("loud")))
}
