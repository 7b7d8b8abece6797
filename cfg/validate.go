package cfg

import "fmt"

const (
	maxInodeIDBits = 48
	minInodeIDBits = 16
)

func isValidLogRotateConfig(c *LogRotateLoggingConfig) error {
	if c.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if c.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLoggingConfig(c *LoggingConfig) error {
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", c.Format)
	}
	var sev LogSeverity
	if err := sev.UnmarshalText([]byte(c.Severity)); err != nil {
		return err
	}
	return isValidLogRotateConfig(&c.LogRotate)
}

// Validate rejects configs no component can run with.
func Validate(c *Config) error {
	if c.Locking.WatchdogTimeout <= 0 {
		return fmt.Errorf("locking watchdog-timeout must be positive")
	}
	if c.Remote.Deadline <= 0 {
		return fmt.Errorf("remote deadline must be positive")
	}
	if c.FileSystem.InodeIDBits < minInodeIDBits || c.FileSystem.InodeIDBits > maxInodeIDBits {
		return fmt.Errorf("inode-id-bits must be in [%d, %d]", minInodeIDBits, maxInodeIDBits)
	}
	if c.FileSystem.FileMode&^0o7777 != 0 {
		return fmt.Errorf("file-mode has bits outside the permission range")
	}
	if c.FileSystem.DirMode&^0o7777 != 0 {
		return fmt.Errorf("dir-mode has bits outside the permission range")
	}
	return isValidLoggingConfig(&c.Logging)
}
