package errors

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	logDirEnv     = "SPECTREIMPORT_LOG_DIR"
	logFileName   = "spectreimport.log"
	maxLogSize    = 10 << 20
	maxLogBackups = 5
)

// defaultLogDir returns SPECTREIMPORT_LOG_DIR when set, otherwise a logs
// directory under the user cache dir.
func defaultLogDir() (string, error) {
	if dir := os.Getenv(logDirEnv); dir != "" {
		return dir, nil
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache directory: %w", err)
	}
	return filepath.Join(cacheDir, "spectreimport", "logs"), nil
}

// resolveLogDir returns a writable log directory, falling back to the
// working directory. The bool reports whether the fallback was used.
func resolveLogDir() (string, bool, error) {
	dir, err := defaultLogDir()
	if err == nil {
		if err = ensureWritable(dir); err == nil {
			return dir, false, nil
		}
	}
	fmt.Fprintf(os.Stderr, "Warning: cannot use log directory %q: %v. Logging to the current directory.\n", dir, err)

	cwd, err := os.Getwd()
	if err != nil {
		return "", true, fmt.Errorf("determine current directory for logging: %w", err)
	}
	return cwd, true, nil
}

func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	check, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	name := check.Name()
	if err := check.Close(); err != nil {
		slog.Warn("Failed to close log directory write check", "path", name, "error", err)
	}
	return os.Remove(name)
}

// rotateLog shifts path to path.1, path.1 to path.2 and so on, dropping
// whatever would become path.(keep+1).
func rotateLog(path string, keep int) error {
	backup := func(n int) string { return fmt.Sprintf("%s.%d", path, n) }

	if err := os.Remove(backup(keep)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove old log file", "path", backup(keep), "error", err)
	}
	for n := keep - 1; n >= 1; n-- {
		if err := os.Rename(backup(n), backup(n+1)); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to rotate log file", "from", backup(n), "to", backup(n+1), "error", err)
		}
	}
	if err := os.Rename(path, backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// rotateIfLarge rotates path once it reaches limit bytes. A missing file is
// not an error.
func rotateIfLarge(path string, limit int64) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < limit {
		return nil
	}
	return rotateLog(path, maxLogBackups)
}

func openLogFile() (*os.File, error) {
	dir, _, err := resolveLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	if err := rotateIfLarge(path, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to rotate log file: %v\n", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
