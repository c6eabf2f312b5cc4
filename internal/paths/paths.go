// Package paths centralizes file and directory names used by the collector
// daemon and by monitored processes that need to find it.
package paths

import (
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "freezewatchd.pid"
	LockFile   = "freezewatchd.lock"
	ConfigFile = "config.toml"
	LogFile    = "freezewatchd.log"
	SpoolDir   = "spool"
	ReportExt  = ".json"
	SocketFile = "freezewatch.sock"
)

// Locations.
const (
	DataDirRel = ".freezewatch" // relative to $HOME
	// EnvDataDir overrides the default data directory.
	EnvDataDir = "FREEZEWATCH_HOME"
	// PipeName is the Windows named pipe the daemon listens on.
	PipeName = `\\.\pipe\freezewatch`
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// DefaultDataDir returns $FREEZEWATCH_HOME when set, else ~/.freezewatch,
// or ./.freezewatch when the home directory cannot be determined.
func DefaultDataDir() DataDir {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return DataDir{Root: dir}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDir{Root: filepath.Join(".", DataDirRel)}
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Lock returns the file the daemon's single-instance lock is held on.
func (d DataDir) Lock() string { return filepath.Join(d.Root, LockFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Spool returns the directory holding undelivered reports.
func (d DataDir) Spool() string { return filepath.Join(d.Root, SpoolDir) }

// Socket returns the Unix socket path the daemon listens on.
func (d DataDir) Socket() string { return filepath.Join(d.Root, SocketFile) }
