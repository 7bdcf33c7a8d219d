package core

import (
	"os"
	"path/filepath"
)

type Paths struct {
	HomeDir       string
	DataDir       string
	LogFile       string
	SettingsFile  string
	AnalyticsFile string
	SocketFile    string
}

var defaultPaths *Paths

func ensureDefaultPaths() {
	if defaultPaths == nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic(err)
		}

		dataDir := filepath.Join(homeDir, ".local", "share", "autotab")
		defaultPaths = &Paths{
			HomeDir:       homeDir,
			DataDir:       dataDir,
			LogFile:       filepath.Join(dataDir, "autotab.log"),
			SettingsFile:  filepath.Join(dataDir, "settings.db"),
			AnalyticsFile: filepath.Join(dataDir, "analytics.db"),
			SocketFile:    filepath.Join(dataDir, "autotab.sock"),
		}

		err = os.MkdirAll(defaultPaths.DataDir, 0755)
		if err != nil {
			panic(err)
		}
	}
}

func HomeDir() string {
	ensureDefaultPaths()
	return defaultPaths.HomeDir
}

func DataDir() string {
	ensureDefaultPaths()
	return defaultPaths.DataDir
}

func LogFile() string {
	ensureDefaultPaths()
	return defaultPaths.LogFile
}

func SettingsFile() string {
	ensureDefaultPaths()
	return defaultPaths.SettingsFile
}

func AnalyticsFile() string {
	ensureDefaultPaths()
	return defaultPaths.AnalyticsFile
}

// SocketFile is where the daemon listens unless AUTOTAB_SOCKET says otherwise.
func SocketFile() string {
	ensureDefaultPaths()
	return defaultPaths.SocketFile
}
