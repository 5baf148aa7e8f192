package logs

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"

	appDirName = "notionfast"
)

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	switch runtime.GOOS {
	case osWindows:
		return getWindowsLogDir()
	case osDarwin:
		return getMacOSLogDir()
	default:
		return getLinuxLogDir()
	}
}

// getWindowsLogDir uses %LOCALAPPDATA%\notionfast\logs
func getWindowsLogDir() (string, error) {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return getDefaultLogDir()
		}
		localAppData = filepath.Join(userProfile, "AppData", "Local")
	}
	return filepath.Join(localAppData, appDirName, "logs"), nil
}

// getMacOSLogDir uses ~/Library/Logs/notionfast
func getMacOSLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return getDefaultLogDir()
	}
	return filepath.Join(homeDir, "Library", "Logs", appDirName), nil
}

// getLinuxLogDir uses $XDG_STATE_HOME/notionfast/logs or ~/.local/state/notionfast/logs
func getLinuxLogDir() (string, error) {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, appDirName, "logs"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return getDefaultLogDir()
	}
	return filepath.Join(homeDir, ".local", "state", appDirName, "logs"), nil
}

// getDefaultLogDir is the fallback when no home directory is resolvable
func getDefaultLogDir() (string, error) {
	return filepath.Join(".", appDirName, "logs"), nil
}

// GetLogFilePath returns the full path for a log file in the standard directory
func GetLogFilePath(filename string) (string, error) {
	return GetLogFilePathWithDir("", filename)
}

// GetLogFilePathWithDir returns the full path for a log file, preferring the
// custom directory when one is configured. The directory is created if needed.
func GetLogFilePathWithDir(customDir, filename string) (string, error) {
	logDir := customDir
	if logDir == "" {
		var err error
		logDir, err = GetLogDir()
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(logDir, 0700); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
