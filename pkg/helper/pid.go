package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Resolve it against the working directory when the parent directory exists
// 3. Otherwise, fallback to /var/run/botgate.pid
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}

	currentDir := getPIDCurrentDir(filename)
	if currentDir != "" {
		return currentDir
	}

	// fallback
	return "/var/run/botgate.pid"
}

func getPIDCurrentDir(filename string) string {
	if filename == "" {
		return ""
	}

	currentDir, err := os.Getwd()
	if err != nil || currentDir == "" {
		return ""
	}

	candidatePath := filepath.Join(currentDir, filename)
	absPath, err := filepath.Abs(candidatePath)
	if err != nil {
		return ""
	}

	// Check if parent directory exists
	parentDir := filepath.Dir(absPath)
	if _, err := os.Stat(parentDir); err == nil {
		return absPath
	}

	return ""
}

// WritePID writes the current process ID to path, creating parent directories
func WritePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// ReadPID reads a process ID previously written by WritePID
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID removes the PID file, ignoring a missing file
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
