package helper

import (
	"os"
	"path/filepath"
)

const (
	// ConfigDirEnv names an extra directory searched for configuration files
	ConfigDirEnv = "BOTGATE_CONFIG_DIR"

	systemConfigDir = "/etc/botgate"
)

// GetCfgPath resolves filename to a configuration file path. Absolute paths
// are returned as is. Otherwise the first existing candidate wins, in order:
// $BOTGATE_CONFIG_DIR, the working directory, ./configs. When none exists
// the path under /etc/botgate is returned.
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range searchDirs() {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs
		}
	}
	return filepath.Join(systemConfigDir, filename)
}

func searchDirs() []string {
	var dirs []string
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		dirs = append(dirs, dir)
	}
	if wd, err := os.Getwd(); err == nil && wd != "" {
		dirs = append(dirs, wd, filepath.Join(wd, "configs"))
	}
	return dirs
}
