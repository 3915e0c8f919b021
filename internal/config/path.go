package config

import (
	"os"
	"path/filepath"
	"strings"
)

// FileName is the configuration file the tools look for.
const FileName = "config.yaml"

// EnvPath names an environment variable that points at the config file.
const EnvPath = "TROPICTOOLS_CONFIG"

// Resolve picks the config file: the explicit path when given, then
// $TROPICTOOLS_CONFIG, then config.yaml next to the executable, then
// config.yaml in the working directory. When none exists the path next
// to the executable is returned so the load error names it.
func Resolve(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p, nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), FileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// `go run` places the executable in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	if p := filepath.Join(cwd, FileName); fileExists(p) {
		return p, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
