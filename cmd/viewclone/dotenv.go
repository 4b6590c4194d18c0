// ABOUTME: Loads VIEWCLONE_* settings from .env files before configuration is read.
// ABOUTME: Existing environment variables always win over file values.
package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// parseDotEnvLine parses one KEY=VALUE line. Comments, blank lines, and lines
// without '=' are rejected. An "export " prefix and matching quotes are stripped.
func parseDotEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return key, value, true
}

// loadDotEnv applies path's variables that are not already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// loadDotEnvAuto loads ./.env and then ~/.viewclone/.env. The first file to
// set a key wins.
func loadDotEnvAuto() {
	_ = loadDotEnv(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = loadDotEnv(filepath.Join(home, ".viewclone", ".env"))
	}
}
