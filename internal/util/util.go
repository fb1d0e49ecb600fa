package util

import (
	"os"
	"path/filepath"
	"strings"
)

// WritablePath returns the cleaned WRITABLE_PATH environment variable when it is set.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return filepath.Clean(trimmed)
			}
		}
	}
	return ""
}

// MaskEmail keeps the first rune of the local part and the domain, so log lines
// stay correlatable without carrying the full address.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" {
		return "***"
	}
	first := []rune(local)[0]
	return string(first) + "***@" + domain
}
