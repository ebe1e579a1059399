package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv reads KEY=VALUE files in order. Variables already present in
// the process environment win, so earlier files take precedence over later
// ones and the real environment over both. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		entries, err := readDotEnv(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if _, set := os.LookupEnv(entry.key); set {
				continue
			}
			if err := os.Setenv(entry.key, entry.value); err != nil {
				return fmt.Errorf("set %s from %s: %w", entry.key, path, err)
			}
		}
	}
	return nil
}

type dotEnvEntry struct {
	key   string
	value string
}

func readDotEnv(path string) ([]dotEnvEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make([]dotEnvEntry, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if entry, ok := parseDotEnvLine(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}

func parseDotEnvLine(line string) (dotEnvEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return dotEnvEntry{}, false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, raw, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return dotEnvEntry{}, false
	}
	return dotEnvEntry{key: key, value: unquoteDotEnv(strings.TrimSpace(raw))}, true
}

// unquoteDotEnv strips matching quotes. Double quoted values understand the
// usual escapes; unquoted values drop a trailing " # comment".
func unquoteDotEnv(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		switch {
		case first == '\'' && last == '\'':
			return value[1 : len(value)-1]
		case first == '"' && last == '"':
			return strings.NewReplacer(
				`\\`, `\`,
				`\n`, "\n",
				`\t`, "\t",
				`\"`, `"`,
			).Replace(value[1 : len(value)-1])
		}
	}
	if before, _, found := strings.Cut(value, " #"); found {
		return strings.TrimSpace(before)
	}
	return value
}
