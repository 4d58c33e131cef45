package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadPaths reads a newline-delimited list of paths. Empty lines are
// discarded, a trailing \r is stripped, and duplicates keep their first
// position.
func ReadPaths(r io.Reader) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		paths = append(paths, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read path list: %w", err)
	}
	return paths, nil
}

// ReadPathsFile reads a path list from a file.
func ReadPathsFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, &ConfigError{Key: KeyPathsFile, Msg: err.Error()}
	}
	defer f.Close()
	return ReadPaths(f)
}
