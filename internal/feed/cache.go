package feed

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadURLs reads a feed URL cache file, one URL per line.
func LoadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed cache: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if u := strings.TrimSpace(sc.Text()); u != "" {
			urls = append(urls, u)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read feed cache: %w", err)
	}
	return urls, nil
}

// SaveURLs replaces the cache file at path with urls, one per line.
func SaveURLs(path string, urls []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create feed cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".feeds-*.tmp")
	if err != nil {
		return fmt.Errorf("create feed cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, u := range urls {
		w.WriteString(u)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write feed cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close feed cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace feed cache: %w", err)
	}
	return nil
}
