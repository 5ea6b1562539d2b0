// Package failurelog records object keys that could not be processed and reads them back
// for a later retry pass. The format is UTF-8 text, one key per line.
package failurelog

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Recorder accepts failed object keys.
type Recorder interface {
	Record(key string) error
}

// File appends keys to a file. It is safe for concurrent use.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens path for appending, creating it if necessary.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// Record appends key followed by a newline.
func (l *File) Record(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("append %s to failure log: %w", key, err)
	}
	return nil
}

// Close closes the underlying file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Discard drops every key.
type Discard struct{}

func (Discard) Record(string) error { return nil }

// Memory keeps keys in order. Useful for tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	keys []string
}

func (m *Memory) Record(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

// Keys returns a copy of the recorded keys.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// ReadKeys reads a retry list: one key per line, blank lines ignored, duplicates dropped.
func ReadKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open retry list %s: %w", path, err)
	}
	defer f.Close()

	var keys []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read retry list %s: %w", path, err)
	}
	return keys, nil
}
