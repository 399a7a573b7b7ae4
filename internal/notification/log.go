package notification

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hubcache/backend"
)

// logChannel appends alerts to a log file
type logChannel struct {
	config *LogConfig
	file   *os.File
	mu     sync.Mutex
}

// NewLogChannel creates a channel writing to cfg.Path
func NewLogChannel(cfg *LogConfig) Channel {
	return &logChannel{config: cfg}
}

// FormatLine renders an alert as one log line:
// 2024-03-01T10:30:00Z [TASK] Title: Message
func FormatLine(n backend.Notification) string {
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	text := n.Title
	if n.Message != "" {
		text += ": " + n.Message
	}
	return fmt.Sprintf("%s [%s] %s", ts.UTC().Format("2006-01-02T15:04:05Z"), strings.ToUpper(string(n.Type)), text)
}

// Send writes an alert to the log file
func (c *logChannel) Send(n backend.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFile(); err != nil {
		return err
	}
	if _, err := c.file.WriteString(FormatLine(n) + "\n"); err != nil {
		return fmt.Errorf("failed to write alert: %w", err)
	}
	return c.file.Sync()
}

// ensureFile ensures the log file is open
func (c *logChannel) ensureFile() error {
	if c.file != nil {
		return nil
	}

	dir := filepath.Dir(c.config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := c.rotateIfNeeded(); err != nil {
		return err
	}

	file, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	c.file = file
	return nil
}

// rotateIfNeeded moves the log aside once it exceeds MaxSizeMB
func (c *logChannel) rotateIfNeeded() error {
	if c.config.MaxSizeMB <= 0 {
		return nil
	}
	info, err := os.Stat(c.config.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	maxBytes := int64(c.config.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// Close closes the log file
func (c *logChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}

// ReadLog reads and returns all entries from the log file
func ReadLog(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}
	return entries, scanner.Err()
}

// ClearLog clears the log file
func ClearLog(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.WriteFile(path, []byte{}, 0644)
}
