// Package audit provides a structured, rotating JSON-lines audit trail of
// engine-level events: providers added/removed and configuration-cell
// transitions (engine_state, satellite_based_positioning_state,
// wifi_and_cell_id_reporting_state).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category tags the kind of event recorded.
type Category string

const (
	CategoryProviderAdded   Category = "provider_added"
	CategoryProviderRemoved Category = "provider_removed"
	CategoryConfigChanged   Category = "config_changed"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a rotating JSONL audit sink.
type Logger struct {
	mu          sync.Mutex
	logDir      string
	currentFile *os.File
	maxFileSize int64
	maxFiles    int
}

// New constructs a Logger writing into logDir, creating it if necessary.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	l := &Logger{
		logDir:      logDir,
		maxFileSize: 10 * 1024 * 1024,
		maxFiles:    10,
	}
	if err := l.openLogFile(); err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}
	return l, nil
}

// Record writes one audit event, rotating the backing file if it has
// grown past maxFileSize.
func (l *Logger) Record(category Category, message string, fields map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{Timestamp: time.Now(), Category: category, Message: message, Fields: fields}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.needsRotation(int64(len(data))) {
		if err := l.rotateLogFile(); err != nil {
			return fmt.Errorf("audit: rotate log file: %w", err)
		}
	}
	if _, err := l.currentFile.Write(data); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}

// ProviderAdded records a provider having been added under the given name.
func (l *Logger) ProviderAdded(name string, requirements int) error {
	return l.Record(CategoryProviderAdded, "provider added", map[string]interface{}{
		"name": name, "requirements": requirements,
	})
}

// ProviderRemoved records a provider having been removed.
func (l *Logger) ProviderRemoved(name string) error {
	return l.Record(CategoryProviderRemoved, "provider removed", map[string]interface{}{"name": name})
}

// ConfigChanged records a configuration-cell transition.
func (l *Logger) ConfigChanged(key string, from, to string) error {
	return l.Record(CategoryConfigChanged, "configuration changed", map[string]interface{}{
		"key": key, "from": from, "to": to,
	})
}

// Close closes the backing file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	return l.currentFile.Close()
}

func (l *Logger) openLogFile() error {
	filename := fmt.Sprintf("audit-%s.jsonl", time.Now().Format("20060102"))
	path := filepath.Join(l.logDir, filename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.currentFile = file
	return nil
}

func (l *Logger) needsRotation(additionalBytes int64) bool {
	if l.currentFile == nil {
		return true
	}
	stat, err := l.currentFile.Stat()
	if err != nil {
		return true
	}
	return stat.Size()+additionalBytes > l.maxFileSize
}

func (l *Logger) rotateLogFile() error {
	if l.currentFile != nil {
		l.currentFile.Close()
	}
	l.cleanupOldFiles()
	return l.openLogFile()
}

func (l *Logger) cleanupOldFiles() {
	files, err := filepath.Glob(filepath.Join(l.logDir, "audit-*.jsonl"))
	if err != nil {
		return
	}
	if len(files) > l.maxFiles {
		for i := 0; i < len(files)-l.maxFiles; i++ {
			os.Remove(files[i])
		}
	}
}
