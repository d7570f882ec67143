package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// entry is the JSON shape written to the log file, one object per line.
type entry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// fileSink appends JSON lines to a file and rotates it by size or age.
type fileSink struct {
	file        *os.File
	path        string
	rotate      bool
	maxBytes    int64
	maxAgeDays  int
	size        int64
	lastRotated time.Time
}

var (
	mu       sync.Mutex
	minLevel = INFO
	sink     *fileSink
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

// ParseLevel maps a config string to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// EnableFileLoggingWithRotation starts mirroring log output to filePath as
// JSON lines. With rotation enabled the file is renamed aside once it grows
// past maxSizeMB or a calendar day rolls over, and rotated files older than
// maxAgeDays are removed.
func EnableFileLoggingWithRotation(filePath string, rotationEnabled bool, maxSizeMB int, maxAgeDays int) error {
	mu.Lock()
	defer mu.Unlock()

	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			filePath = filepath.Join(home, filePath[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	var size int64
	if stat, err := file.Stat(); err == nil {
		size = stat.Size()
	}

	if sink != nil && sink.file != nil {
		sink.file.Close()
	}
	sink = &fileSink{
		file:        file,
		path:        filePath,
		rotate:      rotationEnabled,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays:  maxAgeDays,
		size:        size,
		lastRotated: time.Now(),
	}
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil && sink.file != nil {
		sink.file.Close()
	}
	sink = nil
}

func (s *fileSink) needsRotation() bool {
	if !s.rotate {
		return false
	}
	if s.maxBytes > 0 && s.size >= s.maxBytes {
		return true
	}
	if s.maxAgeDays > 0 {
		now := time.Now()
		if now.YearDay() != s.lastRotated.YearDay() || now.Year() != s.lastRotated.Year() {
			return true
		}
	}
	return false
}

func (s *fileSink) rotateFile() error {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		if file, openErr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			s.file = file
		}
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file: %w", err)
	}
	s.file = file
	s.size = 0
	s.lastRotated = time.Now()

	go s.pruneRotated()
	return nil
}

func (s *fileSink) pruneRotated() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func emit(level LogLevel, component, message string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()

	if level < minLevel {
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if sink != nil && sink.file != nil {
		if sink.needsRotation() {
			if err := sink.rotateFile(); err != nil {
				log.Printf("log rotation failed: %v", err)
			}
		}
		if data, err := json.Marshal(e); err == nil {
			if n, err := sink.file.Write(append(data, '\n')); err == nil {
				sink.size += int64(n)
			}
		}
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "[%s] [%s]", e.Timestamp, e.Level)
	if component != "" {
		fmt.Fprintf(&buf, " %s:", component)
	}
	buf.WriteByte(' ')
	buf.WriteString(message)
	if len(fields) > 0 {
		var parts []string
		for k, v := range fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fmt.Fprintf(&buf, " {%s}", strings.Join(parts, ", "))
	}
	log.Println(buf.String())
}

func DebugCF(component, message string, fields map[string]any) {
	emit(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	emit(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	emit(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	emit(ERROR, component, message, fields)
}

func Info(message string) {
	emit(INFO, "", message, nil)
}

func Warn(message string) {
	emit(WARN, "", message, nil)
}

func Error(message string) {
	emit(ERROR, "", message, nil)
}
