package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditSink accepts audit events for append-only storage
type AuditSink interface {
	AppendAuditEvent(ctx context.Context, event AuditEvent) error
}

// AuditLogLevel defines the verbosity of audit logging
type AuditLogLevel string

const (
	// AuditLogLevelMinimal omits the result link
	AuditLogLevelMinimal AuditLogLevel = "minimal"

	// AuditLogLevelStandard logs complete events
	AuditLogLevelStandard AuditLogLevel = "standard"

	// AuditLogLevelVerbose logs complete events
	AuditLogLevelVerbose AuditLogLevel = "verbose"
)

// ParseAuditLogLevel parses a level name; empty means standard
func ParseAuditLogLevel(s string) (AuditLogLevel, error) {
	switch l := AuditLogLevel(s); l {
	case "":
		return AuditLogLevelStandard, nil
	case AuditLogLevelMinimal, AuditLogLevelStandard, AuditLogLevelVerbose:
		return l, nil
	default:
		return "", fmt.Errorf("unknown audit level %q", s)
	}
}

// minimalAuditEvent is the record written at AuditLogLevelMinimal
type minimalAuditEvent struct {
	ID               string     `json:"id"`
	EventType        string     `json:"event_type"`
	RuleID           string     `json:"rule_id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	Confidence       float64    `json:"confidence"`
	SensitivityLevel string     `json:"sensitivity_level"`
	Timestamp        time.Time  `json:"timestamp"`
}

// AuditLoggerConfig configures an AuditLogger
type AuditLoggerConfig struct {
	// Path of the JSONL file; ignored when Writer is set
	Path string

	// Writer receives entries instead of a file
	Writer io.Writer

	Level AuditLogLevel

	// Size in bytes after which the file rotates; 0 disables rotation
	RotationSize int64

	// Days to retain rotated files
	RetentionDays int
}

// AuditLogger appends audit events to a JSONL file with size-based rotation
type AuditLogger struct {
	mu           sync.Mutex
	logPath      string
	level        AuditLogLevel
	writer       io.Writer
	file         *os.File
	rotationSize int64
	currentSize  int64
	logRetention int
}

// NewAuditLogger opens the audit log
func NewAuditLogger(config AuditLoggerConfig) (*AuditLogger, error) {
	if config.Level == "" {
		config.Level = AuditLogLevelStandard
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 90
	}

	l := &AuditLogger{
		logPath:      config.Path,
		level:        config.Level,
		writer:       config.Writer,
		rotationSize: config.RotationSize,
		logRetention: config.RetentionDays,
	}

	if l.writer == nil {
		if l.logPath == "" {
			l.logPath = "audit.log"
		}
		if err := l.open(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// open the log file for appending
func (l *AuditLogger) open() error {
	dir := filepath.Dir(l.logPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to get log file info: %w", err)
	}

	l.file = f
	l.writer = f
	l.currentSize = info.Size()
	return nil
}

// maybeRotateLog rotates the file once it reaches the rotation size
func (l *AuditLogger) maybeRotateLog() error {
	if l.file == nil || l.rotationSize <= 0 || l.currentSize < l.rotationSize {
		return nil
	}

	l.file.Close()
	l.file, l.writer = nil, nil

	rotatedPath := fmt.Sprintf("%s.%s", l.logPath, time.Now().Format("20060102-150405.000000"))
	if err := os.Rename(l.logPath, rotatedPath); err != nil {
		rotateErr := fmt.Errorf("failed to rotate log file: %w", err)
		if openErr := l.open(); openErr != nil {
			return errors.Join(rotateErr, openErr)
		}
		return rotateErr
	}

	l.cleanupOldLogs()
	return l.open()
}

// cleanupOldLogs removes rotated files older than the retention period
func (l *AuditLogger) cleanupOldLogs() {
	cutoff := time.Now().AddDate(0, 0, -l.logRetention)

	files, err := filepath.Glob(l.logPath + ".*")
	if err != nil {
		return
	}

	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
}

// AppendAuditEvent writes one event as a JSON line
func (l *AuditLogger) AppendAuditEvent(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A failed rotation still appends to the reopened file.
	rotateErr := l.maybeRotateLog()
	if l.writer == nil {
		if rotateErr == nil {
			rotateErr = errors.New("audit log is closed")
		}
		return rotateErr
	}

	var record any = event
	if l.level == AuditLogLevelMinimal {
		record = minimalAuditEvent{
			ID:               event.ID,
			EventType:        event.EventType,
			RuleID:           event.RuleID,
			EntityType:       event.EntityType,
			EntityID:         event.EntityID,
			Confidence:       event.Confidence,
			SensitivityLevel: event.SensitivityLevel,
			Timestamp:        event.Timestamp,
		}
	}

	entry, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	n, err := fmt.Fprintln(l.writer, string(entry))
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	l.currentSize += int64(n)
	return rotateErr
}

// Close closes the underlying file
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file, l.writer = nil, nil
	return err
}
