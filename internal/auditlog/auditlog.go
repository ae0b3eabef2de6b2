// Package auditlog records completed assessments for later inspection.
// Writes are fire-and-forget: records go through a bounded queue serviced
// by a background goroutine, and overflow drops records rather than ever
// delaying an assessment. Two backends exist: an append-only JSONL file
// and a SQLite database that also serves the read-only dashboard.
package auditlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/noam-bash/flare-saferun/internal/flaretypes"
	"github.com/noam-bash/flare-saferun/internal/logging"
)

// queueSize bounds the in-flight record queue.
const queueSize = 256

// Record is one logged assessment. The command text is redacted before
// it is stored.
type Record struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Time         time.Time `gorm:"index" json:"time"`
	Command      string    `json:"command"`
	Cwd          string    `json:"cwd"`
	RiskLevel    string    `gorm:"index" json:"risk_level"`
	Action       string    `json:"action"`
	FindingCount int       `json:"finding_count"`
	Partial      bool      `json:"partial"`
}

// Backend persists records. Implementations are called from the single
// writer goroutine and need not be concurrency-safe.
type Backend interface {
	Append(record Record) error
	Close() error
}

// Logger fans assessment records out to its backends asynchronously.
type Logger struct {
	backends  []Backend
	queue     chan Record
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New starts a Logger over the given backends. A Logger with no backends
// is valid and discards everything.
func New(backends ...Backend) *Logger {
	l := &Logger{
		backends: backends,
		queue:    make(chan Record, queueSize),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues one assessment. It never blocks; when the queue is full
// the record is dropped.
func (l *Logger) Log(command, cwd string, assessment flaretypes.RiskAssessment) {
	record := Record{
		ID:           ulid.Make().String(),
		Time:         time.Now().UTC(),
		Command:      logging.RedactString(command),
		Cwd:          cwd,
		RiskLevel:    assessment.RiskLevel.String(),
		Action:       assessment.Action.String(),
		FindingCount: len(assessment.Details),
		Partial:      assessment.Partial,
	}

	select {
	case l.queue <- record:
	default:
		slog.Warn("audit log queue full, dropping record", "id", record.ID)
	}
}

// Close drains the queue, flushes the backends, and stops the writer.
// Safe to call more than once.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done

		for _, backend := range l.backends {
			if err := backend.Close(); err != nil && l.closeErr == nil {
				l.closeErr = err
			}
		}
	})
	return l.closeErr
}

func (l *Logger) run() {
	defer close(l.done)
	for record := range l.queue {
		for _, backend := range l.backends {
			if err := backend.Append(record); err != nil {
				slog.Warn("audit log write failed", "id", record.ID, "error", err)
			}
		}
	}
}
