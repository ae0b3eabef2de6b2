package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONLBackend appends records to a line-delimited JSON file. Each record
// is one write syscall, so concurrent processes appending to the same
// file do not interleave lines.
type JSONLBackend struct {
	file *os.File
}

// NewJSONLBackend opens (or creates) the JSONL file at path.
func NewJSONLBackend(path string) (*JSONLBackend, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &JSONLBackend{file: f}, nil
}

// Append implements Backend.
func (b *JSONLBackend) Append(record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = b.file.Write(append(line, '\n'))
	return err
}

// Close implements Backend.
func (b *JSONLBackend) Close() error {
	return b.file.Close()
}
