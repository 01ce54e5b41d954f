// Package trace implements the append-only JSONL audit trail for work-order
// runs.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates the run trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventQueryWarning EventType = "query_warning"
	EventDMLGenerated EventType = "dml_generated"
	EventRunComplete  EventType = "run_complete"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream. Safe for use
// by one run at a time; the mutex covers the encoder, not run ordering.
type Writer struct {
	mu     sync.Mutex
	taskID string
	enc    *json.Encoder
	now    func() time.Time
	closer io.Closer
}

// NewWriter creates a trace writer over an io.Writer.
func NewWriter(w io.Writer, taskID string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{taskID: taskID, enc: json.NewEncoder(w), now: now}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, taskID string, now func() time.Time) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := NewWriter(f, taskID, now)
	w.closer = f
	return w, nil
}

// Close closes the underlying file, if any.
func (tw *Writer) Close() error {
	if tw.closer != nil {
		return tw.closer.Close()
	}
	return nil
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		TaskID:    tw.taskID,
		Data:      data,
	})
}

// EmitRunStart records the recipe selection and seed parameters.
func (tw *Writer) EmitRunStart(recipeType string, seed map[string]any) error {
	return tw.Emit(EventRunStart, map[string]any{
		"recipe_type": recipeType,
		"seed":        seed,
	})
}

// EmitStepStart records entry into a step.
func (tw *Writer) EmitStepStart(step int, operation string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"step":      step,
		"operation": operation,
	})
}

// EmitStepComplete records the decision a step took and where it goes next.
func (tw *Writer) EmitStepComplete(step int, operation, decision string) error {
	return tw.Emit(EventStepComplete, map[string]any{
		"step":      step,
		"operation": operation,
		"decision":  decision,
	})
}

// EmitQueryWarning records a non-fatal probe anomaly (e.g. multi-row result).
func (tw *Writer) EmitQueryWarning(step int, message string) error {
	return tw.Emit(EventQueryWarning, map[string]any{
		"step":    step,
		"warning": message,
	})
}

// EmitDMLGenerated records one accumulated DML statement.
func (tw *Writer) EmitDMLGenerated(step int, kind, table string) error {
	return tw.Emit(EventDMLGenerated, map[string]any{
		"step":  step,
		"kind":  kind,
		"table": table,
	})
}

// EmitRunComplete records the outcome status and duration.
func (tw *Writer) EmitRunComplete(status string, dmlCount int, duration time.Duration) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"status":    status,
		"dml_count": dmlCount,
		"duration":  duration.String(),
	})
}
