// Package logging keeps a per-run record of what the collector received
package logging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/collector"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	EventsFilename     = "events.log"
	SummaryFilename    = "summary.log"
)

var _ collector.RecordSink = (*EventLog)(nil)

// EventLog writes every raw record of a run to
// <baseDir>/testrun-<runID>/events.log and the final report to summary.log
type EventLog struct {
	dir    string
	runID  string
	log    log.Logger
	events *AsyncFile

	mu        sync.Mutex
	completed bool
}

// NewEventLog creates the run directory and opens the events file
func NewEventLog(baseDir, runID string, logger log.Logger) (*EventLog, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	if logger == nil {
		logger = log.Root()
	}

	dir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	events, err := NewAsyncFile(filepath.Join(dir, EventsFilename), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Recording raw events", "file", events.Name())

	return &EventLog{dir: dir, runID: runID, log: logger, events: events}, nil
}

// Record appends one raw record
func (l *EventLog) Record(line []byte) error {
	line = bytes.TrimRight(line, "\r")
	data := make([]byte, 0, len(line)+1)
	return l.events.Write(append(append(data, line...), '\n'))
}

// Complete writes the report to summary.log and closes the events file.
// Calling it again is a no-op.
func (l *EventLog) Complete(report reporting.RunReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.completed {
		return nil
	}
	l.completed = true

	var buf bytes.Buffer
	reporting.TableReporter{Out: &buf, Trace: true}.Render(report)
	summaryErr := os.WriteFile(l.SummaryFile(), []byte(stripansi.Strip(buf.String())), 0644)
	if summaryErr != nil {
		summaryErr = fmt.Errorf("failed to write summary: %w", summaryErr)
	}
	return errors.Join(summaryErr, l.events.Close())
}

// Dir returns the run directory
func (l *EventLog) Dir() string {
	return l.dir
}

// EventsFile returns the path of the raw events file
func (l *EventLog) EventsFile() string {
	return filepath.Join(l.dir, EventsFilename)
}

// SummaryFile returns the path of the summary file
func (l *EventLog) SummaryFile() string {
	return filepath.Join(l.dir, SummaryFilename)
}
