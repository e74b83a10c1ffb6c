package journal

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/mcmon/mcmon"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time time.Time   `json:"time"`
	Type string      `json:"type"`
	Data mcmon.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct {
	w   io.Writer
	mu  *sync.Mutex
	now func() time.Time
}

var _ mcmon.Journaler = Writer{}

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) Writer {
	return Writer{w, new(sync.Mutex), time.Now}
}

// Write writes the given event into the writer. Writes are concurrently safe
// and are atomic.
func (l Writer) Write(ev mcmon.Event) error {
	b, err := json.Marshal(Event{
		Time: l.now(),
		Type: ev.Type(),
		Data: ev,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	// Append a new line.
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(b); err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// HumanWriter is a journaler that logs events in a human-readable form through
// a zap logger.
type HumanWriter struct {
	l *zap.Logger
}

var _ mcmon.Journaler = HumanWriter{}

// NewHumanWriter creates a new human-readable journaler. The event type is used
// as the log message.
func NewHumanWriter(l *zap.Logger) HumanWriter {
	return HumanWriter{l}
}

// Write logs the event. Stats samples are logged at debug level, and anything
// that went wrong at warn level.
func (h HumanWriter) Write(ev mcmon.Event) error {
	h.l.Log(eventLevel(ev), ev.Type(), zap.Any("data", ev))
	return nil
}

func eventLevel(ev mcmon.Event) zapcore.Level {
	switch ev.(type) {
	case *mcmon.EventStatsSample:
		return zapcore.DebugLevel
	case *mcmon.EventErrored, *mcmon.EventProcessSpawnError, *mcmon.EventWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
