package mcmon

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

// JournalReader describes a journal that can be read backwards, from the
// newest entry to the oldest. Read returns io.EOF once the oldest entry has
// been read.
type JournalReader interface {
	Read() (Event, time.Time, error)
}

// JournalReadWriter is both a Journaler and a JournalReader.
type JournalReadWriter interface {
	Journaler
	JournalReader
}

// Journal returns a Handler that writes every event into the journaler. Write
// errors are passed to onError if it's not nil.
func Journal(j Journaler, onError func(error)) Handler {
	return func(ev Event) {
		if err := j.Write(ev); err != nil && onError != nil {
			onError(err)
		}
	}
}

// PreviousState is the supervisor state recovered from a journal written by a
// previous mcmon instance.
type PreviousState struct {
	// Running is true if the last lifecycle event in the journal says that
	// the server was alive, meaning the previous mcmon died without stopping
	// it.
	Running bool
	// PID is the PID of the last server process, if any.
	PID int
	// Time is the time of the last lifecycle event.
	Time time.Time
}

// ReadPreviousState reads the journal backwards until it finds the last
// lifecycle event. An empty journal gives a zero-value PreviousState.
func ReadPreviousState(r JournalReader) (*PreviousState, error) {
	var state PreviousState

	for {
		ev, t, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &state, nil
			}
			return nil, errors.Wrap(err, "failed to read journal")
		}

		switch ev := ev.(type) {
		case *EventStarted:
			if state.Time.IsZero() {
				state.Time = t
			}
			state.Running = true
			state.PID = ev.PID
		case *EventRunningAnnounced:
			// The PID lives in the started event; keep looking for it.
			if state.Time.IsZero() {
				state = PreviousState{Running: true, Time: t}
			}
			continue
		case *EventKilled:
			state = PreviousState{PID: ev.PID, Time: t}
		case *EventProcessExited:
			state = PreviousState{PID: ev.PID, Time: t}
		case *EventProcessSpawnError:
			state = PreviousState{Time: t}
		default:
			continue
		}

		return &state, nil
	}
}
