package mcmon

import "time"

// eventType describes an event type.
type eventType = string

const (
	eventWarning           eventType = "warning"
	eventStarted           eventType = "started"
	eventRunningAnnounced  eventType = "running"
	eventKilled            eventType = "killed"
	eventErrored           eventType = "errored"
	eventUserLoggedIn      eventType = "user logged in"
	eventUserLoggedOut     eventType = "user logged out"
	eventMessage           eventType = "message"
	eventMessageWithCode   eventType = "message with code"
	eventStatsSample       eventType = "stats sample"
	eventProcessExited     eventType = "process exited"
	eventProcessSpawnError eventType = "process spawn error"
)

// Exported event type names, used for Bus subscriptions.
const (
	TypeWarning           = eventWarning
	TypeStarted           = eventStarted
	TypeRunningAnnounced  = eventRunningAnnounced
	TypeKilled            = eventKilled
	TypeErrored           = eventErrored
	TypeUserLoggedIn      = eventUserLoggedIn
	TypeUserLoggedOut     = eventUserLoggedOut
	TypeMessage           = eventMessage
	TypeMessageWithCode   = eventMessageWithCode
	TypeStatsSample       = eventStatsSample
	TypeProcessExited     = eventProcessExited
	TypeProcessSpawnError = eventProcessSpawnError
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventStarted:
		return &EventStarted{}
	case eventRunningAnnounced:
		return &EventRunningAnnounced{}
	case eventKilled:
		return &EventKilled{}
	case eventErrored:
		return &EventErrored{}
	case eventUserLoggedIn:
		return &EventUserLoggedIn{}
	case eventUserLoggedOut:
		return &EventUserLoggedOut{}
	case eventMessage:
		return &EventMessage{}
	case eventMessageWithCode:
		return &EventMessageWithCode{}
	case eventStatsSample:
		return &EventStatsSample{}
	case eventProcessExited:
		return &EventProcessExited{}
	case eventProcessSpawnError:
		return &EventProcessSpawnError{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs in a collaborator.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventStarted is emitted when the server process has been spawned.
type EventStarted struct {
	PID int `json:"pid"`
}

func (ev *EventStarted) Type() string { return eventStarted }
func (ev *EventStarted) event()       {}

// EventRunningAnnounced is emitted when the server prints its "Done" line,
// meaning it has finished loading and accepts players.
type EventRunningAnnounced struct {
	// Took is whatever was inside the parentheses, usually the load time.
	Took string `json:"took"`
}

func (ev *EventRunningAnnounced) Type() string { return eventRunningAnnounced }
func (ev *EventRunningAnnounced) event()       {}

// EventKilled is emitted when the server is killed through the Supervisor.
type EventKilled struct {
	PID int `json:"pid"`
}

func (ev *EventKilled) Type() string { return eventKilled }
func (ev *EventKilled) event()       {}

// EventErrored is emitted for every chunk the server writes to its standard
// error.
type EventErrored struct {
	Text string `json:"text"`
}

func (ev *EventErrored) Type() string { return eventErrored }
func (ev *EventErrored) event()       {}

// Coord is a block coordinate, rounded from the server's floating point
// position.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// OnlineUser is a single roster entry.
type OnlineUser struct {
	User      string    `json:"user"`
	IP        string    `json:"ip"`
	Port      string    `json:"port"`
	EntityID  string    `json:"entity_id"`
	Coord     Coord     `json:"coord"`
	LoginTime time.Time `json:"login_time"`
}

// EventUserLoggedIn is emitted when a user joins the server.
type EventUserLoggedIn struct {
	OnlineUser
}

func (ev *EventUserLoggedIn) Type() string { return eventUserLoggedIn }
func (ev *EventUserLoggedIn) event()       {}

// EventUserLoggedOut is emitted when a user leaves the server.
type EventUserLoggedOut struct {
	User string    `json:"user"`
	Time time.Time `json:"time"`
}

func (ev *EventUserLoggedOut) Type() string { return eventUserLoggedOut }
func (ev *EventUserLoggedOut) event()       {}

// EventMessage is emitted for a plain chat message.
type EventMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
}

func (ev *EventMessage) Type() string { return eventMessage }
func (ev *EventMessage) event()       {}

// EventMessageWithCode is emitted for a chat message starting with a #code
// word. Code includes the leading '#'.
type EventMessageWithCode struct {
	User string `json:"user"`
	Code string `json:"code"`
	Text string `json:"text"`
}

func (ev *EventMessageWithCode) Type() string { return eventMessageWithCode }
func (ev *EventMessageWithCode) event()       {}

// EventStatsSample is emitted periodically while the server is alive.
type EventStatsSample struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

func (ev *EventStatsSample) Type() string { return eventStatsSample }
func (ev *EventStatsSample) event()       {}

// EventProcessExited is emitted when the server process has exited for any
// reason, including being killed.
type EventProcessExited struct {
	PID      int    `json:"pid"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"` // -1 if interrupted or terminated
}

// IsGraceful returns true if the process exited on its own accord or on a
// catchable signal.
func (ev EventProcessExited) IsGraceful() bool {
	return ev.ExitCode != -1
}

func (ev *EventProcessExited) Type() string { return eventProcessExited }
func (ev *EventProcessExited) event()       {}

// EventProcessSpawnError is emitted when the server process fails to start.
type EventProcessSpawnError struct {
	Reason string `json:"reason"`
}

func (ev *EventProcessSpawnError) Type() string { return eventProcessSpawnError }
func (ev *EventProcessSpawnError) event()       {}
