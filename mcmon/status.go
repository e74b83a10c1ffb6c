package mcmon

// Status is the supervised server's status.
type Status uint8

const (
	// Offline means there is no server process, or it has errored.
	Offline Status = iota
	// Loading means the process is spawned but hasn't announced itself yet.
	Loading
	// Online means the server has printed its "Done" line.
	Online
)

func (s Status) String() string {
	switch s {
	case Offline:
		return "offline"
	case Loading:
		return "loading"
	case Online:
		return "online"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
