package mcmon

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// logPrefixDelim separates the server's "[time] [thread/LEVEL]" prefix from
// the actual log text.
const logPrefixDelim = "]: "

var (
	doneRegex = regexp.MustCompile(
		`^Done \(([\w.]*)\)!.+$`)
	loginRegex = regexp.MustCompile(
		`^([\w ]+)\[/([\d.]+):(\d+)\] logged in with entity id (\d+) at \(([-\d.]+), ([-\d.]+), ([-\d.]+)\)$`)
	logoutRegex = regexp.MustCompile(
		`^([\w ]+) left the game$`)
	codedMessageRegex = regexp.MustCompile(
		`^<([\w ]+)> (#\w+) ?(.*)$`)
	messageRegex = regexp.MustCompile(
		`^<([\w ]+)> (.*)$`)
)

// recognizer tries to turn a log line into an event. It returns nil if the line
// isn't recognized.
type recognizer func(line string, now time.Time) Event

// recognizers is the ordered list of recognizers. The coded message recognizer
// must come before the plain message one, since the latter matches everything
// the former does.
var recognizers = []recognizer{
	recognizeDone,
	recognizeLogin,
	recognizeLogout,
	recognizeCodedMessage,
	recognizeMessage,
}

// LogText strips the server's log prefix off of a raw stdout line and trims the
// result. If the line has no prefix, then the whole line is trimmed and
// returned.
func LogText(raw string) string {
	if i := strings.Index(raw, logPrefixDelim); i > -1 {
		raw = raw[i+len(logPrefixDelim):]
	}
	return strings.TrimSpace(raw)
}

// ParseLine parses a single log text into an event. The first recognizer to
// match wins. Nil is returned if nothing matches, which is not an error. now is
// used to timestamp login and logout events.
func ParseLine(line string, now time.Time) Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	for _, recognize := range recognizers {
		if ev := recognize(line, now); ev != nil {
			return ev
		}
	}

	return nil
}

func recognizeDone(line string, _ time.Time) Event {
	m := doneRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &EventRunningAnnounced{Took: m[1]}
}

func recognizeLogin(line string, now time.Time) Event {
	m := loginRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	var xyz [3]int
	for i, s := range m[5:8] {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Something like "1.2.3" or a lone "-"; not a real position.
			return nil
		}
		xyz[i] = roundHalfUp(f)
	}

	return &EventUserLoggedIn{OnlineUser{
		User:      m[1],
		IP:        m[2],
		Port:      m[3],
		EntityID:  m[4],
		Coord:     Coord{X: xyz[0], Y: xyz[1], Z: xyz[2]},
		LoginTime: now,
	}}
}

func recognizeLogout(line string, now time.Time) Event {
	m := logoutRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &EventUserLoggedOut{User: m[1], Time: now}
}

func recognizeCodedMessage(line string, _ time.Time) Event {
	m := codedMessageRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &EventMessageWithCode{User: m[1], Code: m[2], Text: m[3]}
}

func recognizeMessage(line string, _ time.Time) Event {
	m := messageRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return &EventMessage{User: m[1], Text: m[2]}
}

// roundHalfUp rounds halves towards positive infinity, so -3.5 becomes -3.
func roundHalfUp(f float64) int {
	return int(math.Floor(f + 0.5))
}
