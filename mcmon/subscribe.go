package mcmon

import "strings"

// OnStarted calls fn when the server process is spawned.
func (s *Supervisor) OnStarted(fn func(EventStarted)) {
	s.bus.On(TypeStarted, func(ev Event) { fn(*ev.(*EventStarted)) })
}

// OnRunningAnnounced calls fn when the server is done loading.
func (s *Supervisor) OnRunningAnnounced(fn func(EventRunningAnnounced)) {
	s.bus.On(TypeRunningAnnounced, func(ev Event) { fn(*ev.(*EventRunningAnnounced)) })
}

// OnKilled calls fn when the server is killed.
func (s *Supervisor) OnKilled(fn func(EventKilled)) {
	s.bus.On(TypeKilled, func(ev Event) { fn(*ev.(*EventKilled)) })
}

// OnErrored calls fn with everything the server writes to its standard error.
func (s *Supervisor) OnErrored(fn func(text string)) {
	s.bus.On(TypeErrored, func(ev Event) { fn(ev.(*EventErrored).Text) })
}

// OnUserLoggedIn calls fn when a user joins.
func (s *Supervisor) OnUserLoggedIn(fn func(OnlineUser)) {
	s.bus.On(TypeUserLoggedIn, func(ev Event) { fn(ev.(*EventUserLoggedIn).OnlineUser) })
}

// OnUserLoggedOut calls fn when a user leaves.
func (s *Supervisor) OnUserLoggedOut(fn func(EventUserLoggedOut)) {
	s.bus.On(TypeUserLoggedOut, func(ev Event) { fn(*ev.(*EventUserLoggedOut)) })
}

// OnMessage calls fn for every plain chat message.
func (s *Supervisor) OnMessage(fn func(user, text string)) {
	s.bus.On(TypeMessage, func(ev Event) {
		msg := ev.(*EventMessage)
		fn(msg.User, msg.Text)
	})
}

// OnMessageWithCode calls fn for chat messages with the given code, e.g.
// "restart" or "#restart". Messages with other codes are ignored.
func (s *Supervisor) OnMessageWithCode(code string, fn func(EventMessageWithCode)) {
	if !strings.HasPrefix(code, "#") {
		code = "#" + code
	}

	s.bus.On(TypeMessageWithCode, func(ev Event) {
		if msg := ev.(*EventMessageWithCode); msg.Code == code {
			fn(*msg)
		}
	})
}

// OnStatsSample calls fn for every resource usage sample.
func (s *Supervisor) OnStatsSample(fn func(cpuPercent float64, memoryBytes uint64)) {
	s.bus.On(TypeStatsSample, func(ev Event) {
		sample := ev.(*EventStatsSample)
		fn(sample.CPUPercent, sample.MemoryBytes)
	})
}

// OnProcessExited calls fn when the server process has exited, whether it was
// killed or not.
func (s *Supervisor) OnProcessExited(fn func(EventProcessExited)) {
	s.bus.On(TypeProcessExited, func(ev Event) { fn(*ev.(*EventProcessExited)) })
}
