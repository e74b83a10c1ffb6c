package main

import "git.unix.lgbt/diamondburned/mcmon/mcmon"

const deniedMessage = "You don't have permission to do that!"

type restarter interface {
	Restart()
	SendSay(message string, flags ...string)
}

// restartPolicy lets whitelisted users restart the server from the game chat.
type restartPolicy struct {
	server  restarter
	allowed map[string]struct{}
}

func newRestartPolicy(server restarter, users []string) *restartPolicy {
	allowed := make(map[string]struct{}, len(users))
	for _, user := range users {
		allowed[user] = struct{}{}
	}

	return &restartPolicy{
		server:  server,
		allowed: allowed,
	}
}

func (p *restartPolicy) isAllowed(user string) bool {
	_, ok := p.allowed[user]
	return ok
}

func (p *restartPolicy) handle(msg mcmon.EventMessageWithCode) {
	if !p.isAllowed(msg.User) {
		p.server.SendSay(deniedMessage)
		return
	}

	// Restart waits for the server to exit, and the server can't exit while
	// its output isn't being read, which is what's calling us.
	go p.server.Restart()
}
