package main

import (
	"strings"
	"sync"

	"git.unix.lgbt/diamondburned/mcmon/mcmon"
)

// fakeServer records every call made to it.
type fakeServer struct {
	mutex  sync.Mutex
	calls  []string
	status mcmon.Status
	users  []mcmon.OnlineUser
	props  map[string]string
}

func (f *fakeServer) record(call ...string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls = append(f.calls, strings.Join(call, " "))
}

func (f *fakeServer) Calls() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeServer) Run()                       { f.record("run") }
func (f *fakeServer) Kill()                      { f.record("kill") }
func (f *fakeServer) Restart()                   { f.record("restart") }
func (f *fakeServer) SendCommand(command string) { f.record("command", command) }

func (f *fakeServer) SendSay(message string, flags ...string) {
	f.record(append([]string{"say", message}, flags...)...)
}

func (f *fakeServer) SendKick(user string, reason ...string) {
	f.record(append([]string{"kick", user}, reason...)...)
}

func (f *fakeServer) Status() mcmon.Status            { return f.status }
func (f *fakeServer) OnlineUsers() []mcmon.OnlineUser { return f.users }

func (f *fakeServer) ServerProperty(key string) (string, bool) {
	v, ok := f.props[key]
	return v, ok
}
