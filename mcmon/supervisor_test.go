package mcmon

import (
	"bufio"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/mcmon/mcmon/exec"
)

var testTime = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

const (
	doneLine   = "[12:00:00] [Server thread/INFO]: Done (12.3s)! For help, type help"
	loginLine  = "[12:00:01] [Server thread/INFO]: Steve[/127.0.0.1:54321] logged in with entity id 12 at (10.7, 64.0, -3.2)"
	logoutLine = "[12:00:02] [Server thread/INFO]: Steve left the game"
)

var steve = OnlineUser{
	User:      "Steve",
	IP:        "127.0.0.1",
	Port:      "54321",
	EntityID:  "12",
	Coord:     Coord{X: 11, Y: 64, Z: -3},
	LoginTime: testTime,
}

// spawner hands out the given processes in order, then fails.
type spawner struct {
	mutex   sync.Mutex
	procs   []*exec.PipeProcess
	cmds    []exec.Command
	spawned int
}

func (s *spawner) start(cmd exec.Command) (exec.Process, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cmds = append(s.cmds, cmd)

	if s.spawned >= len(s.procs) {
		return nil, errors.New("java: not found")
	}

	p := s.procs[s.spawned]
	s.spawned++
	return p, nil
}

func (s *spawner) Spawned() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.spawned
}

func newTestSupervisor(t *testing.T, procs ...*exec.PipeProcess) (*Supervisor, *mockJournal, *spawner) {
	t.Helper()

	sp := &spawner{procs: procs}

	s := NewSupervisor(Config{
		JarPath: "/srv/minecraft/server.jar",
		Metrics: &mockMetrics{},
	})
	s.StatsInterval = time.Hour
	s.WaitTimeout = time.Second
	s.startProc = sp.start
	s.cores = func() int { return 4 }
	s.now = func() time.Time { return testTime }

	j := &mockJournal{}
	s.Bus().OnAny(Journal(j, nil))

	t.Cleanup(func() {
		s.Kill()
		for _, p := range procs {
			p.Exit(0)
		}
	})

	return s, j, sp
}

// feed writes the lines into the process' stdout and returns once they've all
// been handled.
func feed(t *testing.T, p *exec.PipeProcess, lines ...string) {
	t.Helper()

	// The trailing empty line can only be read once the line before it has
	// been fully handled.
	for _, line := range append(lines, "") {
		if err := p.WriteStdout(line); err != nil {
			t.Fatal("failed to write stdout:", err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitJournals(t *testing.T, j *mockJournal, n int) {
	t.Helper()
	waitFor(t, "journal entries", func() bool { return len(j.Journals()) >= n })
}

func TestConfigCommand(t *testing.T) {
	cfg := Config{
		JVMArgs: []string{"-Xmx4G"},
		JarPath: "/srv/minecraft/../minecraft/server.jar",
	}

	expect := exec.Command{
		Path: "java",
		Args: []string{"-Xmx4G", "-jar", "/srv/minecraft/server.jar", "nogui"},
		Dir:  "/srv/minecraft",
	}

	if cmd := cfg.Command(); !reflect.DeepEqual(cmd, expect) {
		t.Errorf("got %#v, expected %#v", cmd, expect)
	}
}

func TestSupervisorLifecycle(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, j, sp := newTestSupervisor(t, p)

	if s.Status() != Offline {
		t.Fatal("unexpected initial status", s.Status())
	}

	s.Run()

	if s.Status() != Loading {
		t.Fatal("expected loading after run, got", s.Status())
	}

	if cmd := sp.cmds[0]; cmd.Dir != "/srv/minecraft" {
		t.Errorf("unexpected working directory %q", cmd.Dir)
	}

	feed(t, p,
		"[12:00:00] [Server thread/INFO]: Preparing level \"world\"",
		doneLine,
	)

	if s.Status() != Online {
		t.Fatal("expected online after done, got", s.Status())
	}

	feed(t, p, loginLine)

	if users := s.OnlineUsers(); !reflect.DeepEqual(users, []OnlineUser{steve}) {
		t.Fatalf("unexpected online users %#v", users)
	}

	feed(t, p, logoutLine)

	if users := s.OnlineUsers(); len(users) != 0 {
		t.Fatalf("expected empty roster, got %#v", users)
	}

	s.Kill()

	if s.Status() != Offline {
		t.Fatal("expected offline after kill, got", s.Status())
	}

	if sigs := p.Signals(); !reflect.DeepEqual(sigs, []os.Signal{syscall.SIGTERM}) {
		t.Errorf("unexpected signals %v", sigs)
	}

	p.Exit(0)
	waitJournals(t, j, 6)

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventRunningAnnounced{Took: "12.3s"},
		&EventUserLoggedIn{steve},
		&EventUserLoggedOut{User: "Steve", Time: testTime},
		&EventKilled{PID: 1},
		&EventProcessExited{PID: 1, ExitCode: 0},
	})
}

func TestSupervisorRunIdempotent(t *testing.T) {
	p1 := exec.NewPipeProcess(1, -1)
	p2 := exec.NewPipeProcess(2, -1)
	s, j, sp := newTestSupervisor(t, p1, p2)

	s.Run()
	s.Run()

	if n := sp.Spawned(); n != 1 {
		t.Fatalf("expected 1 spawned process, got %d", n)
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
	})
}

func TestSupervisorKillTwice(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, j, _ := newTestSupervisor(t, p)

	// Killing before anything runs does nothing.
	s.Kill()

	s.Run()
	feed(t, p, doneLine, loginLine)

	s.Kill()

	if users := s.OnlineUsers(); len(users) != 0 {
		t.Fatalf("expected empty roster after kill, got %#v", users)
	}

	s.Kill()

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventRunningAnnounced{Took: "12.3s"},
		&EventUserLoggedIn{steve},
		&EventKilled{PID: 1},
	})

	if sigs := p.Signals(); len(sigs) != 1 {
		t.Errorf("expected a single signal, got %v", sigs)
	}
}

func TestSupervisorOnlineUsersIsCopy(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, _, _ := newTestSupervisor(t, p)

	if users := s.OnlineUsers(); users == nil || len(users) != 0 {
		t.Fatalf("expected empty non-nil users, got %#v", users)
	}

	s.Run()
	feed(t, p, loginLine)

	users := s.OnlineUsers()
	users[0].User = "Mallory"

	if again := s.OnlineUsers(); !reflect.DeepEqual(again, []OnlineUser{steve}) {
		t.Errorf("roster was mutated through OnlineUsers: %#v", again)
	}
}

func TestSupervisorStderr(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, j, _ := newTestSupervisor(t, p)

	errored := make(chan string, 1)
	s.OnErrored(func(text string) { errored <- text })

	s.Run()
	feed(t, p, doneLine)

	if err := p.WriteStderr("Exception in thread \"main\"\n"); err != nil {
		t.Fatal("failed to write stderr:", err)
	}

	select {
	case text := <-errored:
		if text != "Exception in thread \"main\"\n" {
			t.Errorf("unexpected errored text %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for errored")
	}

	if s.Status() != Offline {
		t.Error("expected stderr to force offline, got", s.Status())
	}

	// The process is still there to be killed.
	if s.IsProcessStopped() {
		t.Error("process unexpectedly stopped after stderr")
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventRunningAnnounced{Took: "12.3s"},
		&EventErrored{Text: "Exception in thread \"main\"\n"},
	})
}

func TestSupervisorSendCommand(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, _, _ := newTestSupervisor(t, p)

	// Dropped, since nothing is running.
	s.SendCommand("list")

	s.Run()

	s.SendSay("hello world")
	s.SendSay("hi", "")
	s.SendKick("Steve")
	s.SendKick("Steve", "be nice")
	s.SendCommand("list")

	const expect = "" +
		"say hello world\n" +
		"say hi\n" +
		"kick Steve\n" +
		"kick Steve be nice\n" +
		"list\n"

	if input := p.Input(); input != expect {
		t.Errorf("got input %q, expected %q", input, expect)
	}

	s.Kill()

	// Dropped again.
	s.SendCommand("list")

	if input := p.Input(); input != expect {
		t.Errorf("input changed after kill: %q", input)
	}
}

func TestSupervisorIsProcessStopped(t *testing.T) {
	t.Run("no handle", func(t *testing.T) {
		s, _, _ := newTestSupervisor(t)

		if !s.IsProcessStopped() {
			t.Error("expected stopped without a process")
		}
	})

	t.Run("alive", func(t *testing.T) {
		p := exec.NewPipeProcess(1, -1)
		s, _, _ := newTestSupervisor(t, p)
		s.Run()

		if s.IsProcessStopped() {
			t.Error("expected running with a live process")
		}
	})

	t.Run("exited before reaping", func(t *testing.T) {
		p := exec.NewPipeProcess(1, -1)
		s, _, _ := newTestSupervisor(t, p)
		s.Run()

		// Swap the process in directly so the wait routine of p can't reap
		// the dead one.
		dead := exec.NewPipeProcess(2, -1)
		dead.Exit(1)

		s.mutex.Lock()
		s.proc = dead
		s.mutex.Unlock()

		if !s.IsProcessStopped() {
			t.Error("expected stopped with an exited process")
		}
	})

	t.Run("killed", func(t *testing.T) {
		p := exec.NewPipeProcess(1, -1)
		s, _, _ := newTestSupervisor(t, p)
		s.Run()
		s.Kill()

		if !s.IsProcessStopped() {
			t.Error("expected stopped after kill")
		}
	})
}

func TestSupervisorRestart(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		p := exec.NewPipeProcess(1, -1)
		s, j, _ := newTestSupervisor(t, p)

		s.Restart()

		j.Verify(t, true, []Event{
			&EventStarted{PID: 1},
		})
	})

	t.Run("graceful", func(t *testing.T) {
		p1 := exec.NewPipeProcess(1, 0)
		p2 := exec.NewPipeProcess(2, -1)
		s, j, _ := newTestSupervisor(t, p1, p2)

		s.Run()
		feed(t, p1, doneLine, loginLine)

		s.Restart()

		if !exec.Exited(p1) {
			t.Fatal("old process still alive after restart")
		}

		if s.Status() != Loading {
			t.Error("expected loading after restart, got", s.Status())
		}

		if users := s.OnlineUsers(); len(users) != 0 {
			t.Errorf("roster survived restart: %#v", users)
		}

		waitJournals(t, j, 6)

		j.Verify(t, false, []Event{
			&EventStarted{PID: 1},
			&EventRunningAnnounced{Took: "12.3s"},
			&EventUserLoggedIn{steve},
		})

		// The exit of the old process is reported asynchronously, so only the
		// kill is known to come before the new process starts.
		index := map[string]int{}
		for i, ev := range j.Verify(t, false, nil) {
			switch ev := ev.(type) {
			case *EventKilled:
				index["killed 1"] = i
			case *EventStarted:
				if ev.PID == 2 {
					index["started 2"] = i
				}
			case *EventProcessExited:
				if ev.PID == 1 && ev.ExitCode == 0 {
					index["exited 1"] = i
				}
			}
		}

		for _, name := range []string{"killed 1", "started 2", "exited 1"} {
			if _, ok := index[name]; !ok {
				t.Errorf("missing event %s", name)
			}
		}

		if index["killed 1"] > index["started 2"] {
			t.Error("new process started before the old one was killed")
		}
	})

	t.Run("kill timeout", func(t *testing.T) {
		p1 := exec.NewPipeProcess(1, -1) // ignores SIGTERM
		p2 := exec.NewPipeProcess(2, -1)
		s, _, sp := newTestSupervisor(t, p1, p2)
		s.WaitTimeout = time.Millisecond

		s.Run()
		s.Restart()

		sigs := p1.Signals()
		if !reflect.DeepEqual(sigs, []os.Signal{syscall.SIGTERM, os.Kill}) {
			t.Errorf("unexpected signals %v", sigs)
		}

		if status := p1.Wait(); status.Code != -1 {
			t.Errorf("expected the old process to be killed, got %#v", status)
		}

		if n := sp.Spawned(); n != 2 {
			t.Errorf("expected 2 spawned processes, got %d", n)
		}
	})
}

func TestSupervisorCrash(t *testing.T) {
	p1 := exec.NewPipeProcess(1, -1)
	p2 := exec.NewPipeProcess(2, -1)
	s, j, sp := newTestSupervisor(t, p1, p2)

	var exits []EventProcessExited
	var exitMutex sync.Mutex
	s.OnProcessExited(func(ev EventProcessExited) {
		exitMutex.Lock()
		exits = append(exits, ev)
		exitMutex.Unlock()
	})

	s.Run()
	feed(t, p1, doneLine, loginLine)

	p1.Exit(1)

	waitFor(t, "exit", func() bool {
		exitMutex.Lock()
		defer exitMutex.Unlock()
		return len(exits) > 0
	})

	if s.Status() != Offline {
		t.Error("expected offline after crash, got", s.Status())
	}

	if users := s.OnlineUsers(); len(users) != 0 {
		t.Errorf("roster survived crash: %#v", users)
	}

	if !s.IsProcessStopped() {
		t.Error("expected stopped after crash")
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventRunningAnnounced{Took: "12.3s"},
		&EventUserLoggedIn{steve},
		&EventProcessExited{PID: 1, ExitCode: 1},
	})

	exitMutex.Lock()
	// Crashing isn't the same as getting SIGKILLed.
	if len(exits) != 1 || !exits[0].IsGraceful() {
		t.Errorf("unexpected exits %#v", exits)
	}
	exitMutex.Unlock()

	// Nothing restarts the server automatically.
	if n := sp.Spawned(); n != 1 {
		t.Fatalf("expected no automatic restart, got %d spawns", n)
	}

	s.Run()

	if n := sp.Spawned(); n != 2 {
		t.Errorf("expected run after crash to spawn, got %d spawns", n)
	}
}

func TestSupervisorSpawnError(t *testing.T) {
	s, j, _ := newTestSupervisor(t)

	s.Run()

	if s.Status() != Offline {
		t.Error("expected offline after spawn error, got", s.Status())
	}

	if !s.IsProcessStopped() {
		t.Error("expected stopped after spawn error")
	}

	j.Verify(t, true, []Event{
		&EventProcessSpawnError{Reason: "java: not found"},
	})
}

func TestSupervisorLongLine(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, _, _ := newTestSupervisor(t, p)

	s.Run()

	// A stack trace dumped on a single line.
	if err := p.WriteStdout(strings.Repeat("at", maxLineSize)); err != nil {
		t.Fatal("failed to write long line:", err)
	}

	feed(t, p, doneLine, loginLine)

	if s.Status() != Online {
		t.Error("expected online after a long line, got", s.Status())
	}

	if users := s.OnlineUsers(); !reflect.DeepEqual(users, []OnlineUser{steve}) {
		t.Errorf("unexpected online users after a long line %#v", users)
	}
}

func TestReadLine(t *testing.T) {
	const max = 8

	input := "short\r\n" +
		"exactly8\n" +
		"way too long for it\n" +
		"\n" +
		strings.Repeat("x", 100) + "\n" +
		"last"

	r := bufio.NewReaderSize(strings.NewReader(input), 16)

	type result struct {
		line string
		ok   bool
	}

	var results []result
	for {
		line, ok, err := readLine(r, max)
		if err != nil {
			if err != io.EOF {
				t.Fatal("unexpected error:", err)
			}
			break
		}
		results = append(results, result{line, ok})
	}

	expect := []result{
		{"short", true},
		{"exactly8", true},
		{"", false},
		{"", true},
		{"", false},
		{"last", true},
	}

	if !reflect.DeepEqual(results, expect) {
		t.Errorf("got %#v, expected %#v", results, expect)
	}
}

func TestSupervisorStaleEvents(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, j, _ := newTestSupervisor(t, p)

	s.Run()
	s.Kill()

	// The old process is still writing while it shuts down.
	feed(t, p, doneLine, loginLine)

	if s.Status() != Offline {
		t.Error("stale done line changed status to", s.Status())
	}

	if users := s.OnlineUsers(); len(users) != 0 {
		t.Errorf("stale login added users: %#v", users)
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventKilled{PID: 1},
	})
}

func TestSupervisorStaleEventsAfterRerun(t *testing.T) {
	p1 := exec.NewPipeProcess(1, -1)
	p2 := exec.NewPipeProcess(2, -1)
	s, j, _ := newTestSupervisor(t, p1, p2)

	s.Run()
	s.Kill()
	s.Run()

	// The old process is still shutting down while the new one loads.
	feed(t, p1, doneLine, loginLine)
	feed(t, p1, "[12:00:03] [Server thread/INFO]: "+restartChatLine)

	if s.Status() != Loading {
		t.Error("old process changed the new one's status to", s.Status())
	}

	if users := s.OnlineUsers(); len(users) != 0 {
		t.Errorf("old process added users: %#v", users)
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventKilled{PID: 1},
		&EventStarted{PID: 2},
	})
}

const restartChatLine = "<Steve> #server_restart now"

func TestSupervisorStats(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, j, _ := newTestSupervisor(t, p)

	s.metrics = &mockMetrics{
		usages: []exec.Usage{{CPUPercent: 150, MemoryBytes: 4096}},
	}
	s.StatsInterval = time.Millisecond

	var samples []float64
	var sampleMutex sync.Mutex
	s.OnStatsSample(func(cpu float64, mem uint64) {
		sampleMutex.Lock()
		samples = append(samples, cpu)
		sampleMutex.Unlock()
	})

	s.Run()

	// The second sample fails, which stops the sampler quietly.
	waitJournals(t, j, 2)

	s.mutex.Lock()
	sampler := s.sampler
	s.mutex.Unlock()

	select {
	case <-sampler.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not stop on failure")
	}

	j.Verify(t, true, []Event{
		&EventStarted{PID: 1},
		&EventStatsSample{CPUPercent: 37.5, MemoryBytes: 4096},
	})

	sampleMutex.Lock()
	if !reflect.DeepEqual(samples, []float64{37.5}) {
		t.Errorf("unexpected samples %v", samples)
	}
	sampleMutex.Unlock()

	// A lost sampler isn't an error.
	if s.Status() != Loading {
		t.Error("sampling failure changed status to", s.Status())
	}
}

func TestSupervisorStatsStopOnErrored(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, _, _ := newTestSupervisor(t, p)

	metrics := &mockMetrics{}
	for i := 0; i < 10000; i++ {
		metrics.usages = append(metrics.usages, exec.Usage{CPUPercent: 100, MemoryBytes: 1})
	}

	s.metrics = metrics
	s.StatsInterval = time.Millisecond

	s.Run()

	waitFor(t, "a sample", func() bool { return metrics.Samples() > 0 })

	s.mutex.Lock()
	sampler := s.sampler
	s.mutex.Unlock()

	errored := make(chan struct{}, 1)
	s.OnErrored(func(string) { errored <- struct{}{} })

	p.WriteStderr("oops")

	select {
	case <-errored:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for errored")
	}

	select {
	case <-sampler.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sampler still running while offline")
	}

	samples := metrics.Samples()
	time.Sleep(20 * time.Millisecond)

	if n := metrics.Samples(); n != samples {
		t.Errorf("sampled %d more times while offline", n-samples)
	}

	// The process is still alive, it's just not sampled anymore.
	if s.IsProcessStopped() {
		t.Error("process unexpectedly stopped after stderr")
	}
}

func TestSupervisorServerProperty(t *testing.T) {
	s, _, _ := newTestSupervisor(t)

	if _, ok := s.ServerProperty("motd"); ok {
		t.Error("unexpected property without a source")
	}

	s.props = mapProperties{"motd": "A Minecraft Server"}

	if motd, ok := s.ServerProperty("motd"); !ok || motd != "A Minecraft Server" {
		t.Errorf("unexpected motd %q", motd)
	}
}

type mapProperties map[string]string

func (m mapProperties) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func TestSupervisorEcho(t *testing.T) {
	p := exec.NewPipeProcess(1, -1)
	s, _, _ := newTestSupervisor(t, p)

	var stdout, stderr lockedBuilder
	s.echoOut = &stdout
	s.echoErr = &stderr

	errored := make(chan struct{}, 1)
	s.OnErrored(func(string) { errored <- struct{}{} })

	s.Run()
	feed(t, p, doneLine)
	p.WriteStderr("oops")

	select {
	case <-errored:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for errored")
	}

	// The empty line fed after it may not have been echoed yet.
	if out := stdout.String(); !strings.HasPrefix(out, doneLine+"\n") {
		t.Errorf("unexpected echoed stdout %q", out)
	}

	if out := stderr.String(); out != "oops" {
		t.Errorf("unexpected echoed stderr %q", out)
	}
}

type lockedBuilder struct {
	mutex sync.Mutex
	b     strings.Builder
}

func (b *lockedBuilder) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.b.Write(p)
}

func (b *lockedBuilder) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.b.String()
}
