package mcmon

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/mcmon/mcmon/exec"
	"golang.org/x/sys/unix"
)

// ProcessWaitTimeout is the time to wait for the server to gracefully exit on
// restart until forcefully killing it.
var ProcessWaitTimeout = time.Minute

// maxLineSize is the longest stdout line that will be parsed. Longer lines,
// usually giant stack traces, are skipped.
const maxLineSize = 1 << 20

// PropertySource provides the server's configuration properties.
type PropertySource interface {
	Get(key string) (string, bool)
}

// Config describes how to start the server.
type Config struct {
	// Java is the Java executable. It defaults to "java".
	Java string
	// JVMArgs are passed to Java before -jar, e.g. -Xmx4G.
	JVMArgs []string
	// JarPath is the path to the server jar. The server runs in its
	// directory.
	JarPath string

	// Properties is the source of ServerProperty. It may be nil.
	Properties PropertySource
	// Metrics is used to sample the server's resource usage. It defaults to
	// exec.NewProcessMetrics.
	Metrics exec.Metrics

	// EchoStdout and EchoStderr, if not nil, receive a copy of the server's
	// output as it is read.
	EchoStdout io.Writer
	EchoStderr io.Writer
}

// Command returns the command used to start the server.
func (c Config) Command() exec.Command {
	java := c.Java
	if java == "" {
		java = "java"
	}

	jar := filepath.Clean(c.JarPath)

	args := make([]string, 0, len(c.JVMArgs)+3)
	args = append(args, c.JVMArgs...)
	args = append(args, "-jar", jar, "nogui")

	return exec.Command{
		Path: java,
		Args: args,
		Dir:  filepath.Dir(jar),
	}
}

// Supervisor supervises a single server process. All its commands are safe to
// call from any goroutine, including from event handlers, and none of them
// fail: failures are published as events instead.
//
// Events are published on the goroutine that produced them: Run and Kill
// publish on the caller's, and the process' output, exit and samples on their
// own. Events from one source arrive in order, but events from different
// sources may interleave, e.g. a racing Kill may publish EventKilled before
// Run publishes EventStarted.
type Supervisor struct {
	WaitTimeout   time.Duration
	StatsInterval time.Duration

	bus     Bus
	cmd     exec.Command
	props   PropertySource
	metrics exec.Metrics
	echoOut io.Writer
	echoErr io.Writer

	startProc func(exec.Command) (exec.Process, error)
	cores     func() int
	now       func() time.Time

	// states
	mutex   sync.Mutex
	status  Status
	proc    exec.Process
	sampler *Sampler
	roster  Roster
}

// NewSupervisor creates a new supervisor. The server is not started until Run
// is called.
func NewSupervisor(cfg Config) *Supervisor {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = exec.NewProcessMetrics()
	}

	return &Supervisor{
		WaitTimeout:   ProcessWaitTimeout,
		StatsInterval: DefaultStatsInterval,

		cmd:     cfg.Command(),
		props:   cfg.Properties,
		metrics: metrics,
		echoOut: cfg.EchoStdout,
		echoErr: cfg.EchoStderr,

		startProc: exec.StartProcess,
		cores:     exec.LogicalCores,
		now:       time.Now,
	}
}

// Bus returns the supervisor's event bus, mostly for catch-all subscribers.
func (s *Supervisor) Bus() *Bus {
	return &s.bus
}

// Status returns the current server status.
func (s *Supervisor) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.status
}

// OnlineUsers returns a copy of the users currently on the server, in the order
// they logged in.
func (s *Supervisor) OnlineUsers() []OnlineUser {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.roster.Snapshot()
}

// ServerProperty returns the server's configuration property with the given
// key.
func (s *Supervisor) ServerProperty(key string) (string, bool) {
	if s.props == nil {
		return "", false
	}
	return s.props.Get(key)
}

// IsProcessStopped returns true if there's no server process, or if there is
// one but it has exited and hasn't been cleaned up yet.
func (s *Supervisor) IsProcessStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.stopped()
}

func (s *Supervisor) stopped() bool {
	return s.proc == nil || exec.Exited(s.proc)
}

// Run starts the server. It does nothing if the server is already running.
func (s *Supervisor) Run() {
	s.mutex.Lock()

	if !s.stopped() {
		s.mutex.Unlock()
		return
	}

	// An exited process that the wait routine hasn't caught up to yet.
	if s.proc != nil {
		s.detach()
	}

	p, err := s.startProc(s.cmd)
	if err != nil {
		s.mutex.Unlock()
		s.bus.Emit(&EventProcessSpawnError{Reason: err.Error()})
		return
	}

	s.proc = p
	s.status = Loading

	s.mutex.Unlock()

	s.bus.Emit(&EventStarted{PID: p.PID()})

	// Nothing from the process may come before its started event.
	s.mutex.Lock()
	if s.proc == p {
		s.sampler = StartSampler(
			context.Background(), p.PID(), s.StatsInterval, s.metrics, s.cores(),
			func(ev Event) { s.emitFrom(p, ev) },
		)
	}
	s.mutex.Unlock()

	go s.readStdout(p)
	go s.readStderr(p)
	go s.wait(p)
}

// Kill stops the server. It does nothing if the server is not running. Kill
// does not wait for the process to exit.
func (s *Supervisor) Kill() {
	s.kill()
}

func (s *Supervisor) kill() exec.Process {
	s.mutex.Lock()

	if s.stopped() {
		s.mutex.Unlock()
		return nil
	}

	p := s.proc
	s.detach()

	s.mutex.Unlock()

	p.Stdin().Close()

	if err := p.Signal(unix.SIGTERM); err != nil {
		p.Kill()
	}

	s.bus.Emit(&EventKilled{PID: p.PID()})
	return p
}

// Restart kills the server and starts it again. Unlike Kill, Restart waits
// for the old process to exit first, killing it forcefully if it takes longer
// than WaitTimeout. If the server isn't running, Restart is the same as Run.
func (s *Supervisor) Restart() {
	if p := s.kill(); p != nil {
		s.awaitExit(p)
	}

	s.Run()
}

func (s *Supervisor) awaitExit(p exec.Process) {
	after := time.NewTimer(s.WaitTimeout)
	defer after.Stop()

	select {
	case <-p.Done():
	case <-after.C:
		// Still alive after the timeout. SIGKILL it, since there's not much
		// else we can do.
		p.Kill()
		<-p.Done()
	}
}

// detach drops the current process and everything that goes with it. The
// caller must hold the mutex.
func (s *Supervisor) detach() {
	s.stopSampler()
	s.roster.Clear()
	s.status = Offline
	s.proc = nil
}

// stopSampler stops the current process' sampler, if any. The caller must hold
// the mutex.
func (s *Supervisor) stopSampler() {
	if s.sampler != nil {
		s.sampler.Stop()
		s.sampler = nil
	}
}

// SendCommand writes the command into the server's console. The command is
// dropped if the server is not running. There's no acknowledgement, so a
// command sent while the server is shutting down may be lost.
func (s *Supervisor) SendCommand(command string) {
	s.mutex.Lock()
	p := s.proc
	stopped := s.stopped()
	s.mutex.Unlock()

	if stopped {
		return
	}

	io.WriteString(p.Stdin(), command+"\n")
}

// SendSay broadcasts a message to everyone on the server. Flags, if any, are
// put before the message.
func (s *Supervisor) SendSay(message string, flags ...string) {
	parts := make([]string, 0, len(flags)+1)
	parts = append(parts, flags...)
	parts = append(parts, message)

	s.SendCommand(joinCommand("say", parts...))
}

// SendKick kicks the user off the server with an optional reason.
func (s *Supervisor) SendKick(user string, reason ...string) {
	s.SendCommand(joinCommand("kick", append([]string{user}, reason...)...))
}

func joinCommand(name string, parts ...string) string {
	var b strings.Builder
	b.WriteString(name)

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(part)
	}

	return b.String()
}

func (s *Supervisor) readStdout(p exec.Process) {
	defer closeReader(p.Stdout())

	r := bufio.NewReaderSize(p.Stdout(), 64*1024)

	for {
		line, ok, err := readLine(r, maxLineSize)
		if err != nil {
			return
		}
		if !ok {
			continue
		}

		if s.echoOut != nil {
			io.WriteString(s.echoOut, line+"\n")
		}

		ev := ParseLine(LogText(line), s.now())
		if ev != nil {
			s.emitFrom(p, ev)
		}
	}
}

// readLine reads a single line without its line ending. A line longer than max
// is consumed entirely but not returned, in which case ok is false. A last line
// without a new line is still returned; the error comes on the next call.
func readLine(r *bufio.Reader, max int) (line string, ok bool, err error) {
	var buf []byte
	var tooLong bool

	for {
		chunk, err := r.ReadSlice('\n')

		if !tooLong {
			if len(buf)+len(chunk) > max+len("\r\n") {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err != nil && (tooLong || len(buf) == 0):
			return "", false, err
		case tooLong:
			return "", false, nil
		}

		line = strings.TrimSuffix(string(buf), "\n")
		line = strings.TrimSuffix(line, "\r")

		if len(line) > max {
			return "", false, nil
		}
		return line, true, nil
	}
}

func (s *Supervisor) readStderr(p exec.Process) {
	defer closeReader(p.Stderr())

	buf := make([]byte, 4096)

	for {
		n, err := p.Stderr().Read(buf)
		if n > 0 {
			if s.echoErr != nil {
				s.echoErr.Write(buf[:n])
			}
			s.emitFrom(p, &EventErrored{Text: string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

func closeReader(r io.Reader) {
	if closer, ok := r.(io.Closer); ok {
		closer.Close()
	}
}

// emitFrom applies the event to the supervisor's state and publishes it, but
// only if p is still the current process. Events from a replaced process are
// dropped.
//
// The check and the state change are atomic, but publishing happens outside the
// lock so that handlers may call back into the supervisor. An event that passed
// the check may therefore still be published after a concurrent Kill's
// EventKilled; it will never have touched the state of the next process.
func (s *Supervisor) emitFrom(p exec.Process, ev Event) {
	s.mutex.Lock()

	if s.proc != p {
		s.mutex.Unlock()
		return
	}

	switch ev.(type) {
	case *EventRunningAnnounced:
		s.status = Online
	case *EventErrored:
		// Sampling only happens while the server is loading or online.
		s.status = Offline
		s.stopSampler()
	case *EventStatsSample:
		if s.status == Offline {
			s.mutex.Unlock()
			return
		}
	case *EventUserLoggedIn, *EventUserLoggedOut:
		s.roster.Apply(ev)
	}

	s.mutex.Unlock()

	s.bus.Emit(ev)
}

// wait waits for the process to exit and reports it. If the process exited on
// its own, it is also detached.
func (s *Supervisor) wait(p exec.Process) {
	status := p.Wait()

	s.mutex.Lock()
	if s.proc == p {
		s.detach()
	}
	s.mutex.Unlock()

	ev := &EventProcessExited{
		PID:      status.PID,
		ExitCode: status.Code,
	}

	if status.Error != nil && status.Error != os.ErrProcessDone {
		ev.Error = status.Error.Error()
	}

	s.bus.Emit(ev)
}
