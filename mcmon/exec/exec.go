// Package exec provides an abstraction around package os' Process
// implementation for easier testing.
package exec

import (
	"io"
	"os"
	osexec "os/exec"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Command describes how to start a process.
type Command struct {
	Path string
	Args []string
	Dir  string
}

// Process describes a command process with its standard streams attached.
type Process interface {
	PID() int
	// Stdin returns the write end of the process' standard input.
	Stdin() io.WriteCloser
	// Stdout and Stderr return the read ends of the process' output streams.
	// They return io.EOF once the process exits and the streams are drained.
	Stdout() io.Reader
	Stderr() io.Reader
	Signal(os.Signal) error
	Kill() error
	// Wait waits for the process to exit. It may be called multiple times
	// and from multiple goroutines.
	Wait() ExitStatus
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID   int
	Code  int // -1 for interrupt
	Error error
}

// Exited returns true if the process is known to have exited.
func Exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

type process struct {
	*os.Process
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	done   chan struct{}
	status ExitStatus
}

var _ Process = (*process)(nil)

// StartProcess creates a new command process on the system. The command path
// is looked up in $PATH if it doesn't contain a slash.
func StartProcess(cmd Command) (Process, error) {
	path, err := osexec.LookPath(cmd.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find executable")
	}

	// Linux-only: we need to set the current PID as the subreaper to prevent
	// the server from disowning itself, because we might accidentally spawn
	// multiple instances of it while thinking it's dead.
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return nil, errors.Wrap(err, "failed to set subreaper")
	}

	var files pipes
	defer files.closeChild()

	if err := files.open(); err != nil {
		files.closeParent()
		return nil, err
	}

	argv := append([]string{path}, cmd.Args...)
	attr := &os.ProcAttr{
		Dir:   cmd.Dir,
		Env:   os.Environ(),
		Files: []*os.File{files.child[0], files.child[1], files.child[2]},
		// Linux-only: we need the child to die when we do, because two
		// servers can't share the same world directory.
		Sys: &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM},
	}

	result := make(chan error)

	proc := &process{
		stdin:  files.parent[0],
		stdout: files.parent[1],
		stderr: files.parent[2],
		done:   make(chan struct{}),
	}

	go func() {
		// Pdeathsig is sent when the thread that started the child exits, not
		// the process, so that thread must outlive the child.
		// See https://github.com/golang/go/issues/27505.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		p, err := os.StartProcess(path, argv, attr)
		if err != nil {
			result <- err
			return
		}

		proc.Process = p
		result <- nil

		proc.wait()
	}()

	if err := <-result; err != nil {
		files.closeParent()
		return nil, errors.Wrap(err, "failed to start process")
	}

	return proc, nil
}

func (proc *process) wait() {
	s, err := proc.Process.Wait()

	proc.status = ExitStatus{PID: proc.Pid, Error: err, Code: -1}
	if s != nil {
		proc.status.Code = s.ExitCode()
	}

	// The write end is useless now. The read ends are left for the readers to
	// drain; they'll get EOF since the child's ends are gone.
	proc.stdin.Close()
	close(proc.done)
}

func (proc *process) PID() int              { return proc.Pid }
func (proc *process) Stdin() io.WriteCloser { return proc.stdin }
func (proc *process) Stdout() io.Reader     { return proc.stdout }
func (proc *process) Stderr() io.Reader     { return proc.stderr }
func (proc *process) Done() <-chan struct{} { return proc.done }

// Signal sends a signal to the process. It returns os.ErrProcessDone if the
// process has already exited.
func (proc *process) Signal(sig os.Signal) error {
	if Exited(proc) {
		return os.ErrProcessDone
	}
	return proc.Process.Signal(sig)
}

func (proc *process) Kill() error {
	return proc.Signal(unix.SIGKILL)
}

func (proc *process) Wait() ExitStatus {
	<-proc.done
	return proc.status
}

// pipes holds the three standard stream pipes. child holds the ends given to
// the child, parent the ends we keep.
type pipes struct {
	child  [3]*os.File
	parent [3]*os.File
}

func (p *pipes) open() error {
	for i := range p.child {
		r, w, err := os.Pipe()
		if err != nil {
			return errors.Wrap(err, "failed to create pipe")
		}

		// Stdin is read by the child; stdout and stderr are written by it.
		if i == 0 {
			p.child[i], p.parent[i] = r, w
		} else {
			p.child[i], p.parent[i] = w, r
		}
	}

	return nil
}

func (p *pipes) closeChild() {
	closeAll(p.child[:])
}

func (p *pipes) closeParent() {
	closeAll(p.parent[:])
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
