package exec

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

// PipeProcess is a process that only exists in memory. Its output is scripted
// by the caller through WriteStdout and WriteStderr, and whatever is written to
// its input can be inspected with Input. It is used for testing.
type PipeProcess struct {
	pid   int
	delay time.Duration

	stdin  lockedBuffer
	stdout *io.PipeReader
	stderr *io.PipeReader
	outW   *io.PipeWriter
	errW   *io.PipeWriter

	once sync.Once
	done chan struct{}

	mutex   sync.Mutex
	exit    int
	signals []os.Signal
}

var _ Process = (*PipeProcess)(nil)

// NewPipeProcess creates a new in-memory process. On SIGINT or SIGTERM, the
// process exits after delay. If delay is negative, those signals are ignored,
// and only Kill or Exit will stop the process.
func NewPipeProcess(pid int, delay time.Duration) *PipeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	return &PipeProcess{
		pid:    pid,
		delay:  delay,
		stdout: outR,
		stderr: errR,
		outW:   outW,
		errW:   errW,
		done:   make(chan struct{}),
	}
}

func (mock *PipeProcess) PID() int              { return mock.pid }
func (mock *PipeProcess) Stdin() io.WriteCloser { return &mock.stdin }
func (mock *PipeProcess) Stdout() io.Reader     { return mock.stdout }
func (mock *PipeProcess) Stderr() io.Reader     { return mock.stderr }
func (mock *PipeProcess) Done() <-chan struct{} { return mock.done }

// WriteStdout writes the given line and a trailing new line into the process'
// standard output. It blocks until the line is read, and it returns an error
// if the process has exited.
func (mock *PipeProcess) WriteStdout(line string) error {
	_, err := io.WriteString(mock.outW, line+"\n")
	return err
}

// WriteStderr writes the given text as-is into the process' standard error.
func (mock *PipeProcess) WriteStderr(text string) error {
	_, err := io.WriteString(mock.errW, text)
	return err
}

// Input returns everything written into the process' standard input so far.
func (mock *PipeProcess) Input() string {
	return mock.stdin.String()
}

// Signals returns the signals received so far.
func (mock *PipeProcess) Signals() []os.Signal {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	return append([]os.Signal(nil), mock.signals...)
}

func (mock *PipeProcess) Signal(sig os.Signal) error {
	mock.mutex.Lock()
	mock.signals = append(mock.signals, sig)
	mock.mutex.Unlock()

	switch sig {
	case os.Interrupt, syscall.SIGTERM: // catchable
		if mock.delay < 0 {
			return nil
		}
	case os.Kill:
		mock.Exit(-1)
		return nil
	default:
		return errors.New("unknown signal")
	}

	go func() {
		if mock.delay > 0 {
			select {
			case <-time.After(mock.delay):
			case <-mock.done:
				return
			}
		}

		mock.Exit(0)
	}()

	return nil
}

func (mock *PipeProcess) Kill() error {
	return mock.Signal(os.Kill)
}

// Exit makes the process exit with the given code, as if it crashed or
// finished on its own. Only the first call has any effect.
func (mock *PipeProcess) Exit(code int) {
	mock.once.Do(func() {
		mock.mutex.Lock()
		mock.exit = code
		mock.mutex.Unlock()

		mock.outW.Close()
		mock.errW.Close()
		mock.stdin.Close()
		close(mock.done)
	})
}

func (mock *PipeProcess) Wait() ExitStatus {
	<-mock.done

	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	return ExitStatus{PID: mock.pid, Code: mock.exit}
}

// lockedBuffer is a concurrently safe write-only buffer that refuses writes
// after being closed.
type lockedBuffer struct {
	mutex  sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return 0, os.ErrClosed
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.closed = true
	return nil
}

func (b *lockedBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.buf.String()
}
