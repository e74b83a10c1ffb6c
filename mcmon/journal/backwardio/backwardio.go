// Package backwardio implements a buffered scanner that scans backwards.
package backwardio

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

var maxTok = bufio.MaxScanTokenSize

// Scanner reads delimited tokens backwards, from the end of the reader to its
// start. It is similar to bufio.Reader, except tokens come out in reverse.
type Scanner struct {
	r   io.ReadSeeker
	buf []byte
	end int64 // offset of buf's first byte in r
}

// NewScanner creates a new backwards scanner. The reader's current offset is
// ignored; scanning always starts at its end.
func NewScanner(r io.ReadSeeker) *Scanner {
	return &Scanner{r: r}
}

// ReadUntil returns the next token, going backwards, that's preceded by delim
// or by the start of the reader. The delimiter is not included. io.EOF is
// returned once the start of the reader has been passed, and bufio.ErrTooLong
// is returned for tokens that don't fit in the buffer.
func (s *Scanner) ReadUntil(delim byte) ([]byte, error) {
	for {
		if s.buf != nil {
			if tok, ok := s.cut(delim); ok {
				return tok, nil
			}

			if len(s.buf) == cap(s.buf) {
				// We've looked through a full buffer without finding a
				// delimiter. Filling up further won't do anything.
				return nil, bufio.ErrTooLong
			}
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// cut slices off the last token in the buffer.
func (s *Scanner) cut(delim byte) ([]byte, bool) {
	for i := len(s.buf) - 1; i >= 0; i-- {
		isBOF := i == 0 && s.end == 0

		// Skip until we hit a delimiter, unless we're at the very start of
		// the reader, which counts as one.
		if s.buf[i] != delim && !isBOF {
			continue
		}

		tok := s.buf[i:]
		s.buf = s.buf[:i]

		if len(tok) > 0 && tok[0] == delim {
			tok = tok[1:]

			// A leading delimiter at the start of the reader still has an
			// empty token before it. Leave a byte behind so that it's
			// returned on the next call.
			if isBOF && len(tok) > 0 {
				s.buf = s.buf[:1]
			}
		}

		return tok, true
	}

	return nil, false
}

func (s *Scanner) fill() error {
	if s.buf == nil {
		o, err := s.r.Seek(0, io.SeekEnd)
		if err != nil {
			return errors.Wrap(err, "failed to find end of file")
		}

		s.end = o
		s.buf = make([]byte, 0, maxTok)
	}

	if s.end == 0 {
		return io.EOF
	}

	// How much we can read, leaving the unconsumed tail of the buffer at its
	// end.
	max := int64(cap(s.buf))

	if len(s.buf) > 0 {
		max -= int64(len(s.buf))
		s.buf = s.buf[:cap(s.buf)]
		copy(s.buf[max:], s.buf)
	}

	seekTo := s.end - max
	min := int64(0)

	// Near the start of the file, what we read may not fill the buffer, so
	// start writing further into it.
	if seekTo < 0 {
		seekTo = 0
		min = max - s.end
	}

	if _, err := s.r.Seek(seekTo, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek backwards")
	}

	if _, err := io.ReadFull(s.r, s.buf[min:max]); err != nil {
		return errors.Wrap(err, "failed to read seeked chunk")
	}

	s.end = seekTo
	s.buf = s.buf[min:cap(s.buf)]

	return nil
}
