// Package linecodec frames a byte stream as newline-delimited UTF-8 text.
package linecodec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

// DefaultMaxLineLength bounds a single decoded line when no limit is given.
const DefaultMaxLineLength = 4096

// ErrDecode matches every framing failure returned by Reader.
var ErrDecode = errors.New("linecodec: decode error")

var (
	// ErrLineTooLong reports a line exceeding the configured maximum length.
	ErrLineTooLong = fmt.Errorf("%w: line too long", ErrDecode)
	// ErrInvalidUTF8 reports a line that is not valid UTF-8.
	ErrInvalidUTF8 = fmt.Errorf("%w: invalid utf-8", ErrDecode)
)

// Reader decodes one line at a time. A Reader must not be used again after it
// returned an error.
type Reader struct {
	rd  *bufio.Reader
	max int
	buf []byte
}

// NewReader wraps r. maxLen is the longest accepted line in bytes, terminator
// excluded; values <= 0 select DefaultMaxLineLength.
func NewReader(r io.Reader, maxLen int) *Reader {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &Reader{
		rd:  bufio.NewReaderSize(r, min(maxLen+2, 64*1024)),
		max: maxLen,
	}
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator. A
// final unterminated line is returned as is; io.EOF follows it.
func (r *Reader) ReadLine() (string, error) {
	line := r.buf[:0]
	for {
		chunk, err := r.rd.ReadSlice('\n')
		line = append(line, chunk...)
		r.buf = line

		switch {
		case err == nil:
			return r.finish(line[:len(line)-1])
		case errors.Is(err, bufio.ErrBufferFull):
			// A trailing '\r' may still belong to the terminator.
			if len(line) > r.max+1 {
				return "", ErrLineTooLong
			}
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return "", io.EOF
			}
			return r.finish(line)
		default:
			return "", err
		}
	}
}

func (r *Reader) finish(line []byte) (string, error) {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if len(line) > r.max {
		return "", ErrLineTooLong
	}
	if !utf8.Valid(line) {
		return "", ErrInvalidUTF8
	}
	return string(line), nil
}

// Writer encodes lines onto an underlying stream. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteLine writes s followed by "\n" and flushes. s is written verbatim.
func (w *Writer) WriteLine(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}
