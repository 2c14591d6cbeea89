package dataset

// reader.go cleans raw CSV bytes before they reach encoding/csv:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF), as written by Excel, is dropped
//   - invalid UTF-8 bytes are replaced with '?' so cell text is always valid
//
// Both transforms stream with a few bytes of carry-over, so imports run in
// constant memory regardless of file size.

import (
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const cleanBufSize = 32 * 1024

// cleanReader strips a leading BOM and sanitizes invalid UTF-8.
type cleanReader struct {
	r       io.Reader
	buf     []byte
	out     []byte // cleaned bytes not yet handed out
	pending []byte // raw bytes held back for the next fill
	started bool
	err     error
}

func newCleanReader(r io.Reader) *cleanReader {
	return &cleanReader{
		r:       r,
		buf:     make([]byte, cleanBufSize),
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

func (c *cleanReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(c.out) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		c.fill()
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

func (c *cleanReader) fill() {
	k := copy(c.buf, c.pending)
	c.pending = c.pending[:0]

	m, err := c.r.Read(c.buf[k:])
	data := c.buf[:k+m]
	if err != nil {
		c.err = err
	}
	atEOF := err != nil

	if !c.started {
		if len(data) < len(utf8BOM) && !atEOF {
			c.pending = append(c.pending, data...)
			return
		}
		c.started = true
		data = bytes.TrimPrefix(data, utf8BOM)
	}

	if !atEOF {
		if tail := incompleteTail(data); tail > 0 {
			c.pending = append(c.pending, data[len(data)-tail:]...)
			data = data[:len(data)-tail]
		}
	}

	c.out = data[:sanitize(data)]
}

// sanitize rewrites data in place, replacing every invalid byte with '?'.
// It returns the new length, which never exceeds the old one.
func sanitize(data []byte) int {
	if utf8.Valid(data) {
		return len(data)
	}
	w := 0
	for r := 0; r < len(data); {
		ru, size := utf8.DecodeRune(data[r:])
		if ru == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		copy(data[w:], data[r:r+size])
		w += size
		r += size
	}
	return w
}

// incompleteTail reports how many trailing bytes begin a multi-byte sequence
// that the buffer cuts short.
func incompleteTail(data []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue
		}
		if b < 0xC0 {
			return 0
		}
		need := 2
		switch {
		case b >= 0xF0:
			need = 4
		case b >= 0xE0:
			need = 3
		}
		if i < need {
			return i
		}
		return 0
	}
	return 0
}
