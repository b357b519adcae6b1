package audio

import (
	"errors"
	"io"
)

// WriteSeeker is an in-memory [io.WriteSeeker]. The WAV encoder seeks back to
// patch chunk sizes after writing, which a bytes.Buffer cannot do.
type WriteSeeker struct {
	buf []byte
	pos int
}

var _ io.WriteSeeker = (*WriteSeeker)(nil)

// Write writes p at the current offset, growing the buffer as needed.
func (w *WriteSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, max(end, 2*cap(w.buf)))
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

// Seek implements [io.Seeker].
func (w *WriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("audio: write seeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: write seeker: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents. The slice aliases the internal buffer.
func (w *WriteSeeker) Bytes() []byte { return w.buf }
