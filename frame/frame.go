// Package frame implements the ordered multi-frame envelope codec shared by
// the control plane and the data plane.
//
// Both planes are carried over a length-delimited, frame-boundary-preserving
// stream: a 4-byte big-endian frame count, followed by that many
// (4-byte big-endian length, body) pairs. This is the same sticky-packet
// fix as a fixed single-frame header (see the original single-frame
// protocol this is generalized from), widened to an ordered sequence of
// opaque frames so the codec never has to parse payload contents.
//
// Frame format on the wire:
//
//	┌──────────────┬─────────────┬─────────┬─────────────┬─────────┬─────┐
//	│ frameCount   │ len(f0)     │ f0      │ len(f1)     │ f1      │ ... │
//	│ uint32       │ uint32      │ bytes   │ uint32      │ bytes   │     │
//	└──────────────┴─────────────┴─────────┴─────────────┴─────────┴─────┘
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MalformedFrame is returned when a received frame sequence violates the
// envelope shape: wrong frame count, wrong version, or an undersized
// header frame.
type MalformedFrame struct {
	Reason string
}

func (e *MalformedFrame) Error() string {
	return fmt.Sprintf("frame: malformed: %s", e.Reason)
}

// ErrNoFrames is returned by ReadFrames when the peer closed the
// connection between messages (a clean EOF at a frame boundary).
var ErrNoFrames = errors.New("frame: no frames (connection closed)")

// maxFrameLen bounds a single frame body to guard against a corrupt length
// prefix causing an enormous allocation.
const maxFrameLen = 256 * 1024 * 1024

// maxFrameCount bounds the number of frames in one envelope for the same
// reason.
const maxFrameCount = 1 << 16

// WriteFrames writes an ordered sequence of opaque frames as one envelope.
// The caller must serialize concurrent writers (see rpctransport) since a
// partial write would interleave with another envelope.
func WriteFrames(w io.Writer, frames [][]byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frames)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	lenBuf := make([]byte, 4)
	for _, f := range frames {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(f)))
		if _, err := w.Write(lenBuf); err != nil {
			return err
		}
		if len(f) > 0 {
			if _, err := w.Write(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFrames reads one envelope (an ordered sequence of opaque frames) from
// r. It returns ErrNoFrames if the stream ends cleanly before any bytes of
// a new envelope are read.
func ReadFrames(r io.Reader) ([][]byte, error) {
	countBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		if err == io.EOF {
			return nil, ErrNoFrames
		}
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf)
	if count > maxFrameCount {
		return nil, &MalformedFrame{Reason: fmt.Sprintf("frame count %d exceeds limit", count)}
	}
	frames := make([][]byte, 0, count)
	lenBuf := make([]byte, 4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n > maxFrameLen {
			return nil, &MalformedFrame{Reason: fmt.Sprintf("frame length %d exceeds limit", n)}
		}
		body := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, err
			}
		}
		frames = append(frames, body)
	}
	return frames, nil
}
