// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MessageTag identifies the kind of payload carried by one multiplexed frame
// (§4.4/§6).
type MessageTag byte

// Fixed numeric tag assignments per §6.
const (
	TagData  MessageTag = 0
	TagError MessageTag = 1
	TagInfo  MessageTag = 2
	TagLog   MessageTag = 3
	TagRedo  MessageTag = 4
	TagDone  MessageTag = 5
)

// maxFramePayload is the largest payload a single frame can carry: the low 24
// bits of the 4-byte header.
const maxFramePayload = 1<<24 - 1

func (t MessageTag) String() string {
	switch t {
	case TagData:
		return "DATA"
	case TagError:
		return "ERROR"
	case TagInfo:
		return "INFO"
	case TagLog:
		return "LOG"
	case TagRedo:
		return "REDO"
	case TagDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// writeInt32 writes a little-endian 32-bit integer, the base wire integer
// width for the whole protocol (§6).
func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// readInt32 reads a little-endian 32-bit integer.
func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// writeInt64 writes a 64-bit offset using the sentinel-then-64 pattern from
// §4.4: a value in [0, 2^31) is written as a plain 32-bit integer; any other
// value as a 32-bit -1 marker followed by the raw little-endian 64-bit value.
// Used for fields that may exceed 2^31 (e.g. large file offsets); the token
// stream itself never uses this escape (see token.go).
func writeInt64(w io.Writer, v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return writeInt32(w, int32(v))
	}
	if err := writeInt32(w, -1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// readInt64 reads a value written by writeInt64, including its -1 sentinel.
func readInt64(r io.Reader) (int64, error) {
	n, err := readInt32(r)
	if err != nil {
		return 0, err
	}
	if n != -1 {
		return int64(n), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// MultiplexWriter frames payloads for the mixed data/log/control channel
// (§4.4), one 4-byte little-endian header (tag in the high byte, length in
// the low 24 bits) per frame.
type MultiplexWriter struct {
	w io.Writer
}

// NewMultiplexWriter wraps w as a multiplexed frame writer.
func NewMultiplexWriter(w io.Writer) *MultiplexWriter {
	return &MultiplexWriter{w: w}
}

// WriteTagged writes one frame with the given tag and payload.
func (m *MultiplexWriter) WriteTagged(tag MessageTag, payload []byte) error {
	if len(payload) > maxFramePayload {
		return errors.Errorf("gsync: frame payload of %d bytes exceeds maximum %d", len(payload), maxFramePayload)
	}
	header := uint32(tag)<<24 | uint32(len(payload))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], header)
	if _, err := m.w.Write(buf[:]); err != nil {
		return errors.Wrap(err, "writing frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := m.w.Write(payload)
	return errors.Wrap(err, "writing frame payload")
}

// Write implements io.Writer by framing p as a single DATA message.
func (m *MultiplexWriter) Write(p []byte) (int, error) {
	if err := m.WriteTagged(TagData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Redo emits a REDO control frame carrying a file index to retry in phase 2.
func (m *MultiplexWriter) Redo(index int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(index))
	return m.WriteTagged(TagRedo, buf[:])
}

// Info surfaces a non-fatal, informational log line.
func (m *MultiplexWriter) Info(msg string) error { return m.WriteTagged(TagInfo, []byte(msg)) }

// Error surfaces a fatal error log line ahead of session teardown.
func (m *MultiplexWriter) Error(msg string) error { return m.WriteTagged(TagError, []byte(msg)) }

// Log surfaces a routine log line.
func (m *MultiplexWriter) Log(msg string) error { return m.WriteTagged(TagLog, []byte(msg)) }

// Done emits the zero-length phase-boundary sentinel.
func (m *MultiplexWriter) Done() error { return m.WriteTagged(TagDone, nil) }

// MultiplexReader demultiplexes tagged frames, delivering DATA payloads
// transparently through Read and dispatching INFO/ERROR/LOG/REDO/DONE to side
// channels, per §4.4's read discipline.
type MultiplexReader struct {
	r       io.Reader
	pending []byte

	// OnLog is invoked for INFO/ERROR/LOG frames.
	OnLog func(tag MessageTag, msg string)
	// OnRedo is invoked for REDO frames.
	OnRedo func(index int32)
	// OnDone is invoked for the DONE phase-boundary sentinel.
	OnDone func()
}

// NewMultiplexReader wraps r as a demultiplexing reader.
func NewMultiplexReader(r io.Reader) *MultiplexReader {
	return &MultiplexReader{r: r}
}

// Read implements io.Reader, transparently returning DATA payload bytes and
// otherwise dispatching control frames until data is available or EOF.
func (m *MultiplexReader) Read(p []byte) (int, error) {
	for len(m.pending) == 0 {
		tag, payload, err := m.readFrame()
		if err != nil {
			return 0, err
		}
		switch tag {
		case TagData:
			m.pending = payload
		case TagRedo:
			if m.OnRedo != nil && len(payload) >= 4 {
				m.OnRedo(int32(binary.LittleEndian.Uint32(payload)))
			}
		case TagDone:
			if m.OnDone != nil {
				m.OnDone()
			}
		default:
			if m.OnLog != nil {
				m.OnLog(tag, string(payload))
			}
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MultiplexReader) readFrame() (MessageTag, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(m.r, hdr[:]); err != nil {
		return 0, nil, err
	}
	v := binary.LittleEndian.Uint32(hdr[:])
	tag := MessageTag(v >> 24)
	length := v & maxFramePayload
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(m.r, payload); err != nil {
			return 0, nil, errors.Wrap(err, "reading frame payload")
		}
	}
	return tag, payload, nil
}
