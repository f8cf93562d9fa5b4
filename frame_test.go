// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"io"
	"testing"

	"github.com/hooklift/assert"
)

func TestMultiplexRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMultiplexWriter(&buf)

	assert.Ok(t, mw.Info("starting up"))
	n, err := mw.Write([]byte("payload-one"))
	assert.Ok(t, err)
	assert.Equals(t, len("payload-one"), n)
	assert.Ok(t, mw.Redo(7))
	_, err = mw.Write([]byte("payload-two"))
	assert.Ok(t, err)
	assert.Ok(t, mw.Done())

	var logs []string
	var redos []int32
	var dones int
	mr := NewMultiplexReader(&buf)
	mr.OnLog = func(tag MessageTag, msg string) { logs = append(logs, tag.String()+":"+msg) }
	mr.OnRedo = func(index int32) { redos = append(redos, index) }
	mr.OnDone = func() { dones++ }

	got := make([]byte, len("payload-one"))
	_, err = io.ReadFull(mr, got)
	assert.Ok(t, err)
	assert.Equals(t, "payload-one", string(got))

	got = make([]byte, len("payload-two"))
	_, err = io.ReadFull(mr, got)
	assert.Ok(t, err)
	assert.Equals(t, "payload-two", string(got))

	// The trailing DONE frame is only dispatched by a further read, which
	// then reaches the end of the stream.
	_, err = mr.Read(make([]byte, 1))
	assert.Equals(t, io.EOF, err)

	assert.Equals(t, 1, len(logs))
	assert.Equals(t, "INFO:starting up", logs[0])
	assert.Equals(t, []int32{7}, redos)
	assert.Equals(t, 1, dones)
}

func TestWriteInt64SentinelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, writeInt64(&buf, 1<<40))
	got, err := readInt64(&buf)
	assert.Ok(t, err)
	assert.Equals(t, int64(1<<40), got)
}

func TestWriteInt64SmallValueStaysCompact(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, writeInt64(&buf, 12))
	assert.Equals(t, 4, buf.Len())
	got, err := readInt64(&buf)
	assert.Ok(t, err)
	assert.Equals(t, int64(12), got)
}

func TestMessageTagString(t *testing.T) {
	assert.Equals(t, "DATA", TagData.String())
	assert.Equals(t, "REDO", TagRedo.String())
	assert.Equals(t, "UNKNOWN", MessageTag(99).String())
}
