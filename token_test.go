// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"testing"

	"github.com/hooklift/assert"
)

func TestTokenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTokenWriter(&buf)

	assert.Ok(t, tw.WriteLiteral([]byte("hello ")))
	assert.Ok(t, tw.WriteBlock(0))
	assert.Ok(t, tw.WriteBlock(41))
	digest := strongChecksum(1, []byte("payload"), FullChecksumLength)
	assert.Ok(t, tw.WriteTerminator(digest))

	tr := NewTokenReader(&buf)

	tok, err := tr.Next()
	assert.Ok(t, err)
	assert.Equals(t, "hello ", string(tok.Literal))

	tok, err = tr.Next()
	assert.Ok(t, err)
	assert.Cond(t, tok.IsBlock, "expected a block token")
	assert.Equals(t, int64(0), tok.BlockIndex)

	tok, err = tr.Next()
	assert.Ok(t, err)
	assert.Cond(t, tok.IsBlock, "expected a block token")
	assert.Equals(t, int64(41), tok.BlockIndex)

	tok, err = tr.Next()
	assert.Ok(t, err)
	assert.Cond(t, tok.Terminal, "expected the terminator")
	assert.Equals(t, digest, tok.Digest)
}

func TestTokenWriterChunksLongLiterals(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTokenWriter(&buf)
	big := bytes.Repeat([]byte("x"), MaxLiteralChunk+10)
	assert.Ok(t, tw.WriteLiteral(big))

	tr := NewTokenReader(&buf)
	var got []byte
	var chunks int
	for len(got) < len(big) {
		tok, err := tr.Next()
		assert.Ok(t, err)
		assert.Cond(t, !tok.IsBlock && !tok.Terminal, "expected a literal chunk")
		got = append(got, tok.Literal...)
		chunks++
	}
	assert.Equals(t, 2, chunks)
	assert.Equals(t, big, got)
}

func TestTokenWriterRejectsShortDigest(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTokenWriter(&buf)
	err := tw.WriteTerminator([]byte("short"))
	assert.Cond(t, err != nil, "expected an error for a short digest")
}
