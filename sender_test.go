// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"testing"

	"github.com/hooklift/assert"
	"github.com/rs/zerolog"
)

// decodeAgainstBasis rebuilds the bytes a receiver would produce from tr,
// given the same basis content and header the sender matched against. It
// exists purely to let these tests assert on reconstructed output rather than
// on the token sequence's internal shape.
func decodeAgainstBasis(t *testing.T, tr *TokenReader, basis []byte, header SignatureHeader) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		tok, err := tr.Next()
		assert.Ok(t, err)
		if tok.Terminal {
			return out.Bytes()
		}
		if tok.IsBlock {
			off := header.OffsetAt(tok.BlockIndex)
			length := header.LengthAt(tok.BlockIndex)
			out.Write(basis[off : off+int64(length)])
			continue
		}
		out.Write(tok.Literal)
	}
}

// TestSenderMatchesShortLastBlockAnywhereInTrailingWindow is a direct
// regression test for the sender's end-of-source block check: the short last
// block must be found by scanning every offset of the final pending buffer,
// not only its trailing Remainder-sized window, or an appended tail produces
// a pure-literal encoding instead of a block match followed by a short
// literal tail.
func TestSenderMatchesShortLastBlockAnywhereInTrailingWindow(t *testing.T) {
	basis := []byte("ABCDEFGHIJKLMNOP") // 16 bytes: block0=10, block1(short)=6
	source := append(append([]byte{}, basis...), 'Q', 'R')

	const seed = int32(17)
	header := NewSignatureHeader(int64(len(basis)), 10, FullChecksumLength)
	assert.Cond(t, header.HasShortLastBlock(), "16 bytes over a 10-byte block length must leave a short last block")

	sigs := make([]BlockSignature, 0, header.Count)
	for i := int64(0); i < header.Count; i++ {
		off := header.OffsetAt(i)
		length := header.LengthAt(i)
		block := basis[off : off+int64(length)]
		_, a, b := weakChecksum(block, uint32(header.BlockLength))
		sigs = append(sigs, BlockSignature{Index: i, Weak: a + weakMod*b, Strong: strongChecksum(seed, block, header.StrongLength)})
	}

	session := NewSession(seed)
	sender := NewSender(session, zerolog.Nop())

	var wire bytes.Buffer
	tw := NewTokenWriter(&wire)
	_, err := sender.delta(bytes.NewReader(source), header, sigs, tw)
	assert.Ok(t, err)

	tr := NewTokenReader(&wire)
	got := decodeAgainstBasis(t, tr, basis, header)
	assert.Equals(t, source, got)

	assert.Equals(t, int64(len(basis)), session.Stats.MatchedData())
	assert.Equals(t, int64(2), session.Stats.LiteralData())
}

// TestSenderEmptyBasisIsAllLiteral covers §8's empty-basis scenario directly
// against the sender, independent of the generator/receiver plumbing.
func TestSenderEmptyBasisIsAllLiteral(t *testing.T) {
	source := []byte("brand new content")
	session := NewSession(3)
	sender := NewSender(session, zerolog.Nop())

	var wire bytes.Buffer
	tw := NewTokenWriter(&wire)
	_, err := sender.delta(bytes.NewReader(source), SignatureHeader{}, nil, tw)
	assert.Ok(t, err)

	tr := NewTokenReader(&wire)
	tok, err := tr.Next()
	assert.Ok(t, err)
	assert.Equals(t, string(source), string(tok.Literal))

	tok, err = tr.Next()
	assert.Ok(t, err)
	assert.Cond(t, tok.Terminal, "expected the terminator after the single literal token")

	assert.Equals(t, int64(len(source)), session.Stats.LiteralData())
	assert.Equals(t, int64(0), session.Stats.MatchedData())
}
