// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"io"

	"github.com/pkg/errors"
)

// TokenWriter encodes one file's literal/match/terminator stream per §3/§6: a
// positive int32 n means n literal bytes follow; a non-positive int32
// -(i+1) means "copy block i"; a zero means the terminator, followed by the
// whole-file digest.
type TokenWriter struct {
	w io.Writer
}

// NewTokenWriter wraps w for writing a single file's token stream.
func NewTokenWriter(w io.Writer) *TokenWriter {
	return &TokenWriter{w: w}
}

// WriteLiteral emits p as one or more literal tokens, splitting at
// MaxLiteralChunk per §4.2's chunking rule. A nil or empty p is a no-op.
func (tw *TokenWriter) WriteLiteral(p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if n > MaxLiteralChunk {
			n = MaxLiteralChunk
		}
		if err := writeInt32(tw.w, int32(n)); err != nil {
			return errors.Wrap(err, "writing literal length")
		}
		if _, err := tw.w.Write(p[:n]); err != nil {
			return errors.Wrap(err, "writing literal bytes")
		}
		p = p[n:]
	}
	return nil
}

// WriteBlock emits a block-reference token for basis block index.
func (tw *TokenWriter) WriteBlock(index int64) error {
	return errors.Wrap(writeInt32(tw.w, int32(-(index+1))), "writing block token")
}

// WriteTerminator emits the zero terminator followed by the whole-file
// digest, which must be exactly FullChecksumLength bytes.
func (tw *TokenWriter) WriteTerminator(digest []byte) error {
	if len(digest) != FullChecksumLength {
		return errors.Errorf("gsync: whole-file digest must be %d bytes, got %d", FullChecksumLength, len(digest))
	}
	if err := writeInt32(tw.w, 0); err != nil {
		return errors.Wrap(err, "writing terminator")
	}
	_, err := tw.w.Write(digest)
	return errors.Wrap(err, "writing whole-file digest")
}

// Token is one decoded element of a file's token stream. Exactly one of
// Literal, the block reference (IsBlock+BlockIndex), or Terminal is set.
type Token struct {
	Literal    []byte
	IsBlock    bool
	BlockIndex int64
	Terminal   bool
	Digest     []byte
}

// TokenReader decodes a single file's token stream written by TokenWriter.
type TokenReader struct {
	r io.Reader
}

// NewTokenReader wraps r for reading a single file's token stream.
func NewTokenReader(r io.Reader) *TokenReader {
	return &TokenReader{r: r}
}

// Next decodes the next token. Callers must stop calling Next once a
// Terminal token is returned.
func (tr *TokenReader) Next() (Token, error) {
	n, err := readInt32(tr.r)
	if err != nil {
		return Token{}, errors.Wrap(err, "reading token header")
	}
	switch {
	case n == 0:
		digest := make([]byte, FullChecksumLength)
		if _, err := io.ReadFull(tr.r, digest); err != nil {
			return Token{}, errors.Wrap(err, "reading whole-file digest")
		}
		return Token{Terminal: true, Digest: digest}, nil
	case n > 0:
		buf := make([]byte, n)
		if _, err := io.ReadFull(tr.r, buf); err != nil {
			return Token{}, errors.Wrap(err, "reading literal bytes")
		}
		return Token{Literal: buf}, nil
	default:
		return Token{IsBlock: true, BlockIndex: int64(-(n + 1))}, nil
	}
}
