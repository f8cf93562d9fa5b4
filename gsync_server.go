// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// FileEntry is one entry of the out-of-scope file list (§6): identified by an
// integer Index, the sole wire-level reference to a file during delta
// exchange.
type FileEntry struct {
	Index   int32
	Name    string
	Size    int64
	Mode    uint32
	ModTime int64 // unix seconds
}

// GeneratorMessage is one unit the Generator emits onto its signature
// channel: a file announcement (Index, Header, then Sigs), or the end-of-phase
// sentinel (Index == -1).
type GeneratorMessage struct {
	Index  int32
	Header SignatureHeader
	Sigs   []BlockSignature
	Err    error
}

// Generator walks the file list, decides whether each file needs an update,
// and streams block signatures of the discovered basis (§4.1). It runs on the
// receiver host, as a sibling of Receiver.
type Generator struct {
	Session *Session
	Basis   *BasisSelector
	Logger  zerolog.Logger
}

// NewGenerator builds a Generator sharing session's basis-selection
// configuration.
func NewGenerator(session *Session, logger zerolog.Logger) *Generator {
	return &Generator{Session: session, Basis: NewBasisSelector(session), Logger: logger}
}

// Run walks files in order, consulting needsUpdate to decide whether each one
// requires a transfer at all (the file-list/exclude oracle is out of scope;
// needsUpdate models its verdict), and streams a GeneratorMessage per file
// requiring a transfer, followed by the phase sentinel. It closes out and
// returns when done or when ctx is cancelled.
func (g *Generator) Run(ctx context.Context, files []FileEntry, needsUpdate func(FileEntry) bool, out chan<- GeneratorMessage) error {
	defer close(out)

	for _, f := range files {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "generator cancelled")
		default:
		}

		if needsUpdate != nil && !needsUpdate(f) {
			continue
		}
		g.Session.Stats.AddFile()

		basis, err := g.Basis.Open(f.Name)
		if err != nil {
			g.Logger.Warn().Err(err).Str("file", f.Name).Msg("basis open failed, requesting full transfer")
			basis = &Basis{Kind: BasisNone}
		}

		sigs, header, err := g.signatures(basis)
		basis.Close()
		if err != nil {
			g.Logger.Warn().Err(err).Str("file", f.Name).Msg("basis read failed, falling back to empty basis")
			sigs, header = nil, SignatureHeader{}
		}

		msg := GeneratorMessage{Index: f.Index, Header: header, Sigs: sigs}
		select {
		case out <- msg:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "generator cancelled")
		}
	}

	select {
	case out <- GeneratorMessage{Index: -1}:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "generator cancelled")
	}
	return nil
}

// signatures computes the block signatures of basis per §4.1: weak checksum
// as the two-accumulator rolling sum, strong checksum as the session's
// current (phase-dependent) keyed MD4 prefix.
func (g *Generator) signatures(basis *Basis) ([]BlockSignature, SignatureHeader, error) {
	if basis.File == nil || basis.Size == 0 {
		return nil, SignatureHeader{}, nil
	}

	blockLen := g.Session.BlockSize
	if blockLen == 0 {
		blockLen = ChooseBlockLength(basis.Size)
	}
	header := NewSignatureHeader(basis.Size, blockLen, g.Session.StrongLength())

	sigs := make([]BlockSignature, 0, header.Count)
	buf := make([]byte, blockLen)
	for i := int64(0); i < header.Count; i++ {
		length := header.LengthAt(i)
		n, err := io.ReadFull(basis.File, buf[:length])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return sigs, header, errors.Wrap(err, "reading basis block")
		}
		block := buf[:n]
		// The weak checksum always multiplies by the nominal block length,
		// even for the short last block, so it rolls consistently with the
		// sender's sliding window (see gsync.go's weakChecksum doc).
		_, a, b := weakChecksum(block, uint32(blockLen))
		weak := a + weakMod*b
		strong := strongChecksum(g.Session.Seed, block, header.StrongLength)
		sigs = append(sigs, BlockSignature{Index: i, Weak: weak, Strong: strong})
	}
	return sigs, header, nil
}
