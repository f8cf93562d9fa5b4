// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SourceOpener resolves a file index to a reader over its source content. A
// non-nil error models the vanished-file case (§4.2): the source existed when
// the file list was built but is gone by the time the sender tries to open
// it.
type SourceOpener func(index int32) (io.Reader, error)

// EmitFunc hands the sender a token-stream encoder for one file index; encode
// is expected to call TokenWriter methods against it and is invoked exactly
// once per index.
type EmitFunc func(index int32, encode func(*TokenWriter) error) error

// Sender streams literal/match token deltas reconstructing a source file
// against the weak/strong checksums supplied by the generator (§4.2). It runs
// on the source host.
type Sender struct {
	Session *Session
	Logger  zerolog.Logger
}

// NewSender builds a Sender bound to session.
func NewSender(session *Session, logger zerolog.Logger) *Sender {
	return &Sender{Session: session, Logger: logger}
}

// Run drives the sender side of the exchange: for every GeneratorMessage read
// from sigCh, it opens the corresponding source file and emits its delta, or
// (per §4.2's vanished-file rule, which we pin down as "always announce index
// plus an empty delta" to resolve the spec's own open question) an empty
// literal-free delta when the source is gone. On the phase sentinel
// (Index == -1) it invokes phaseDone and, if still in phase 1, advances the
// session to phase 2 and continues; in phase 2 it returns.
func (s *Sender) Run(ctx context.Context, sigCh <-chan GeneratorMessage, open SourceOpener, emit EmitFunc, phaseDone func() error) error {
	for msg := range sigCh {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "sender cancelled")
		default:
		}

		if msg.Index == -1 {
			if phaseDone != nil {
				if err := phaseDone(); err != nil {
					return errors.Wrap(err, "phase-done callback")
				}
			}
			if s.Session.Phase() == PhaseOne {
				s.Session.BeginPhaseTwo()
				continue
			}
			return nil
		}

		if msg.Err != nil {
			s.Logger.Warn().Err(msg.Err).Int32("index", msg.Index).Msg("signature error, treating as empty basis")
		}

		src, err := open(msg.Index)
		if err != nil {
			s.Session.Stats.AddVanished()
			s.Logger.Info().Int32("index", msg.Index).Err(err).Msg("source file vanished, announcing empty delta")
			if emitErr := emit(msg.Index, func(tw *TokenWriter) error {
				return tw.WriteTerminator(strongChecksum(s.Session.Seed, nil, FullChecksumLength))
			}); emitErr != nil {
				return emitErr
			}
			continue
		}

		if emitErr := emit(msg.Index, func(tw *TokenWriter) error {
			_, derr := s.delta(src, msg.Header, msg.Sigs, tw)
			return derr
		}); emitErr != nil {
			return emitErr
		}
	}
	return nil
}

// delta implements the rolling-hash matcher of §4.2 against a single source
// file, writing the resulting token stream (literal runs, block references,
// terminator, whole-file digest) to tw. It returns the whole-file digest.
func (s *Sender) delta(src io.Reader, header SignatureHeader, sigs []BlockSignature, tw *TokenWriter) ([]byte, error) {
	digest := newKeyedHash(s.Session.Seed)

	if len(sigs) == 0 || header.BlockLength == 0 {
		if err := s.literalAll(src, digest, tw); err != nil {
			return nil, err
		}
		sum := digest.Sum(nil)
		return sum, tw.WriteTerminator(sum)
	}

	blockLen := uint64(header.BlockLength)
	haveShortLast := header.HasShortLastBlock()
	mainSigs := sigs
	var lastSig BlockSignature
	if haveShortLast {
		lastSig = sigs[len(sigs)-1]
		mainSigs = sigs[:len(sigs)-1]
	}

	table := make(map[uint32][]BlockSignature, len(mainSigs))
	for _, sg := range mainSigs {
		table[sg.Weak] = append(table[sg.Weak], sg)
	}

	reader := bufio.NewReader(src)

	const maxData = MaxLiteralChunk
	buf := make([]byte, maxData+int(blockLen))
	var occupancy uint64
	var a, b uint32

	sendData := func(upto uint64) error {
		data := buf[:upto]
		if len(data) == 0 {
			return nil
		}
		digest.Write(data)
		s.Session.Stats.AddLiteral(len(data))
		return tw.WriteLiteral(data)
	}
	sendMatch := func(sg BlockSignature, data []byte) error {
		digest.Write(data)
		s.Session.Stats.AddMatched(len(data))
		return tw.WriteBlock(sg.Index)
	}

	for {
		if occupancy == 0 {
			n, err := io.ReadFull(reader, buf[:blockLen])
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				occupancy = uint64(n)
				break
			} else if err != nil {
				return nil, errors.Wrap(err, "reading source")
			}
			occupancy = blockLen
			_, a, b = weakChecksum(buf[:occupancy], uint32(blockLen))
		} else {
			c, err := reader.ReadByte()
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, errors.Wrap(err, "reading source byte")
			}
			_, a, b = weakChecksumRoll(a, b, uint32(blockLen), buf[occupancy-blockLen], c)
			buf[occupancy] = c
			occupancy++
		}

		weak := a + weakMod*b
		var matched bool
		var matchSig BlockSignature
		if candidates, ok := table[weak]; ok {
			window := buf[occupancy-blockLen : occupancy]
			strong := strongChecksum(s.Session.Seed, window, header.StrongLength)
			for _, cand := range candidates {
				if bytes.Equal(cand.Strong, strong) {
					matched, matchSig = true, cand
					break
				}
			}
		}

		if matched {
			if err := sendData(occupancy - blockLen); err != nil {
				return nil, err
			}
			if err := sendMatch(matchSig, buf[occupancy-blockLen:occupancy]); err != nil {
				return nil, err
			}
			occupancy = 0
		} else if occupancy == uint64(len(buf)) {
			if err := sendData(occupancy - blockLen); err != nil {
				return nil, err
			}
			copy(buf[:blockLen], buf[occupancy-blockLen:occupancy])
			occupancy = blockLen
		}
	}

	// The short last block is only ever checked here, at end of source, per
	// §8's "must only match at end-of-source" rule: it never enters the
	// sliding-window hash table above. The pending tail left over when the
	// main loop hits EOF may hold more than Remainder bytes (a literal run
	// that never filled another full window), so every offset is tried,
	// leftmost first, rather than only the buffer's trailing window.
	if haveShortLast && occupancy >= uint64(header.Remainder) {
		rem := uint64(header.Remainder)
		for off := uint64(0); off+rem <= occupancy; off++ {
			candidate := buf[off : off+rem]
			// The weak checksum still multiplies by the nominal block
			// length, matching how the generator computed lastSig.Weak.
			weak, _, _ := weakChecksum(candidate, uint32(blockLen))
			if weak != lastSig.Weak {
				continue
			}
			strong := strongChecksum(s.Session.Seed, candidate, header.StrongLength)
			if !bytes.Equal(strong, lastSig.Strong) {
				continue
			}
			if err := sendData(off); err != nil {
				return nil, err
			}
			if err := sendMatch(lastSig, candidate); err != nil {
				return nil, err
			}
			tail := buf[off+rem : occupancy]
			copy(buf, tail)
			occupancy = uint64(len(tail))
			break
		}
	}

	if err := sendData(occupancy); err != nil {
		return nil, err
	}
	sum := digest.Sum(nil)
	return sum, tw.WriteTerminator(sum)
}

// literalAll is the fast path for an empty basis (§8, scenario 4): the whole
// source is transmitted as literal tokens.
func (s *Sender) literalAll(src io.Reader, digest interface{ Write([]byte) (int, error) }, tw *TokenWriter) error {
	buf := make([]byte, MaxLiteralChunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			digest.Write(chunk)
			s.Session.Stats.AddLiteral(n)
			if werr := tw.WriteLiteral(chunk); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading source")
		}
	}
}
