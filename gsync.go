// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gsync implements the delta-transfer core of an rsync-style file
// synchronization protocol: a generator that produces block signatures of a
// basis file, a sender that matches a source file against those signatures
// with a rolling checksum, and a receiver that reconstructs the file from the
// resulting literal/match token stream.
package gsync

import (
	"encoding/binary"
	"hash"
	"math"

	"golang.org/x/crypto/md4"
)

const (
	// DefaultBlockSizeFloor is the minimum block length the generator will choose,
	// matching the historical rsync BLOCK_SIZE constant.
	DefaultBlockSizeFloor = 700

	// MaxLiteralChunk bounds how many literal bytes a single token may carry
	// before the sender must split a long literal run into multiple tokens.
	MaxLiteralChunk = 32 * 1024

	// ShortStrongLength is the strong-checksum prefix length used in phase 1.
	ShortStrongLength = 2

	// FullChecksumLength is the full digest length of the strong checksum (MD4).
	FullChecksumLength = md4.Size
)

// weakMod is the modulus for both halves of the rolling checksum.
const weakMod = 1 << 16

// weakChecksum computes the Adler-style rolling checksum described in the
// rsync thesis. multiplier is normally len(block); for a basis file's short
// last block it must still be the file's nominal block length B, not the
// block's own (shorter) length, so that the same value rolls consistently
// with the sender's sliding window (see Design Notes on the short last block).
func weakChecksum(block []byte, multiplier uint32) (sum, a, b uint32) {
	for i, c := range block {
		a += uint32(c)
		b += (multiplier - uint32(i)) * uint32(c)
	}
	a %= weakMod
	b %= weakMod
	return a + weakMod*b, a, b
}

// weakChecksumRoll advances a weak checksum by one byte: out leaves the
// window, in enters it. blockLength is the nominal block length B.
func weakChecksumRoll(a, b, blockLength uint32, out, in byte) (sum, na, nb uint32) {
	na = (a - uint32(out) + uint32(in)) % weakMod
	nb = (b - blockLength*uint32(out) + na) % weakMod
	return na + weakMod*nb, na, nb
}

// newKeyedHash returns an MD4 hasher pre-seeded with the session's checksum
// seed, mixed in little-endian ahead of the data per §3's "digest(seed ‖
// block-bytes)" construction.
func newKeyedHash(seed int32) hash.Hash {
	h := md4.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(seed))
	h.Write(buf[:])
	return h
}

// strongChecksum returns the first prefixLen bytes (or the full digest, if
// prefixLen is zero or exceeds it) of the keyed MD4 digest of data.
func strongChecksum(seed int32, data []byte, prefixLen int32) []byte {
	h := newKeyedHash(seed)
	h.Write(data)
	sum := h.Sum(nil)
	if prefixLen <= 0 || int(prefixLen) > len(sum) {
		return sum
	}
	return sum[:prefixLen]
}

// ChooseBlockLength implements the generator's block-length policy (§4.1): a
// fixed floor that scales with √L so the block count grows sub-linearly.
func ChooseBlockLength(basisLength int64) int32 {
	if basisLength <= 0 {
		return DefaultBlockSizeFloor
	}
	l := int32(math.Sqrt(float64(basisLength)))
	if l < DefaultBlockSizeFloor {
		return DefaultBlockSizeFloor
	}
	return l
}

// BlockSignature is the weak+strong checksum pair describing one block of a
// basis file.
type BlockSignature struct {
	// Index is the block index.
	Index int64
	// Weak is the rsync rolling checksum.
	Weak uint32
	// Strong is the keyed MD4 strong-checksum prefix; its length is the
	// signature header's StrongLength.
	Strong []byte
}

// SignatureHeader precedes the per-block signatures for a single file (§3,
// §6). Count is the number of blocks; Remainder is the actual length of the
// final block (never zero for a non-empty basis: it equals BlockLength when
// the basis length is an exact multiple of it; an empty basis has Count and
// Remainder both zero).
type SignatureHeader struct {
	Count        int64
	BlockLength  int32
	StrongLength int32
	Remainder    int32
}

// NewSignatureHeader derives a SignatureHeader for a basis of the given
// length and block length, per the boundary rules in §8: a basis shorter than
// one block yields a single short block; a basis evenly divisible by
// blockLength reports Remainder == blockLength, not zero.
func NewSignatureHeader(basisLength int64, blockLength, strongLength int32) SignatureHeader {
	if basisLength <= 0 || blockLength <= 0 {
		return SignatureHeader{BlockLength: blockLength, StrongLength: strongLength}
	}
	bl := int64(blockLength)
	count := basisLength / bl
	remainder := int32(basisLength % bl)
	if remainder == 0 {
		remainder = blockLength
	} else {
		count++
	}
	return SignatureHeader{Count: count, BlockLength: blockLength, StrongLength: strongLength, Remainder: remainder}
}

// LengthAt returns the byte length of block i: BlockLength, except for the
// final block which is Remainder bytes long.
func (h SignatureHeader) LengthAt(i int64) int32 {
	if h.Count == 0 {
		return 0
	}
	if i == h.Count-1 {
		return h.Remainder
	}
	return h.BlockLength
}

// OffsetAt returns the basis-file byte offset of block i.
func (h SignatureHeader) OffsetAt(i int64) int64 {
	return i * int64(h.BlockLength)
}

// HasShortLastBlock reports whether the final block is shorter than a full
// block, i.e. whether it must be matched only once, at end of source (§8).
func (h SignatureHeader) HasShortLastBlock() bool {
	return h.Count > 0 && h.Remainder != h.BlockLength
}
