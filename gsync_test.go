// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hooklift/assert"
)

// TestRollingChecksumMatchesFullRecompute verifies that rolling the weak
// checksum one byte at a time produces the same value as recomputing it from
// scratch over the new window, the core property the sender's sliding-window
// matcher depends on.
func TestRollingChecksumMatchesFullRecompute(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	const window = 6

	_, a, b := weakChecksum(data[:window], window)

	for i := 1; i+window <= len(data); i++ {
		var full uint32
		full, a, b = weakChecksumRoll(a, b, window, data[i-1], data[i+window-1])
		wantFull, wantA, wantB := weakChecksum(data[i:i+window], window)
		assert.Equals(t, wantFull, full)
		assert.Equals(t, wantA, a)
		assert.Equals(t, wantB, b)
	}
}

func TestStrongChecksumIsKeyedBySeed(t *testing.T) {
	data := []byte("the quick brown fox")
	a := strongChecksum(1, data, FullChecksumLength)
	b := strongChecksum(2, data, FullChecksumLength)
	assert.Cond(t, !bytes.Equal(a, b), "digests under different seeds must differ")
	assert.Equals(t, FullChecksumLength, len(a))
}

func TestStrongChecksumPrefix(t *testing.T) {
	data := []byte("the quick brown fox")
	full := strongChecksum(7, data, FullChecksumLength)
	short := strongChecksum(7, data, ShortStrongLength)
	assert.Equals(t, ShortStrongLength, len(short))
	assert.Equals(t, full[:ShortStrongLength], short)
}

// TestSignatureHeaderBoundaries covers the three boundary behaviors called
// out in §8.
func TestSignatureHeaderBoundaries(t *testing.T) {
	t.Run("exact multiple of block length", func(t *testing.T) {
		h := NewSignatureHeader(1400, 700, ShortStrongLength)
		assert.Equals(t, int64(2), h.Count)
		assert.Equals(t, int32(700), h.Remainder)
		assert.Cond(t, !h.HasShortLastBlock(), "remainder equal to block length is not a short last block")
	})

	t.Run("shorter than one block", func(t *testing.T) {
		h := NewSignatureHeader(13, 700, ShortStrongLength)
		assert.Equals(t, int64(1), h.Count)
		assert.Equals(t, int32(13), h.Remainder)
		assert.Cond(t, h.HasShortLastBlock(), "a single partial block is a short last block")
	})

	t.Run("zero length basis", func(t *testing.T) {
		h := NewSignatureHeader(0, 700, ShortStrongLength)
		assert.Equals(t, int64(0), h.Count)
	})

	t.Run("non-exact multiple", func(t *testing.T) {
		h := NewSignatureHeader(1710, 700, ShortStrongLength)
		assert.Equals(t, int64(3), h.Count)
		assert.Equals(t, int32(310), h.Remainder)
		assert.Equals(t, int32(700), h.LengthAt(0))
		assert.Equals(t, int32(700), h.LengthAt(1))
		assert.Equals(t, int32(310), h.LengthAt(2))
	})
}

func TestChooseBlockLengthFloor(t *testing.T) {
	assert.Equals(t, int32(DefaultBlockSizeFloor), ChooseBlockLength(13))
	assert.Cond(t, ChooseBlockLength(10*1024*1024) > DefaultBlockSizeFloor, "large basis should scale block length above the floor")
}

var alphabet = []byte("abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// srand generates a deterministic pseudo-random byte slice, used to build
// large synthetic fixtures the way the teacher's TestSync did.
func srand(seed int64, size int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = alphabet[r.Intn(len(alphabet))]
	}
	return buf
}
