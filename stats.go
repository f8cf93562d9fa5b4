// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import "sync/atomic"

// Stats accumulates the session-wide counters referenced in §7/§8: the
// literal/matched byte split, vanished source files, and hard (phase-2)
// verification failures. All methods are safe for concurrent use since the
// generator, sender, and receiver each update it from their own goroutine.
type Stats struct {
	literalData   int64
	matchedData   int64
	numFiles      int64
	vanishedFiles int64
	hardErrors    int64
}

// AddLiteral credits n literal bytes transferred.
func (s *Stats) AddLiteral(n int) { atomic.AddInt64(&s.literalData, int64(n)) }

// AddMatched credits n matched (basis-copied) bytes.
func (s *Stats) AddMatched(n int) { atomic.AddInt64(&s.matchedData, int64(n)) }

// AddFile increments the count of files seen by the generator.
func (s *Stats) AddFile() { atomic.AddInt64(&s.numFiles, 1) }

// AddVanished increments the count of source files that vanished on the sender.
func (s *Stats) AddVanished() { atomic.AddInt64(&s.vanishedFiles, 1) }

// AddHardError increments the count of files that failed verification in phase 2.
func (s *Stats) AddHardError() { atomic.AddInt64(&s.hardErrors, 1) }

// LiteralData returns the total literal bytes transferred so far.
func (s *Stats) LiteralData() int64 { return atomic.LoadInt64(&s.literalData) }

// MatchedData returns the total matched bytes transferred so far.
func (s *Stats) MatchedData() int64 { return atomic.LoadInt64(&s.matchedData) }

// NumFiles returns the number of files the generator has seen.
func (s *Stats) NumFiles() int64 { return atomic.LoadInt64(&s.numFiles) }

// VanishedFiles returns the number of source files that vanished on the sender.
func (s *Stats) VanishedFiles() int64 { return atomic.LoadInt64(&s.vanishedFiles) }

// HardErrors returns the number of files that failed verification in phase 2.
func (s *Stats) HardErrors() int64 { return atomic.LoadInt64(&s.hardErrors) }
