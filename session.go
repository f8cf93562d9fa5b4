// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import "sync"

// Phase identifies which pass over the file list is in progress (§3/§9).
type Phase int

const (
	// PhaseOne is the initial pass, using the short strong-checksum prefix.
	PhaseOne Phase = 1
	// PhaseTwo retransmits the redo set using the full strong-checksum length.
	PhaseTwo Phase = 2
)

// Session gathers the per-run configuration threaded through the generator,
// sender, and receiver, replacing the source's process-wide global flags per
// Design Notes §9. Only Stats and a cleanup registry remain process-local,
// owned by the receiver (see tempfile.go).
type Session struct {
	// Seed keys every strong-checksum digest computed during this session.
	Seed int32
	// BlockSize overrides the generator's block-length policy when non-zero.
	BlockSize int32
	// InPlace selects in-place reconstruction over staged temp files.
	InPlace bool
	// MakeBackups requests a backup hook invocation before overwriting a
	// destination file; disabled automatically on phase-2 entry per §4.2.
	MakeBackups bool
	// KeepPartial retains a failed staged transfer in PartialDir instead of
	// unlinking it.
	KeepPartial bool
	// RelativePaths enables the receiver's "create missing parent
	// directories and retry once" behavior in openTarget.
	RelativePaths bool
	// TargetRoot is the destination tree root.
	TargetRoot string
	// TempDir, if set, is used for staged temp files instead of the
	// destination's parent directory.
	TempDir string
	// PartialDir, if set, names the partial-transfer retention directory,
	// also consulted as a basis candidate (§4.1).
	PartialDir string
	// CompareDest, if set, names an additional read-only basis candidate
	// tried after the live target (§4.1).
	CompareDest string
	// Stats accumulates the session's byte/file counters.
	Stats *Stats

	mu    sync.Mutex
	phase Phase
	redo  map[int32]struct{}
}

// NewSession creates a Session in phase 1 with the given checksum seed.
func NewSession(seed int32) *Session {
	return &Session{
		Seed:  seed,
		Stats: &Stats{},
		phase: PhaseOne,
		redo:  make(map[int32]struct{}),
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// StrongLength returns the strong-checksum prefix length for the current
// phase: ShortStrongLength in phase 1, the full digest length in phase 2.
func (s *Session) StrongLength() int32 {
	if s.Phase() == PhaseOne {
		return ShortStrongLength
	}
	return FullChecksumLength
}

// BeginPhaseTwo transitions the session to phase 2 and disables backups, per
// the sender's phase-handling rule in §4.2.
func (s *Session) BeginPhaseTwo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseTwo
	s.MakeBackups = false
}

// QueueRedo appends index to the redo set for phase 2, per §4.3.
func (s *Session) QueueRedo(index int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redo[index] = struct{}{}
}

// IsRedo reports whether index is queued for phase-2 retransmission.
func (s *Session) IsRedo(index int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.redo[index]
	return ok
}

// RedoSet returns a snapshot of the indices currently queued for phase 2.
func (s *Session) RedoSet() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int32, 0, len(s.redo))
	for idx := range s.redo {
		out = append(out, idx)
	}
	return out
}
