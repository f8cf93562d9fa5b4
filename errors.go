// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolError represents a fatal wire-level disagreement (§7): a bad block
// index, an impossible length, an oversize strong-prefix, or an exclude-oracle
// violation on an incoming name. It is always session-terminal.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "gsync: protocol violation: " + e.Msg }

// VerificationError reports a whole-file digest mismatch. Hard distinguishes
// an unrecoverable phase-2 failure from a phase-1 failure that is queued for
// redo instead of surfaced to the caller.
type VerificationError struct {
	File string
	Hard bool
}

func (e *VerificationError) Error() string {
	if e.Hard {
		return fmt.Sprintf("gsync: verification failed (hard): %s", e.File)
	}
	return fmt.Sprintf("gsync: verification failed, queued for redo: %s", e.File)
}

// ExitCode mirrors the session-level outcomes in §6/§7 that an out-of-scope
// driver would observe; the core never calls os.Exit itself.
type ExitCode int

const (
	ExitOK ExitCode = iota
	ExitProtocolError
	ExitIOError
	ExitSignalAborted
)

// ClassifyExit maps an error returned from the core into one of the exit
// codes a driver would report.
func ClassifyExit(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return ExitProtocolError
	}
	return ExitIOError
}
