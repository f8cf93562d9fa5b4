// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// FinalizeOutcome records what the receiver did with a file's staged
// content, matching the finalization table in §4.3.
type FinalizeOutcome int

const (
	FinalizeRenamed FinalizeOutcome = iota
	FinalizeInPlaceUpdated
	FinalizePartialRetained
	FinalizeDiscarded
	FinalizeInPlaceFailed
)

// Receiver reconstructs files from token streams and finalizes them (§4.3).
// It runs on the receiver host, as a sibling of Generator.
type Receiver struct {
	Session *Session
	Basis   *BasisSelector
	Cleanup *CleanupRegistry
	Logger  zerolog.Logger

	// Exclude, if set, is consulted before opening any target, per §6's
	// exclude oracle; returning true aborts the file as a ProtocolError
	// (treated as an attack, §7/§8 scenario 6).
	Exclude func(name string) bool
	// Backup, if set, is invoked before a verified staged file overwrites an
	// existing destination, while Session.MakeBackups is true.
	Backup func(path string) error
}

// NewReceiver builds a Receiver sharing session's basis-selection configuration.
func NewReceiver(session *Session, logger zerolog.Logger) *Receiver {
	return &Receiver{
		Session: session,
		Basis:   NewBasisSelector(session),
		Cleanup: NewCleanupRegistry(),
		Logger:  logger,
	}
}

// ReceiveFile reconstructs a single file from tr using header (the signature
// header this receiver's sibling Generator computed for the same basis) and
// finalizes the result per §4.3's table.
func (r *Receiver) ReceiveFile(file FileEntry, header SignatureHeader, tr *TokenReader) (FinalizeOutcome, error) {
	if r.Exclude != nil && r.Exclude(file.Name) {
		r.drain(tr)
		return 0, &ProtocolError{Msg: "exclude violation on incoming name: " + file.Name}
	}

	basis, err := r.Basis.Open(file.Name)
	if err != nil {
		basis = &Basis{Kind: BasisNone}
	}
	defer basis.Close()

	target, tempPath, err := r.openTarget(file)
	if err != nil {
		r.drain(tr)
		return 0, errors.Wrap(err, "opening target")
	}
	if tempPath != "" {
		r.Cleanup.Set(tempPath, r.Session.PartialDir, filepath.Base(tempPath))
		defer r.Cleanup.Clear()
	}

	verified, offset, consumeErr := r.consume(tr, basis, target, header)
	closeErr := target.Close()

	if consumeErr != nil {
		if tempPath != "" {
			os.Remove(tempPath)
		}
		return 0, consumeErr
	}
	if closeErr != nil {
		return 0, errors.Wrap(closeErr, "closing target")
	}

	return r.finalize(file, tempPath, verified, offset)
}

// drain consumes and discards every remaining token up to the terminator, so
// a sender is never left blocked on a file the receiver could not open
// locally (the "burning" pattern from mutagen's receive.go, resolving §4.2's
// vanished/skip open question symmetrically on the receive side).
func (r *Receiver) drain(tr *TokenReader) {
	for {
		tok, err := tr.Next()
		if err != nil || tok.Terminal {
			return
		}
	}
}

// consume runs the per-file token loop of §4.3: literal writes, block
// copies (with in-place skip-write when the block is already correctly
// positioned), and the terminating whole-file digest comparison.
func (r *Receiver) consume(tr *TokenReader, basis *Basis, target *os.File, header SignatureHeader) (verified bool, offset int64, err error) {
	digest := newKeyedHash(r.Session.Seed)

	for {
		tok, err := tr.Next()
		if err != nil {
			return false, offset, errors.Wrap(err, "reading token")
		}

		if tok.Terminal {
			if r.Session.InPlace {
				if err := target.Truncate(offset); err != nil {
					return false, offset, errors.Wrap(err, "truncating in-place target")
				}
			}
			sum := digest.Sum(nil)
			return bytes.Equal(sum, tok.Digest), offset, nil
		}

		if !tok.IsBlock {
			digest.Write(tok.Literal)
			r.Session.Stats.AddLiteral(len(tok.Literal))
			if _, err := target.WriteAt(tok.Literal, offset); err != nil {
				return false, offset, errors.Wrap(err, "writing literal")
			}
			offset += int64(len(tok.Literal))
			continue
		}

		if basis.File == nil {
			return false, offset, &ProtocolError{Msg: "block reference with empty basis"}
		}
		if tok.BlockIndex < 0 || tok.BlockIndex >= header.Count {
			return false, offset, &ProtocolError{Msg: "block index out of range"}
		}

		blockOffset := header.OffsetAt(tok.BlockIndex)
		length := int64(header.LengthAt(tok.BlockIndex))
		buf := make([]byte, length)
		if _, err := basis.File.ReadAt(buf, blockOffset); err != nil && err != io.EOF {
			return false, offset, errors.Wrap(err, "reading basis block")
		}
		digest.Write(buf)
		r.Session.Stats.AddMatched(int(length))

		if r.Session.InPlace && offset == blockOffset {
			// Already in place: nothing to write, just advance.
			offset += length
			continue
		}
		if _, err := target.WriteAt(buf, offset); err != nil {
			return false, offset, errors.Wrap(err, "writing block")
		}
		offset += length
	}
}

// openTarget opens the destination per §4.3: directly, for in-place mode, or
// a uniquely named staged temp file otherwise, retrying once after creating
// missing parent directories when RelativePaths is set (mirroring
// receiver.c's recv_files).
func (r *Receiver) openTarget(file FileEntry) (target *os.File, tempPath string, err error) {
	targetPath := filepath.Join(r.Session.TargetRoot, file.Name)

	if r.Session.InPlace {
		f, err := os.OpenFile(targetPath, os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			return nil, "", errors.Wrap(err, "opening in-place target")
		}
		return f, "", nil
	}

	dir := r.Session.TempDir
	if dir == "" {
		dir = filepath.Dir(targetPath)
	}
	mode := os.FileMode(file.Mode) & os.ModePerm

	path := newTempPath(dir, filepath.Base(targetPath))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil && os.IsNotExist(err) && r.Session.RelativePaths {
		if mkErr := ensureDir(filepath.Dir(path)); mkErr == nil {
			f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
		}
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "creating staged temp file")
	}
	return f, path, nil
}

// finalize applies the outcome table of §4.3.
func (r *Receiver) finalize(file FileEntry, tempPath string, verified bool, offset int64) (FinalizeOutcome, error) {
	targetPath := filepath.Join(r.Session.TargetRoot, file.Name)

	if verified {
		if r.Session.InPlace {
			r.applyMetadata(targetPath, file)
			return FinalizeInPlaceUpdated, nil
		}
		if r.Backup != nil && r.Session.MakeBackups {
			if _, err := os.Stat(targetPath); err == nil {
				if err := r.Backup(targetPath); err != nil {
					r.Logger.Warn().Err(err).Str("file", file.Name).Msg("backup hook failed, continuing")
				}
			}
		}
		if err := os.Rename(tempPath, targetPath); err != nil {
			return 0, errors.Wrap(err, "renaming staged file into place")
		}
		r.applyMetadata(targetPath, file)
		return FinalizeRenamed, nil
	}

	if r.Session.InPlace {
		r.Logger.Warn().Str("file", file.Name).Msg("in-place update failed verification; destination already mutated")
		r.maybeRedo(file)
		return FinalizeInPlaceFailed, nil
	}

	if r.Session.KeepPartial {
		partialPath := r.partialPath(file.Name)
		if err := ensureDir(filepath.Dir(partialPath)); err == nil {
			if err := os.Rename(tempPath, partialPath); err == nil {
				r.maybeRedo(file)
				return FinalizePartialRetained, nil
			}
		}
	}
	os.Remove(tempPath)
	r.maybeRedo(file)
	return FinalizeDiscarded, nil
}

func (r *Receiver) partialPath(name string) string {
	if r.Session.PartialDir == "" {
		return filepath.Join(r.Session.TargetRoot, name)
	}
	return filepath.Join(r.Session.PartialDir, name)
}

// maybeRedo queues the file for phase-2 retransmission, unless the session is
// already using the full strong-checksum length, in which case the failure
// is hard (§4.3's redo-signaling rule).
func (r *Receiver) maybeRedo(file FileEntry) {
	if r.Session.StrongLength() < FullChecksumLength {
		r.Session.QueueRedo(file.Index)
		return
	}
	r.Session.Stats.AddHardError()
	r.Logger.Error().Str("file", file.Name).Msg("failed verification in phase 2")
}

// applyMetadata applies mode and mtime to the finalized file. Ownership
// changes are left to the out-of-scope driver, which alone knows the
// session's privilege level.
func (r *Receiver) applyMetadata(path string, file FileEntry) {
	if file.Mode != 0 {
		if err := os.Chmod(path, fs.FileMode(file.Mode)&os.ModePerm); err != nil {
			r.Logger.Warn().Err(err).Str("file", file.Name).Msg("chmod failed")
		}
	}
	if file.ModTime != 0 {
		mtime := time.Unix(file.ModTime, 0)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			r.Logger.Warn().Err(err).Str("file", file.Name).Msg("chtimes failed")
		}
	}
}
