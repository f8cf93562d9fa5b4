// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// BasisKind identifies which candidate in the basis-selection order (§4.1)
// was used for a file.
type BasisKind int

const (
	BasisNone BasisKind = iota
	BasisInPlace
	BasisPartial
	BasisTarget
	BasisCompareDest
)

// Basis is the resolved, already-opened basis file for one name, or the
// BasisNone zero value when no candidate existed (empty basis).
type Basis struct {
	Kind BasisKind
	Path string
	File *os.File
	Size int64
}

// Close closes the underlying file, if any.
func (b *Basis) Close() error {
	if b == nil || b.File == nil {
		return nil
	}
	return b.File.Close()
}

// BasisSelector implements the basis-selection fallback chain shared by the
// Generator and the Receiver (§4.1, §4.3): in-place target, partial
// directory, live target, compare-dest, then none. Both roles build one from
// the same Session so they agree on the order without duplicating it.
type BasisSelector struct {
	InPlace     bool
	PartialDir  string
	CompareDest string
	TargetRoot  string
}

// NewBasisSelector derives a BasisSelector from a Session's staging configuration.
func NewBasisSelector(s *Session) *BasisSelector {
	return &BasisSelector{
		InPlace:     s.InPlace,
		PartialDir:  s.PartialDir,
		CompareDest: s.CompareDest,
		TargetRoot:  s.TargetRoot,
	}
}

// Open resolves name to its basis file, trying each candidate in order and
// returning the first that exists as a regular file. It never returns an
// error for a plain "no candidate found"; that case yields BasisNone.
func (b *BasisSelector) Open(name string) (*Basis, error) {
	target := filepath.Join(b.TargetRoot, name)

	type candidate struct {
		kind BasisKind
		path string
	}
	var candidates []candidate
	if b.InPlace {
		candidates = append(candidates, candidate{BasisInPlace, target})
	}
	if b.PartialDir != "" {
		candidates = append(candidates, candidate{BasisPartial, filepath.Join(b.PartialDir, name)})
	}
	candidates = append(candidates, candidate{BasisTarget, target})
	if b.CompareDest != "" {
		candidates = append(candidates, candidate{BasisCompareDest, filepath.Join(b.CompareDest, name)})
	}

	for _, c := range candidates {
		f, err := os.Open(c.path)
		if err != nil {
			continue
		}
		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			f.Close()
			continue
		}
		return &Basis{Kind: c.kind, Path: c.path, File: f, Size: info.Size()}, nil
	}
	return &Basis{Kind: BasisNone}, nil
}

// ensureDir creates dir (and parents) with a permissive mode, left to be
// masked by the process umask, mirroring receiver.c's relative-paths retry.
func ensureDir(dir string) error {
	return errors.Wrap(os.MkdirAll(dir, 0777), "creating directory")
}
