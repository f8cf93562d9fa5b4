// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// maxNameLength is the conservative filesystem basename limit get_tmpname
// respects (receiver.c), below which no truncation is needed.
const maxNameLength = 255

// newTempPath derives a unique, collision-resistant staged temp-file path for
// base inside dir: a dot-prefixed name with an xxh3-derived suffix, per
// get_tmpname's "dot + basename + '.' + unique suffix" shape (receiver.c),
// truncating the visible portion of the basename rather than the suffix when
// the result would exceed the platform name-length limit (§4.3 invariants).
func newTempPath(dir, base string) string {
	var seed [24]byte
	binary.LittleEndian.PutUint64(seed[0:8], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(seed[8:16], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(seed[16:24], uint64(len(base)))
	sum := xxh3.Hash128(append(seed[:], base...))
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], sum.Hi)
	binary.BigEndian.PutUint64(raw[8:], sum.Lo)
	suffix := hex.EncodeToString(raw[:])[:12]

	name := fmt.Sprintf(".%s.%s", base, suffix)
	if len(name) > maxNameLength {
		overflow := len(name) - maxNameLength
		visible := base
		if len(visible) > overflow {
			visible = visible[:len(visible)-overflow]
		} else {
			visible = ""
		}
		name = fmt.Sprintf(".%s.%s", visible, suffix)
	}
	return filepath.Join(dir, name)
}

// CleanupRegistry holds the identity of the file currently being staged so a
// process signal can unlink (or preserve to the partial directory) an
// orphaned temp file without leaking it, per Design Notes §9's "signal-safe
// cleanup" requirement. There is exactly one live registration at a time,
// matching the source's single process-local cleanup slot.
type CleanupRegistry struct {
	mu         sync.Mutex
	tempPath   string
	partialDir string
	name       string
}

// NewCleanupRegistry returns an empty registry.
func NewCleanupRegistry() *CleanupRegistry { return &CleanupRegistry{} }

// Set records the temp file currently being staged, along with where it
// should land if the process is interrupted before finalize runs.
func (c *CleanupRegistry) Set(tempPath, partialDir, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempPath, c.partialDir, c.name = tempPath, partialDir, name
}

// Clear removes the current registration once finalize has handled the file
// through its normal path (rename, partial retention, or unlink).
func (c *CleanupRegistry) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempPath, c.partialDir, c.name = "", "", ""
}

// Flush guarantees the in-flight temp file, if any, is never left orphaned:
// it is moved into the partial directory when one is configured, or unlinked
// otherwise. Intended to be invoked from a signal handler installed by the
// out-of-scope driver, or deferred at process exit.
func (c *CleanupRegistry) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tempPath == "" {
		return
	}
	if c.partialDir != "" {
		if err := ensureDir(c.partialDir); err == nil {
			if err := os.Rename(c.tempPath, filepath.Join(c.partialDir, c.name)); err == nil {
				c.tempPath = ""
				return
			}
		}
	}
	os.Remove(c.tempPath)
	c.tempPath = ""
}
