// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hooklift/assert"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
)

// TestLocalPipelineMultiFileRoundTrip drives the full generator/sender/
// receiver fan-out concurrently over several files of varying size and
// basis similarity, the multi-file analogue of the teacher's own TestSync,
// profiled the same way for parity with the teacher's gsync_test.go.
func TestLocalPipelineMultiFileRoundTrip(t *testing.T) {
	defer profile.Start(profile.ProfilePath(t.TempDir())).Stop()

	dir := t.TempDir()
	type fixture struct {
		name   string
		basis  []byte
		source []byte
	}
	fixtures := []fixture{
		{"unchanged.bin", srand(10, 20000), nil},
		{"appended.bin", srand(11, 5000), nil},
		{"new.bin", nil, srand(13, 8000)},
		{"rewritten.bin", srand(14, 6000), srand(15, 6000)},
	}
	fixtures[1].source = append(append([]byte{}, fixtures[1].basis...), srand(12, 256)...)
	fixtures[0].source = fixtures[0].basis

	var files []FileEntry
	sources := make(map[int32][]byte)
	for i, fx := range fixtures {
		idx := int32(i)
		files = append(files, FileEntry{Index: idx, Name: fx.name})
		sources[idx] = fx.source
		if fx.basis != nil {
			assert.Ok(t, os.WriteFile(filepath.Join(dir, fx.name), fx.basis, 0644))
		}
	}

	session := NewSession(0x12345678)
	session.TargetRoot = dir
	pipeline := NewLocalPipeline(session, zerolog.Nop())

	open := func(index int32) (io.Reader, error) {
		return bytes.NewReader(sources[index]), nil
	}

	outcomes, err := pipeline.Run(context.Background(), files, nil, open)
	assert.Ok(t, err)
	assert.Equals(t, len(files), len(outcomes))

	for i, fx := range fixtures {
		outcome, ok := outcomes[int32(i)]
		assert.Cond(t, ok, "expected an outcome for "+fx.name)
		assert.Equals(t, FinalizeRenamed, outcome)

		got, err := os.ReadFile(filepath.Join(dir, fx.name))
		assert.Ok(t, err)
		assert.Equals(t, fx.source, got)
	}

	assert.Equals(t, int64(0), session.Stats.HardErrors())
}

// TestLocalPipelineNoRedoWhenEverythingVerifies confirms the pipeline's
// phase-2 pass is skipped entirely when phase 1 verifies every file, so a
// well-behaved transfer never pays for a redo round.
func TestLocalPipelineNoRedoWhenEverythingVerifies(t *testing.T) {
	dir := t.TempDir()
	const name = "clean.bin"
	content := srand(30, 2000)

	session := NewSession(7)
	session.TargetRoot = dir
	pipeline := NewLocalPipeline(session, zerolog.Nop())

	files := []FileEntry{{Index: 0, Name: name}}
	open := func(index int32) (io.Reader, error) {
		return bytes.NewReader(content), nil
	}

	outcomes, err := pipeline.Run(context.Background(), files, nil, open)
	assert.Ok(t, err)
	assert.Equals(t, FinalizeRenamed, outcomes[0])
	assert.Cond(t, !session.IsRedo(0), "a clean transfer must not be queued for redo")
	assert.Equals(t, PhaseOne, session.Phase())
}
