// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gsync

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LocalPipeline wires a Generator, Sender, and Receiver together over
// in-process channels, the goroutine analogue of the three OS processes §5
// describes as connected by pipes. It shares a single Session across all
// three roles (appropriate when one process drives its own loopback
// transfer) and uses errgroup.WithContext so a failure in any one role
// cancels the other two rather than leaving them blocked on a channel
// nobody will ever drain again (§5's deadlock-avoidance requirement,
// adapted from processes to goroutines). Real deployments connect separate
// processes over the wire framing in frame.go instead of using this type.
type LocalPipeline struct {
	Session *Session
	Logger  zerolog.Logger

	// Exclude and Backup are forwarded to the Receiver as-is; see receiver.go.
	Exclude func(name string) bool
	Backup  func(path string) error
}

// NewLocalPipeline builds a pipeline driving generator, sender, and
// receiver from one shared session.
func NewLocalPipeline(session *Session, logger zerolog.Logger) *LocalPipeline {
	return &LocalPipeline{Session: session, Logger: logger}
}

// fileDelta is one file's encoded token stream in flight between the
// sender and receiver goroutines, along with the signature header the
// receiver needs to resolve block references.
type fileDelta struct {
	file   FileEntry
	header SignatureHeader
	tokens []byte
}

// Run drives phase 1 over every file selected by needsUpdate, then, per
// §4.3's redo-signaling rule, phase 2 over whatever indices a phase-1
// verification failure queued. It returns the finalize outcome recorded
// for each file actually processed.
func (p *LocalPipeline) Run(ctx context.Context, files []FileEntry, needsUpdate func(FileEntry) bool, open SourceOpener) (map[int32]FinalizeOutcome, error) {
	outcomes := make(map[int32]FinalizeOutcome)

	var phase1 []FileEntry
	for _, f := range files {
		if needsUpdate == nil || needsUpdate(f) {
			phase1 = append(phase1, f)
		}
	}

	if err := p.runPhase(ctx, phase1, open, outcomes); err != nil {
		return outcomes, err
	}

	redo := p.Session.RedoSet()
	if len(redo) == 0 {
		return outcomes, nil
	}

	wanted := make(map[int32]bool, len(redo))
	for _, idx := range redo {
		wanted[idx] = true
	}
	var phase2 []FileEntry
	for _, f := range files {
		if wanted[f.Index] {
			phase2 = append(phase2, f)
		}
	}

	p.Session.BeginPhaseTwo()
	if err := p.runPhase(ctx, phase2, open, outcomes); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// runPhase fans generator -> sender -> receiver out over two buffered
// channels for a single pass over files.
func (p *LocalPipeline) runPhase(ctx context.Context, files []FileEntry, open SourceOpener, outcomes map[int32]FinalizeOutcome) error {
	if len(files) == 0 {
		return nil
	}

	byIndex := make(map[int32]FileEntry, len(files))
	for _, f := range files {
		byIndex[f.Index] = f
	}

	g, gctx := errgroup.WithContext(ctx)
	sigCh := make(chan GeneratorMessage, len(files)+1)
	deltaCh := make(chan fileDelta, len(files))

	gen := NewGenerator(p.Session, p.Logger)
	g.Go(func() error {
		return gen.Run(gctx, files, func(FileEntry) bool { return true }, sigCh)
	})

	sender := NewSender(p.Session, p.Logger)
	g.Go(func() error {
		defer close(deltaCh)
		for msg := range sigCh {
			if msg.Index == -1 {
				continue
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			fd, err := p.encodeDelta(sender, msg, open)
			if err != nil {
				return err
			}
			fd.file = byIndex[msg.Index]
			select {
			case deltaCh <- fd:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	recv := NewReceiver(p.Session, p.Logger)
	recv.Exclude = p.Exclude
	recv.Backup = p.Backup

	var mu sync.Mutex
	g.Go(func() error {
		for fd := range deltaCh {
			tr := NewTokenReader(bytes.NewReader(fd.tokens))
			outcome, err := recv.ReceiveFile(fd.file, fd.header, tr)
			if err != nil {
				return errors.Wrap(err, "receiving file")
			}
			mu.Lock()
			outcomes[fd.file.Index] = outcome
			mu.Unlock()
		}
		return nil
	})

	return g.Wait()
}

// encodeDelta opens the sender-side source for msg.Index and encodes its
// delta against the generator's signatures, or (per §4.2's vanished-file
// rule) an empty delta when the source has disappeared.
func (p *LocalPipeline) encodeDelta(sender *Sender, msg GeneratorMessage, open SourceOpener) (fileDelta, error) {
	if msg.Err != nil {
		p.Logger.Warn().Err(msg.Err).Int32("index", msg.Index).Msg("signature error, treating as empty basis")
	}

	var buf bytes.Buffer
	tw := NewTokenWriter(&buf)

	src, err := open(msg.Index)
	if err != nil {
		p.Session.Stats.AddVanished()
		p.Logger.Info().Int32("index", msg.Index).Err(err).Msg("source file vanished, announcing empty delta")
		if werr := tw.WriteTerminator(strongChecksum(p.Session.Seed, nil, FullChecksumLength)); werr != nil {
			return fileDelta{}, werr
		}
		return fileDelta{header: msg.Header, tokens: buf.Bytes()}, nil
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	if _, err := sender.delta(src, msg.Header, msg.Sigs, tw); err != nil {
		return fileDelta{}, err
	}
	return fileDelta{header: msg.Header, tokens: buf.Bytes()}, nil
}
