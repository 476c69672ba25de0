package handlers

import (
	"context"
	"sync"
)

// sessionGuard owns the transient per-session coordination state: the busy flag gating chat
// dispatch, the generation counter and cancel function for in-flight extractions, and an epoch
// that invalidates in-flight work when the session is reset. Persistent state lives in the
// Store; this guard only serializes access to it.
type sessionGuard struct {
	mu sync.Mutex

	busy         map[string]bool
	epoch        map[string]uint64
	uploadGen    map[string]uint64
	uploadCancel map[string]context.CancelFunc
}

func newSessionGuard() *sessionGuard {
	return &sessionGuard{
		busy:         make(map[string]bool),
		epoch:        make(map[string]uint64),
		uploadGen:    make(map[string]uint64),
		uploadCancel: make(map[string]context.CancelFunc),
	}
}

// tryAcquire sets the session's busy flag, reporting false when a request is already in flight.
func (g *sessionGuard) tryAcquire(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy[sessionID] {
		return false
	}
	g.busy[sessionID] = true
	return true
}

// release clears the busy flag. Safe to call from a deferred path regardless of how the request
// ended.
func (g *sessionGuard) release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, sessionID)
}

// currentEpoch returns the session's epoch. Work captured under an epoch must re-check it with
// epochValid before writing results, so a reset discards in-flight completions.
func (g *sessionGuard) currentEpoch(sessionID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch[sessionID]
}

func (g *sessionGuard) epochValid(sessionID string, epoch uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch[sessionID] == epoch
}

// replaceUpload cancels any in-flight extraction for the session and registers a new one,
// returning its context and generation number. The caller must check uploadCurrent before
// publishing results, so a superseded upload's extraction is dropped rather than overwriting
// the newer document.
func (g *sessionGuard) replaceUpload(sessionID string) (context.Context, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cancel, ok := g.uploadCancel[sessionID]; ok {
		cancel()
	}

	g.uploadGen[sessionID]++
	ctx, cancel := context.WithCancel(context.Background())
	g.uploadCancel[sessionID] = cancel

	return ctx, g.uploadGen[sessionID]
}

func (g *sessionGuard) uploadCurrent(sessionID string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uploadGen[sessionID] == gen
}

// reset bumps the epoch, cancels any in-flight extraction, and clears the busy flag, so
// everything started before the reset becomes a no-op.
func (g *sessionGuard) reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.epoch[sessionID]++
	if cancel, ok := g.uploadCancel[sessionID]; ok {
		cancel()
		delete(g.uploadCancel, sessionID)
	}
	g.uploadGen[sessionID]++
	delete(g.busy, sessionID)
}
