package actorkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/movelab/shuttlecore/internal/corerrors"
	"go.uber.org/zap"
)

// System is the single-process registry and lifecycle owner for every actor
// in the scheduling core, grounded on goakt's ActorSystem/pid_map pattern
// but scoped to what this core needs: spawn, lookup by id, and broadcast
// stop. Clustering, remoting, and supervision-tree restarts are out of
// scope per the Non-goals on cluster distribution.
type System struct {
	mu        sync.RWMutex
	actors    map[string]*PID
	logger    *zap.Logger
	errorHook func(actorID string, err error)
}

// NewSystem creates an empty actor registry. logger must not be nil.
func NewSystem(logger *zap.Logger) *System {
	return &System{
		actors: make(map[string]*PID),
		logger: logger,
	}
}

// SetErrorHook installs the callback invoked whenever any actor's handler
// raises. The coordinator wires this to publish actor.error on the event
// bus.
func (s *System) SetErrorHook(hook func(actorID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHook = hook
}

// SpawnOptions configures a single Spawn call.
type SpawnOptions struct {
	MailboxCapacity int
}

// Spawn registers and starts a new actor under the given id. The id must be
// unique within the system for the lifetime of the actor.
func (s *System) Spawn(ctx context.Context, id string, actor Actor, opts ...SpawnOptions) (*PID, error) {
	s.mu.Lock()
	if _, exists := s.actors[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: %w", id, fmt.Errorf("already registered"))
	}
	s.mu.Unlock()

	capacity := DefaultMailboxCapacity
	if len(opts) > 0 && opts[0].MailboxCapacity > 0 {
		capacity = opts[0].MailboxCapacity
	}

	pid := &PID{
		id:      id,
		actor:   actor,
		mailbox: newRingMailbox(capacity),
		system:  s,
		logger:  s.logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := actor.PreStart(ctx); err != nil {
		return nil, fmt.Errorf("pre-start %s: %w", id, err)
	}

	pid.running.Store(true)
	s.mu.Lock()
	s.actors[id] = pid
	s.mu.Unlock()

	go pid.run()
	return pid, nil
}

// Lookup returns the PID registered under id, or ErrActorNotFound.
func (s *System) Lookup(id string) (*PID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.actors[id]
	if !ok {
		return nil, corerrors.ErrActorNotFound
	}
	return pid, nil
}

// Stop stops a single actor and deregisters it.
func (s *System) Stop(ctx context.Context, id string) {
	s.mu.Lock()
	pid, ok := s.actors[id]
	if ok {
		delete(s.actors, id)
	}
	s.mu.Unlock()
	if ok {
		pid.running.Store(false)
		pid.Stop(ctx)
	}
}

// Shutdown stops every registered actor. Order is unspecified; callers
// that need ordered teardown (e.g. plates before pools) should Stop
// individually first.
func (s *System) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*PID, 0, len(s.actors))
	for _, pid := range s.actors {
		all = append(all, pid)
	}
	s.actors = make(map[string]*PID)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, pid := range all {
		pid.running.Store(false)
		wg.Add(1)
		go func(p *PID) {
			defer wg.Done()
			p.Stop(ctx)
		}(pid)
	}
	wg.Wait()
}

// ActorIDs returns a snapshot of currently registered actor ids, used by
// diagnostics and list_* query operations.
func (s *System) ActorIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	return ids
}
