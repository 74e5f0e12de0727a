package tracksync

import (
	"sync"
	"time"
)

// SyncPhase is the coarse phase of the observable sync state machine.
type SyncPhase int

const (
	PhaseIdle SyncPhase = iota
	PhaseSyncing
	PhasePulling
	PhaseRateLimited
	PhaseError
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSyncing:
		return "syncing"
	case PhasePulling:
		return "pulling"
	case PhaseRateLimited:
		return "rate_limited"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncState is an immutable snapshot of the engine's observable state.
// Exactly one value is current at a time; only the orchestrator publishes
// transitions. Consumers subscribe or poll, never mutate.
type SyncState struct {
	Phase SyncPhase

	// Syncing: upload progress, updated per chunk so long pushes are not
	// perceived as hung.
	Pushed      int
	TotalToPush int

	// Pulling: entries applied so far, distinct from upload progress so the
	// UI never conflates a large upload with a large download.
	Applied int

	// RateLimited: client-side backoff window and how much is still queued.
	RetryAfter time.Duration
	Pending    int

	// Error: terminal cycle failure. AuthRequired distinguishes "log in
	// again" from transient faults so the UI does not offer a useless retry.
	Err          string
	AuthRequired bool
}

// statePublisher owns the current SyncState and fans transitions out to
// subscribers. Sends never block: a slow consumer misses intermediate
// states, not the publisher.
type statePublisher struct {
	mu      sync.Mutex
	current SyncState
	subs    map[int]chan SyncState
	nextID  int
}

func newStatePublisher() *statePublisher {
	return &statePublisher{
		current: SyncState{Phase: PhaseIdle},
		subs:    make(map[int]chan SyncState),
	}
}

func (p *statePublisher) Publish(state SyncState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = state
	for _, ch := range p.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func (p *statePublisher) Current() SyncState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the channel.
func (p *statePublisher) Subscribe() (<-chan SyncState, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan SyncState, 16)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
