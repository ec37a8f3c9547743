// Package dispatch implements the coordinator's job lifecycle engine: the
// in-memory registry of worker heartbeats, outstanding assignments, and the
// pending queue, plus the reclamation of work from stale workers.
package dispatch

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/convpool/internal/conv"
)

// DefaultStaleness is how long a worker may go without a heartbeat before
// its assignment becomes eligible for reclamation.
const DefaultStaleness = 60 * time.Second

// CompleteResult is the outcome of CompleteFor.
type CompleteResult int

const (
	// CompleteOK: the expected output exists, the input file was removed.
	CompleteOK CompleteResult = iota
	// CompleteNotYet: no output present; the path went back to the queue.
	CompleteNotYet
	// CompleteMissing: the worker holds no assignment.
	CompleteMissing
)

// Registry holds all coordination state. The three structures each have
// their own mutex.
//
// Lock order is fixed: checkIns, then assigned, then pending. An operation
// that needs more than one lock must acquire them in that prefix order;
// locking any one of them alone is safe. Violating the order can deadlock.
type Registry struct {
	staleness time.Duration
	now       func() time.Time
	logger    *log.Logger
	observe   Observer

	cMu      sync.Mutex
	checkIns map[uuid.UUID]time.Time

	aMu      sync.Mutex
	assigned map[uuid.UUID]string

	pMu     sync.Mutex
	pending []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleness overrides the reclamation bound.
func WithStaleness(d time.Duration) Option {
	return func(r *Registry) { r.staleness = d }
}

// WithNow overrides the clock. Tests use this to age heartbeats without
// sleeping.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver registers a lifecycle observer.
func WithObserver(fn Observer) Option {
	return func(r *Registry) { r.observe = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	r := &Registry{
		staleness: DefaultStaleness,
		now:       time.Now,
		logger:    logger,
		checkIns:  make(map[uuid.UUID]time.Time),
		assigned:  make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pendingEvent is a lifecycle event buffered during an operation and
// handed to the observer only after the registry locks are released, so
// observer work (journal fsync, database insert) never extends the lock
// hold and observers may read the registry.
type pendingEvent struct {
	kind   string
	worker uuid.UUID
	path   string
}

// deliver runs outside the locks: callers register it with defer before
// taking any lock, so it fires after the unlock defers.
func (r *Registry) deliver(events []pendingEvent) {
	if r.observe == nil {
		return
	}
	for _, e := range events {
		r.observe(e.kind, e.worker, e.path)
	}
}

// Register mints a fresh worker id and records its first heartbeat.
func (r *Registry) Register() uuid.UUID {
	var events []pendingEvent
	defer func() { r.deliver(events) }()

	r.cMu.Lock()
	defer r.cMu.Unlock()

	id := uuid.New()
	r.checkIns[id] = r.now()
	r.logger.Printf("dispatch: worker registered %s", id)
	events = append(events, pendingEvent{EventRegistered, id, ""})
	return id
}

// Ping refreshes a known worker's heartbeat. Unknown ids are a no-op; the
// ping surface does not authenticate, so callers still report success.
func (r *Registry) Ping(id uuid.UUID) {
	r.cMu.Lock()
	defer r.cMu.Unlock()

	if _, ok := r.checkIns[id]; ok {
		r.checkIns[id] = r.now()
	}
}

// PullFor hands the next job to a registered worker. Reclaimed paths from
// stale workers take precedence over the head of the pending queue. The
// empty string means no work, or an unknown worker; callers cannot tell the
// two apart and are expected to retry later.
func (r *Registry) PullFor(id uuid.UUID) string {
	var events []pendingEvent
	defer func() { r.deliver(events) }()

	r.cMu.Lock()
	defer r.cMu.Unlock()

	if _, ok := r.checkIns[id]; !ok {
		return ""
	}

	r.aMu.Lock()
	defer r.aMu.Unlock()
	r.pMu.Lock()
	defer r.pMu.Unlock()

	if path, victim, ok := r.reclaim(); ok {
		r.assigned[id] = path
		r.logger.Printf("dispatch: job pulled by %s: %s", id, path)
		events = append(events,
			pendingEvent{EventReclaimed, victim, path},
			pendingEvent{EventPulled, id, path})
		return path
	}

	if len(r.pending) > 0 {
		path := r.pending[0]
		r.pending = r.pending[1:]
		r.assigned[id] = path
		r.logger.Printf("dispatch: job pulled by %s: %s", id, path)
		events = append(events, pendingEvent{EventPulled, id, path})
		return path
	}

	return ""
}

// reclaim scans assignments for a worker whose heartbeat exceeded the
// staleness bound and removes the first match, reporting the victim. The
// victim stays in checkIns; when it eventually reports completion it
// finds its assignment gone. Callers must hold all three locks.
func (r *Registry) reclaim() (string, uuid.UUID, bool) {
	now := r.now()
	for w, path := range r.assigned {
		hb, ok := r.checkIns[w]
		if !ok {
			panic("dispatch: assigned worker " + w.String() + " has no heartbeat")
		}
		if now.Sub(hb) > r.staleness {
			delete(r.assigned, w)
			r.logger.Printf("dispatch: job reclaimed from stale worker %s: %s", w, path)
			return path, w, true
		}
	}
	return "", uuid.Nil, false
}

// CompleteFor settles a worker's assignment after a push. The expected
// output name is the job's file name with its extension replaced by ext,
// looked up under completedDir. When the output exists the input file is
// deleted from the intake directory; when it does not, the path returns to
// the tail of the queue. Either way the assignment is cleared. The returned
// string is the settled job path, empty for CompleteMissing.
func (r *Registry) CompleteFor(id uuid.UUID, ext, completedDir string) (CompleteResult, string) {
	var events []pendingEvent
	defer func() { r.deliver(events) }()

	r.aMu.Lock()
	defer r.aMu.Unlock()

	path, ok := r.assigned[id]
	if !ok {
		return CompleteMissing, ""
	}
	delete(r.assigned, id)

	out := filepath.Join(completedDir, conv.OutputName(path, ext))
	if _, err := os.Stat(out); err == nil {
		if err := os.Remove(path); err != nil {
			r.logger.Printf("dispatch: remove input %s: %v", path, err)
		}
		r.logger.Printf("dispatch: job completed, output %s", out)
		events = append(events, pendingEvent{EventCompleted, id, path})
		return CompleteOK, path
	}

	r.pMu.Lock()
	r.pending = append(r.pending, path)
	r.pMu.Unlock()
	r.logger.Printf("dispatch: push without output %s, job re-queued: %s", out, path)
	events = append(events, pendingEvent{EventRequeued, id, path})
	return CompleteNotYet, path
}

// FailFor handles a worker's failure report: the worker is deregistered and
// its outstanding path, if any, goes back to the tail of the queue. Reports
// from unknown workers change nothing and return false.
func (r *Registry) FailFor(id uuid.UUID, report conv.FailureReport) bool {
	var events []pendingEvent
	defer func() { r.deliver(events) }()

	r.cMu.Lock()
	defer r.cMu.Unlock()

	if _, ok := r.checkIns[id]; !ok {
		return false
	}
	delete(r.checkIns, id)

	r.aMu.Lock()
	defer r.aMu.Unlock()

	var path string
	if p, ok := r.assigned[id]; ok {
		path = p
		delete(r.assigned, id)
		r.pMu.Lock()
		r.pending = append(r.pending, path)
		r.pMu.Unlock()
		r.logger.Printf("dispatch: worker %s failed, job re-queued: %s", id, path)
	} else {
		r.logger.Printf("dispatch: worker %s failed with no assignment", id)
	}
	r.logger.Printf("dispatch: failure report from %s at %s: %s",
		id, report.TimestampUTC.Format(time.RFC3339), report.Summary())
	events = append(events, pendingEvent{EventFailed, id, path})
	return true
}

// Enqueue appends a discovered path to the tail of the pending queue. The
// intake watcher calls this; only the pending lock is taken, and only for
// the append.
func (r *Registry) Enqueue(path string) {
	r.pMu.Lock()
	r.pending = append(r.pending, path)
	r.pMu.Unlock()
	r.deliver([]pendingEvent{{EventQueued, uuid.Nil, path}})
}

// SnapshotPending copies the pending queue for the index view.
func (r *Registry) SnapshotPending() []string {
	r.pMu.Lock()
	defer r.pMu.Unlock()
	out := make([]string, len(r.pending))
	copy(out, r.pending)
	return out
}

// known reports whether a worker id is registered.
func (r *Registry) known(id uuid.UUID) bool {
	r.cMu.Lock()
	defer r.cMu.Unlock()
	_, ok := r.checkIns[id]
	return ok
}

// assignment returns the worker's outstanding path, if any.
func (r *Registry) assignment(id uuid.UUID) (string, bool) {
	r.aMu.Lock()
	defer r.aMu.Unlock()
	path, ok := r.assigned[id]
	return path, ok
}
