package hrana

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/hrana/adapter"
)

// Session is the HRANA Session of spec.md §3: a lifetime-scoped object
// behind an opaque baton, holding the adapter reference captured at
// pipeline start, transaction state, and the prepared-statement map.
type Session struct {
	ID        string
	Adapter   adapter.Adapter
	CreatedAt time.Time

	mu            sync.Mutex
	lastUsed      time.Time
	inTransaction bool
	storedSQL     map[int64]string

	// pipelineQueue orders concurrent pipeline exchanges sharing this
	// baton FIFO by arrival, per spec.md §5/§8: two HTTP requests or
	// WebSocket frames racing on the same baton must not interleave their
	// statement execution.
	pipelineMu   sync.Mutex
	pipelineJobs *queue.Queue
	draining     bool
}

type pipelineJob struct {
	run  func()
	done chan struct{}
}

// RunExclusive runs fn after every previously enqueued job on this session
// has completed, draining the queue on a single dedicated goroutine so
// only one pipeline exchange ever touches the session's adapter and
// statement map at a time.
func (s *Session) RunExclusive(fn func()) {
	j := &pipelineJob{run: fn, done: make(chan struct{})}

	s.pipelineMu.Lock()
	if s.pipelineJobs == nil {
		s.pipelineJobs = queue.New()
	}
	s.pipelineJobs.Add(j)
	if !s.draining {
		s.draining = true
		go s.drainPipelineJobs()
	}
	s.pipelineMu.Unlock()

	<-j.done
}

func (s *Session) drainPipelineJobs() {
	for {
		s.pipelineMu.Lock()
		if s.pipelineJobs.Length() == 0 {
			s.draining = false
			s.pipelineMu.Unlock()
			return
		}
		j := s.pipelineJobs.Remove().(*pipelineJob)
		s.pipelineMu.Unlock()

		j.run()
		close(j.done)
	}
}

// Touch records activity, extending the session's 30s inactivity window.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// SetInTransaction updates the transaction flag.
func (s *Session) SetInTransaction(v bool) {
	s.mu.Lock()
	s.inTransaction = v
	s.mu.Unlock()
}

// InTransaction reports the session's current transaction flag.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// StoreSQL records sql under id for later lookup by execute/close_sql.
func (s *Session) StoreSQL(id int64, sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storedSQL == nil {
		s.storedSQL = make(map[int64]string)
	}
	s.storedSQL[id] = sql
}

// LookupSQL returns the SQL text stored under id, if any.
func (s *Session) LookupSQL(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sql, ok := s.storedSQL[id]
	return sql, ok
}

// CloseSQL forgets the stored SQL under id; a no-op if absent, per
// spec.md §4.4.
func (s *Session) CloseSQL(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storedSQL, id)
}

func (s *Session) expired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed) >= ttl
}

// SessionManager owns the baton-keyed map of live sessions, enforcing the
// 30s inactivity expiry and running the 60s background sweeper described
// in spec.md §3/§5. Grounded on the single-writer-map discipline of
// internal/workerpool.Pool, generalized from an LRU to a TTL-expiry map.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	log      zerolog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSessionManager constructs a SessionManager and starts its sweeper
// goroutine at sweepInterval.
func NewSessionManager(ttl, sweepInterval time.Duration, log zerolog.Logger) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go sm.sweepLoop(sweepInterval)
	return sm
}

// Create mints a new session bound to adapter, returning its baton.
func (sm *SessionManager) Create(ad adapter.Adapter) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Adapter:   ad,
		CreatedAt: now,
		lastUsed:  now,
		storedSQL: make(map[int64]string),
	}
	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()
	return s
}

// Get retrieves a live session by baton and touches it, extending its
// inactivity window. Returns false if the baton is unknown or expired.
func (sm *SessionManager) Get(baton string) (*Session, bool) {
	sm.mu.Lock()
	s, ok := sm.sessions[baton]
	sm.mu.Unlock()
	if !ok {
		return nil, false
	}
	if s.expired(sm.ttl) {
		sm.Delete(baton)
		return nil, false
	}
	s.Touch()
	return s, true
}

// Delete removes a session, making its baton unretrievable thereafter.
func (sm *SessionManager) Delete(baton string) {
	sm.mu.Lock()
	delete(sm.sessions, baton)
	sm.mu.Unlock()
}

func (sm *SessionManager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(sm.doneCh)
	for {
		select {
		case <-ticker.C:
			sm.sweep()
		case <-sm.stopCh:
			return
		}
	}
}

func (sm *SessionManager) sweep() {
	sm.mu.Lock()
	expired := make([]string, 0)
	for id, s := range sm.sessions {
		if s.expired(sm.ttl) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if len(expired) > 0 {
		sm.log.Debug().Int("count", len(expired)).Msg("swept expired hrana sessions")
	}
}

// Stop halts the background sweeper. Idempotent.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.stopCh) })
	<-sm.doneCh
}

// Count returns the number of currently live sessions, for tests and metrics.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}
