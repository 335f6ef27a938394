package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/workermsg"
)

// Instance is the Worker Instance of spec.md §4.2: the state machine and
// request/response protocol between the supervisor and a single worker
// process. One dispatcher goroutine owns the process's inbound message
// stream and routes responses to whichever Fetch call is waiting on a
// matching reqId, grounded on the register/unregister/broadcast goroutine
// in internal/websocket/hub.go's Hub.run loop.
type Instance struct {
	ID      string
	AppDir  string
	Config  Config
	process WorkerProcess
	log     zerolog.Logger

	createdAt time.Time

	readyCh   chan struct{}
	readyOnce sync.Once
	readyErr  error

	mu             sync.Mutex
	lastUsedAt     time.Time
	requestCount   int64
	errorCount     int64
	totalRespMs    int64
	hasCritical    bool
	criticalReason string
	idleSent       bool
	terminated     bool

	pendingMu sync.Mutex
	pending   map[string]chan workermsg.Message

	termOnce sync.Once
	doneCh   chan struct{}
}

// NewInstance filters env, spawns the worker process via spawn, and starts
// the dispatcher goroutine and the 30s READY timer.
func NewInstance(id, appDir string, cfg Config, spawn ProcessSpawner, log zerolog.Logger) (*Instance, error) {
	filtered, blocked := FilterEnv(cfg.Env)
	for _, k := range blocked {
		log.Warn().Str("worker_id", id).Str("env_key", k).Msg("blocked sensitive env var from worker")
	}

	workerCfgJSON, err := marshalWorkerConfig(cfg)
	if err != nil {
		return nil, apperrors.WorkerInitFailed(err)
	}

	filtered["APP_DIR"] = appDir
	filtered["BUNTIME_API_URL"] = "http://127.0.0.1:0" // loopback placeholder; wired by the supervisor at spawn time
	filtered["ENTRYPOINT"] = cfg.Entrypoint
	filtered["NODE_ENV"] = "production"
	filtered["WORKER_CONFIG"] = workerCfgJSON
	filtered["WORKER_ID"] = id

	proc, err := spawn(appDir, cfg.Entrypoint, filtered)
	if err != nil {
		return nil, apperrors.WorkerInitFailed(err)
	}

	inst := &Instance{
		ID:        id,
		AppDir:    appDir,
		Config:    cfg,
		process:   proc,
		log:       log.With().Str("worker_id", id).Logger(),
		createdAt: time.Now(),

		readyCh: make(chan struct{}),
		pending: make(map[string]chan workermsg.Message),
		doneCh:  make(chan struct{}),
	}
	inst.lastUsedAt = inst.createdAt

	go inst.dispatch()
	go inst.watchReadyTimeout()

	return inst, nil
}

func marshalWorkerConfig(cfg Config) (string, error) {
	type wire struct {
		Entrypoint     string `json:"entrypoint"`
		TTLMs          int64  `json:"ttlMs"`
		IdleTimeoutMs  int64  `json:"idleTimeoutMs"`
		RequestTimeoutMs int64 `json:"requestTimeoutMs"`
		MaxRequests    int    `json:"maxRequests"`
		MaxBodyBytes   int64  `json:"maxBodyBytes"`
	}
	w := wire{
		Entrypoint:       cfg.Entrypoint,
		TTLMs:            cfg.TTL.Milliseconds(),
		IdleTimeoutMs:    cfg.IdleTimeout.Milliseconds(),
		RequestTimeoutMs: cfg.RequestTimeout.Milliseconds(),
		MaxRequests:      cfg.MaxRequests,
		MaxBodyBytes:     cfg.MaxBodyBytes,
	}
	b, err := json.Marshal(w)
	return string(b), err
}

// dispatch owns process.Recv()/Errs() for the life of the instance. It is
// the only goroutine that sets hasCritical and that delivers messages to
// pending waiters; Fetch adds and removes its own waiter, and readyCh is
// also closed by watchReadyTimeout.
func (w *Instance) dispatch() {
	recv := w.process.Recv()
	errs := w.process.Errs()
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				recv = nil
				if errs == nil {
					w.failAllPending(apperrors.WorkerCritical(w.ID, "process stream closed"))
					return
				}
				continue
			}
			w.handleMessage(msg)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if recv == nil {
					w.failAllPending(apperrors.WorkerCritical(w.ID, "process stream closed"))
					return
				}
				continue
			}
			w.handleProcessError(err)
		case <-w.doneCh:
			return
		}
	}
}

func (w *Instance) handleMessage(msg workermsg.Message) {
	switch msg.Type {
	case workermsg.TypeReady:
		w.readyOnce.Do(func() { close(w.readyCh) })
	case workermsg.TypeResponse, workermsg.TypeError:
		w.pendingMu.Lock()
		ch, ok := w.pending[msg.ReqID]
		w.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (w *Instance) handleProcessError(err error) {
	w.mu.Lock()
	w.hasCritical = true
	w.criticalReason = err.Error()
	w.mu.Unlock()

	w.readyOnce.Do(func() {
		w.readyErr = apperrors.WorkerCritical(w.ID, err.Error())
		close(w.readyCh)
	})

	w.failAllPending(apperrors.WorkerCritical(w.ID, err.Error()))
}

func (w *Instance) failAllPending(appErr *apperrors.AppError) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for id, ch := range w.pending {
		select {
		case ch <- workermsg.NewError(id, appErr.Message, ""):
		default:
		}
	}
}

func (w *Instance) watchReadyTimeout() {
	select {
	case <-w.readyCh:
	case <-time.After(ReadyTimeout):
		w.readyOnce.Do(func() {
			w.readyErr = apperrors.New(apperrors.ErrCodeWorkerInitFailed, "worker did not send READY within 30s")
			close(w.readyCh)
		})
	case <-w.doneCh:
	}
}

// Fetch implements spec.md §4.2's fetch algorithm.
func (w *Instance) Fetch(ctx context.Context, req workermsg.Request) (*workermsg.Response, error) {
	select {
	case <-w.readyCh:
		if w.readyErr != nil {
			return nil, w.readyErr
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	w.mu.Lock()
	if w.hasCritical {
		reason := w.criticalReason
		w.mu.Unlock()
		return nil, apperrors.WorkerCritical(w.ID, reason)
	}
	if w.terminated {
		w.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeWorkerTerminated, "worker has been terminated")
	}
	atomic.AddInt64(&w.requestCount, 1)
	w.lastUsedAt = time.Now()
	w.idleSent = false
	w.mu.Unlock()

	reqID := uuid.NewString()
	waiter := make(chan workermsg.Message, 1)
	w.pendingMu.Lock()
	w.pending[reqID] = waiter
	w.pendingMu.Unlock()

	started := time.Now()
	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, reqID)
		w.pendingMu.Unlock()
		if w.Config.TTL == 0 {
			go w.Terminate()
		}
	}()

	if err := w.process.Send(workermsg.NewRequest(reqID, req)); err != nil {
		w.mu.Lock()
		w.errorCount++
		w.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrCodeWorkerRequest, "failed to send request to worker", err)
	}

	timeout := w.Config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-waiter:
		elapsed := time.Since(started)
		w.mu.Lock()
		w.totalRespMs += elapsed.Milliseconds()
		w.mu.Unlock()
		switch msg.Type {
		case workermsg.TypeResponse:
			if msg.Res == nil {
				return nil, apperrors.New(apperrors.ErrCodeWorkerRequest, "worker sent empty response")
			}
			return msg.Res, nil
		case workermsg.TypeError:
			w.mu.Lock()
			w.errorCount++
			critical := w.hasCritical
			reason := w.criticalReason
			w.mu.Unlock()
			if critical {
				return nil, apperrors.WorkerCritical(w.ID, reason)
			}
			return nil, apperrors.New(apperrors.ErrCodeWorkerRequest, msg.Error)
		default:
			return nil, apperrors.New(apperrors.ErrCodeWorkerRequest, "unexpected message type from worker")
		}
	case <-timer.C:
		return nil, apperrors.WorkerTimeout(w.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsHealthy implements the health conjunction of spec.md §4.1.
func (w *Instance) IsHealthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasCritical || w.terminated {
		return false
	}
	now := time.Now()
	if w.Config.TTL > 0 && now.Sub(w.createdAt) >= w.Config.TTL {
		return false
	}
	if w.Config.IdleTimeout > 0 && now.Sub(w.lastUsedAt) >= w.Config.IdleTimeout {
		return false
	}
	if w.Config.MaxRequests > 0 && atomic.LoadInt64(&w.requestCount) >= int64(w.Config.MaxRequests) {
		return false
	}
	return true
}

// MaybeSendIdle sends one IDLE message on the first idle-timer tick after a
// request, edge-triggered per spec.md §6.
func (w *Instance) MaybeSendIdle() {
	w.mu.Lock()
	if w.idleSent || w.terminated {
		w.mu.Unlock()
		return
	}
	w.idleSent = true
	w.mu.Unlock()
	_ = w.process.Send(workermsg.Idle())
}

// Snapshot returns the instance's counters for WorkerStats composition.
func (w *Instance) Snapshot() (requestCount, errorCount, totalRespMs int64, createdAt, lastUsedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return atomic.LoadInt64(&w.requestCount), w.errorCount, w.totalRespMs, w.createdAt, w.lastUsedAt
}

// Terminate sends TERMINATE, waits DelayMS, then forcibly kills the
// process. Idempotent: subsequent calls are no-ops.
func (w *Instance) Terminate() {
	w.termOnce.Do(func() {
		w.mu.Lock()
		w.terminated = true
		w.mu.Unlock()

		_ = w.process.Send(workermsg.Terminate())
		time.Sleep(DelayMS)
		_ = w.process.Kill()
		close(w.doneCh)
		w.failAllPending(apperrors.New(apperrors.ErrCodeWorkerTerminated, "worker terminated"))
	})
}

func (w *Instance) String() string {
	return fmt.Sprintf("Instance(%s, dir=%s)", w.ID, w.AppDir)
}
