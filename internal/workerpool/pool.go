// Package workerpool implements the Worker Pool and Worker Instance
// (spec.md §4.1, §4.2): an identity-keyed cache of worker processes with
// TTL/idle/request-count/health-based eviction, persistent and ephemeral
// modes, and live/historical statistics.
package workerpool

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/metrics"
	"github.com/apprun/core/internal/workermsg"
)

const (
	maxHistoricalKeys = 1000
	maxEphemeralKeys  = 1000
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

type entry struct {
	key      string
	instance *Instance
	elem     *list.Element
}

// Pool is the Worker Pool: the supervisor-owned cache described by
// spec.md §4.1, grounded on the Hub's register/clients map in
// internal/websocket/hub.go for the "single owning goroutine mutates,
// readers take a consistent snapshot" discipline, generalized here to a
// plain mutex since pool mutations are synchronous, not channel-driven.
type Pool struct {
	mu      sync.Mutex
	maxSize int

	entries    map[string]*entry
	lru        *list.List // front = most recently used
	workerDirs map[string]string
	timers     map[string]*time.Timer

	historical      map[string]WorkerStats
	historicalOrder []string
	ephemeral       map[string]EphemeralStats
	ephemeralOrder  []string

	spawn   ProcessSpawner
	metrics *metrics.PoolMetrics
	log     zerolog.Logger

	shuttingDown bool
}

// NewPool constructs an empty Pool. maxSize bounds the LRU of persistent
// workers; spawn is the process constructor (NewExecProcess in production).
func NewPool(maxSize int, spawn ProcessSpawner, m *metrics.PoolMetrics, log zerolog.Logger) *Pool {
	return &Pool{
		maxSize:    maxSize,
		entries:    make(map[string]*entry),
		lru:        list.New(),
		workerDirs: make(map[string]string),
		timers:     make(map[string]*time.Timer),
		historical: make(map[string]WorkerStats),
		ephemeral:  make(map[string]EphemeralStats),
		spawn:      spawn,
		metrics:    m,
		log:        log,
	}
}

// ResolveKey implements spec.md §4.1's application-key resolution: parse
// the trailing two path segments, detect the nested <name>/<version>
// layout by a semver-shaped segment, otherwise split the last segment on
// '@' (default version "latest"), then let a package.json "version" field
// override the folder-derived version.
func ResolveKey(appDir string) (key, name, version string, err error) {
	clean := filepath.Clean(appDir)
	segs := strings.Split(clean, string(filepath.Separator))
	// drop empty leading segment from an absolute path split
	if len(segs) > 0 && segs[0] == "" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return "", "", "", fmt.Errorf("cannot resolve application key from empty path %q", appDir)
	}

	last := segs[len(segs)-1]
	secondLast := ""
	if len(segs) >= 2 {
		secondLast = segs[len(segs)-2]
	}

	switch {
	case versionPattern.MatchString(last) && secondLast != "":
		// <name>/<version> with version last (the common nested layout).
		name, version = secondLast, last
	case versionPattern.MatchString(secondLast) && secondLast != "":
		// second-to-last looks like a version; treat it as <version>/<name>.
		name, version = last, secondLast
	default:
		name = last
		version = "latest"
		if idx := strings.LastIndex(last, "@"); idx > 0 {
			name = last[:idx]
			version = last[idx+1:]
			if version == "" {
				version = "latest"
			}
		}
	}

	if manifestVersion, ok := readManifestVersion(appDir); ok {
		version = manifestVersion
	}

	return name + "@" + version, name, version, nil
}

// readManifestVersion looks for a package.json (or equivalent manifest) in
// appDir and returns its "version" field, if present and non-empty.
func readManifestVersion(appDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(appDir, "package.json"))
	if err != nil {
		return "", false
	}
	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", false
	}
	if manifest.Version == "" {
		return "", false
	}
	return manifest.Version, true
}

// Fetch implements both the persistent (ttl > 0) get-or-create algorithm
// and the ephemeral (ttl == 0) path of spec.md §4.1.
func (p *Pool) Fetch(ctx context.Context, appDir string, cfg Config, req workermsg.Request, secFetchDest string) (*workermsg.Response, error) {
	key, _, _, err := ResolveKey(appDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeBadRequest, "cannot resolve application key", err)
	}

	p.mu.Lock()
	if existingDir, ok := p.workerDirs[key]; ok && existingDir != appDir {
		p.mu.Unlock()
		return nil, apperrors.WorkerCollision(key, existingDir, appDir)
	}

	if cfg.TTL == 0 {
		p.mu.Unlock()
		return p.fetchEphemeral(ctx, key, appDir, cfg, req, secFetchDest)
	}

	if e, ok := p.entries[key]; ok {
		if e.instance.IsHealthy() {
			p.metrics.RecordHit()
			p.lru.MoveToFront(e.elem)
			inst := e.instance
			p.mu.Unlock()
			return p.dispatchTimed(ctx, inst, req)
		}
		p.removeEntryLocked(key, true)
	}

	p.metrics.RecordMiss()
	id := uuid.NewString()
	inst, err := NewInstance(id, appDir, cfg, p.spawn, p.log)
	if err != nil {
		p.metrics.RecordWorkerFailed()
		p.mu.Unlock()
		return nil, err
	}
	p.metrics.RecordWorkerCreated()

	elem := p.lru.PushFront(key)
	p.entries[key] = &entry{key: key, instance: inst, elem: elem}
	p.workerDirs[key] = appDir
	p.scheduleCleanupLocked(key, cfg)
	p.evictOverflowLocked()
	p.mu.Unlock()

	return p.dispatchTimed(ctx, inst, req)
}

func (p *Pool) dispatchTimed(ctx context.Context, inst *Instance, req workermsg.Request) (*workermsg.Response, error) {
	started := time.Now()
	res, err := inst.Fetch(ctx, req)
	p.metrics.RecordDuration(time.Since(started))
	return res, err
}

func (p *Pool) fetchEphemeral(ctx context.Context, key, appDir string, cfg Config, req workermsg.Request, secFetchDest string) (*workermsg.Response, error) {
	id := uuid.NewString()
	inst, err := NewInstance(id, appDir, cfg, p.spawn, p.log)
	if err != nil {
		p.metrics.RecordWorkerFailed()
		return nil, err
	}
	p.metrics.RecordWorkerCreated()

	started := time.Now()
	res, err := inst.Fetch(ctx, req)
	elapsed := time.Since(started)
	p.metrics.RecordDuration(elapsed)

	p.recordEphemeral(key, secFetchDest, elapsed)
	return res, err
}

func (p *Pool) recordEphemeral(key, secFetchDest string, elapsed time.Duration) {
	isDocument, isAsset := classifySecFetchDest(secFetchDest)

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.ephemeral[key]
	if ok && isAsset {
		existing.LastRequestCount++
		existing.LastResponseTimeMs += elapsed.Milliseconds()
		existing.LastSeen = time.Now()
		p.ephemeral[key] = existing
		return
	}

	stat := EphemeralStats{
		Key:                key,
		IsDocumentRequest:  isDocument,
		LastRequestCount:   1,
		LastResponseTimeMs: elapsed.Milliseconds(),
		LastSeen:           time.Now(),
	}
	if !ok {
		p.ephemeralOrder = append(p.ephemeralOrder, key)
		p.evictOldestEphemeralLocked()
	}
	p.ephemeral[key] = stat
}

func (p *Pool) evictOldestEphemeralLocked() {
	for len(p.ephemeralOrder) > maxEphemeralKeys {
		oldest := p.ephemeralOrder[0]
		p.ephemeralOrder = p.ephemeralOrder[1:]
		delete(p.ephemeral, oldest)
	}
}

func (p *Pool) evictOldestHistoricalLocked() {
	for len(p.historicalOrder) > maxHistoricalKeys {
		oldest := p.historicalOrder[0]
		p.historicalOrder = p.historicalOrder[1:]
		delete(p.historical, oldest)
	}
}

// evictOverflowLocked drops the least-recently-used entry when the pool
// exceeds maxSize. Called with p.mu held.
func (p *Pool) evictOverflowLocked() {
	if p.maxSize <= 0 {
		return
	}
	for len(p.entries) > p.maxSize {
		back := p.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		p.metrics.RecordEviction()
		p.removeEntryLocked(key, true)
	}
}

// scheduleCleanupLocked arms a timer that re-checks health at
// min(idleTimeout, ttl)/2, per spec.md §4.1's cleanup-timer requirement.
// Called with p.mu held.
func (p *Pool) scheduleCleanupLocked(key string, cfg Config) {
	interval := cfg.TTL
	if cfg.IdleTimeout > 0 && cfg.IdleTimeout < interval {
		interval = cfg.IdleTimeout
	}
	interval /= 2
	if interval <= 0 {
		interval = time.Second
	}

	timer := time.AfterFunc(interval, func() { p.runCleanup(key) })
	p.timers[key] = timer
}

func (p *Pool) runCleanup(key string) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return
	}
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	if e.instance.IsHealthy() {
		cfg := e.instance.Config
		p.scheduleCleanupLocked(key, cfg)
		p.mu.Unlock()
		return
	}
	p.removeEntryLocked(key, true)
	p.mu.Unlock()
}

// removeEntryLocked retires the entry at key: accumulates historical
// stats, terminates the instance, and clears the LRU/timer/directory
// bookkeeping. Called with p.mu held.
func (p *Pool) removeEntryLocked(key string, retired bool) {
	e, ok := p.entries[key]
	if !ok {
		return
	}
	delete(p.entries, key)
	p.lru.Remove(e.elem)
	delete(p.workerDirs, key)
	if t, ok := p.timers[key]; ok {
		t.Stop()
		delete(p.timers, key)
	}

	reqCount, errCount, respMs, createdAt, lastUsed := e.instance.Snapshot()
	prior, hadPrior := p.historical[key]
	if hadPrior {
		reqCount += prior.RequestCount
		errCount += prior.ErrorCount
		respMs += prior.TotalResponseTimeMs
		createdAt = prior.CreatedAt
	} else {
		p.historicalOrder = append(p.historicalOrder, key)
	}
	p.historical[key] = WorkerStats{
		Key:                 key,
		Status:              StatusOffline,
		RequestCount:        reqCount,
		ErrorCount:          errCount,
		TotalResponseTimeMs: respMs,
		CreatedAt:           createdAt,
		LastUsedAt:          lastUsed,
	}
	p.evictOldestHistoricalLocked()

	if retired {
		p.metrics.RecordWorkerRetired()
	}
	go e.instance.Terminate()
}

// GetMetrics snapshots the pool's metrics without blocking pool operations.
func (p *Pool) GetMetrics() metrics.PoolSnapshot {
	return p.metrics.Snapshot()
}

// GetWorkerStats composes (offline ← historical) ⊕ (ephemeral) ⊕ (live
// active), later sources overwriting earlier ones, merging live counters
// onto historical ones, per spec.md §4.1.
func (p *Pool) GetWorkerStats() map[string]WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]WorkerStats, len(p.historical)+len(p.ephemeral)+len(p.entries))
	for k, v := range p.historical {
		out[k] = v
	}
	for k, v := range p.ephemeral {
		out[k] = WorkerStats{
			Key:                 k,
			Status:              StatusEphemeral,
			RequestCount:        v.LastRequestCount,
			ErrorCount:          0,
			TotalResponseTimeMs: v.LastResponseTimeMs,
			LastUsedAt:          v.LastSeen,
		}
	}
	for k, e := range p.entries {
		reqCount, errCount, respMs, createdAt, lastUsed := e.instance.Snapshot()
		status := StatusActive
		if !e.instance.IsHealthy() {
			status = StatusIdle
		}
		if prior, ok := p.historical[k]; ok {
			reqCount += prior.RequestCount
			errCount += prior.ErrorCount
			respMs += prior.TotalResponseTimeMs
			if !createdAt.After(prior.CreatedAt) && !prior.CreatedAt.IsZero() {
				createdAt = prior.CreatedAt
			}
		}
		out[k] = WorkerStats{
			Key:                 k,
			Status:              status,
			RequestCount:        reqCount,
			ErrorCount:          errCount,
			TotalResponseTimeMs: respMs,
			CreatedAt:           createdAt,
			LastUsedAt:          lastUsed,
		}
	}
	return out
}

// Shutdown retires every live worker concurrently and stops all timers.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shuttingDown = true
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, k := range keys {
		key := k
		g.Go(func() error {
			p.mu.Lock()
			e, ok := p.entries[key]
			p.mu.Unlock()
			if !ok {
				return nil
			}
			e.instance.Terminate()
			return nil
		})
	}
	err := g.Wait()

	p.mu.Lock()
	for _, k := range keys {
		p.removeEntryLocked(k, false)
	}
	p.mu.Unlock()

	return err
}

// SecFetchDestHeader is the header name classifySecFetchDest reads, exposed
// so callers building requests for Fetch can extract it from *http.Request.
const SecFetchDestHeader = "Sec-Fetch-Dest"

// SecFetchDestOf extracts the Sec-Fetch-Dest header from an *http.Request,
// a convenience for callers in internal/pipeline.
func SecFetchDestOf(r *http.Request) string {
	return r.Header.Get(SecFetchDestHeader)
}
