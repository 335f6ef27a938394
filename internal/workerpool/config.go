package workerpool

import "time"

// Config is the per-application WorkerConfig named throughout spec.md §4.1
// and §4.2. It is resolved by the caller (the pipeline, from the app's own
// manifest falling back to internal/config defaults) and passed into Fetch.
type Config struct {
	// Entrypoint is the file the worker process should execute.
	Entrypoint string

	// TTL is the persistent-worker lifetime. TTL == 0 selects ephemeral mode:
	// every Fetch constructs a fresh, uncached instance that self-terminates
	// after the request completes.
	TTL time.Duration

	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxRequests    int
	MaxBodyBytes   int64

	// Env is passed to the worker process after the sensitive-name filter
	// (FilterEnv) strips anything matching the patterns in spec.md §4.2.
	Env map[string]string

	// PublicRoutes lists the request patterns an application's apprun.json
	// declares public. resolveWorkerConfig fills it in; AuthWrap in
	// internal/plugin does not read it.
	PublicRoutes PublicRoutes
}

// PublicRoutes describes which (method, path) combinations bypass
// auth-wrapping. All applies regardless of method; ByMethod restricts a
// glob pattern to specific HTTP methods.
type PublicRoutes struct {
	All      []string
	ByMethod map[string][]string
}

// DelayMS is the grace period Instance.Terminate waits between sending
// TERMINATE and forcibly killing the process (spec.md §4.2).
const DelayMS = 200 * time.Millisecond

// ReadyTimeout is the fixed wait for a worker's READY handshake (spec.md §4.2, §5).
const ReadyTimeout = 30 * time.Second
