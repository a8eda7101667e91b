package kumo

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger        *slog.Logger
	version       string
	dbPath        string
	port          int
	routerConfig  string
	checkpointDir string
	modelCallMode string
	adapters      map[string]ModelAdapter
	runHooks      []RunHook
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON logger at the configured level is created.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDBPath overrides the SQLite path from config (KUMO_DB_PATH env var).
func WithDBPath(path string) Option {
	return func(o *resolvedOptions) { o.dbPath = path }
}

// WithPort overrides the dashboard TCP port from config (KUMO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithRouterConfig points the router at a YAML config file
// (KUMO_ROUTER_CONFIG env var).
func WithRouterConfig(path string) Option {
	return func(o *resolvedOptions) { o.routerConfig = path }
}

// WithCheckpointDir overrides where run checkpoints are written
// (KUMO_CHECKPOINT_DIR env var).
func WithCheckpointDir(dir string) Option {
	return func(o *resolvedOptions) { o.checkpointDir = dir }
}

// WithModelCallMode selects the default model callable:
// "stub", "local", "local:<model>", "cloud", or "cloud:<model>".
func WithModelCallMode(mode string) Option {
	return func(o *resolvedOptions) { o.modelCallMode = mode }
}

// WithAdapter installs a custom model adapter under name, replacing the
// built-in client the router would otherwise use for that name.
func WithAdapter(name string, a ModelAdapter) Option {
	return func(o *resolvedOptions) {
		if o.adapters == nil {
			o.adapters = make(map[string]ModelAdapter)
		}
		o.adapters[name] = a
	}
}

// WithRunHook registers a run lifecycle hook. Multiple hooks may be
// registered; all receive every event.
func WithRunHook(hook RunHook) Option {
	return func(o *resolvedOptions) { o.runHooks = append(o.runHooks, hook) }
}
