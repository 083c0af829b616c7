// ABOUTME: Generation lifecycle runner driving install, waiting, and activation
// ABOUTME: Coordinates asset precache, stale cache cleanup, and client claiming

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
	"github.com/Xevo88/shuna-gateway/internal/hub"
	"github.com/Xevo88/shuna-gateway/internal/shell"
)

// Lifecycle event names.
const (
	EventInstall  = "install"
	EventActivate = "activate"
)

// defaultRetryInterval is used when no retry interval is configured.
const defaultRetryInterval = time.Minute

// clientPollInterval is how often the waiting state re-checks client count.
const clientPollInterval = time.Second

// State is the runner's position in the generation lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActive     State = "active"
)

// Store is the subset of cachestore.Store the runner needs.
type Store interface {
	ActiveGeneration(ctx context.Context) (string, error)
	SetActiveGeneration(ctx context.Context, generation string) error
	OpenCache(ctx context.Context, name string) error
	AddAll(ctx context.Context, cacheName string, entries []*cachestore.Entry) error
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, name string) error
}

// AssetFetcher retrieves one shell asset from the upstream origin.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, path string) (*cachestore.Entry, error)
}

// Claimer lets the runner take control of connected clients after activation.
type Claimer interface {
	Broadcast(event *hub.Event)
	ClientCount() int
}

// Options configures runner behavior.
type Options struct {
	// WaitForClients defers activation until every client disconnects or
	// a skip is requested. When false the runner activates immediately
	// after a successful install.
	WaitForClients bool

	// RetryInterval is the pause between failed install or activation
	// attempts. Zero means defaultRetryInterval.
	RetryInterval time.Duration
}

// Runner walks a shell generation through install, waiting, and activation.
// Run is the entry point; SkipWaiting and State may be called from other
// goroutines at any time.
type Runner struct {
	manifest   *shell.Manifest
	store      Store
	fetcher    AssetFetcher
	claimer    Claimer
	dispatcher *Dispatcher
	logger     *slog.Logger

	waitForClients bool
	retryInterval  time.Duration
	pollInterval   time.Duration

	mu            sync.RWMutex
	state         State
	skipRequested bool
	skipCh        chan struct{}
}

// NewRunner creates a runner and registers its install and activate handlers
// on the dispatcher. Pass nil logger for default.
func NewRunner(manifest *shell.Manifest, store Store, fetcher AssetFetcher, claimer Claimer, dispatcher *Dispatcher, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	r := &Runner{
		manifest:       manifest,
		store:          store,
		fetcher:        fetcher,
		claimer:        claimer,
		dispatcher:     dispatcher,
		logger:         logger.With("component", "lifecycle"),
		waitForClients: opts.WaitForClients,
		retryInterval:  opts.RetryInterval,
		pollInterval:   clientPollInterval,
		state:          StateIdle,
		skipCh:         make(chan struct{}, 1),
	}

	dispatcher.On(EventInstall, r.handleInstall)
	dispatcher.On(EventActivate, r.handleActivate)
	return r
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SkipWaiting requests immediate activation of a generation parked in the
// waiting state. Safe to call from any goroutine, before or during the wait.
func (r *Runner) SkipWaiting() {
	r.mu.Lock()
	r.skipRequested = true
	r.mu.Unlock()

	select {
	case r.skipCh <- struct{}{}:
	default:
	}
}

// Run drives the manifest generation to active. If the generation is already
// active it returns immediately. Install and activation failures are retried
// on the configured interval until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	active, err := r.store.ActiveGeneration(ctx)
	if err != nil {
		return fmt.Errorf("reading active generation: %w", err)
	}

	if active == r.manifest.Generation {
		r.setState(StateActive)
		r.logger.Info("generation already active", "generation", active)
		return nil
	}

	r.setState(StateInstalling)
	r.logger.Info("installing generation",
		"generation", r.manifest.Generation,
		"previous", active,
		"assets", len(r.manifest.Assets))

	if err := r.emitWithRetry(ctx, EventInstall); err != nil {
		return err
	}

	r.setState(StateWaiting)
	if err := r.waitForActivation(ctx); err != nil {
		return err
	}

	if err := r.emitWithRetry(ctx, EventActivate); err != nil {
		return err
	}

	r.setState(StateActive)
	r.logger.Info("generation active", "generation", r.manifest.Generation)
	return nil
}

// emitWithRetry emits the event until it succeeds or ctx is canceled.
func (r *Runner) emitWithRetry(ctx context.Context, event string) error {
	for {
		err := r.dispatcher.Emit(ctx, event, r.manifest.Generation)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Error("lifecycle step failed, retrying",
			"event", event,
			"retry_in", r.retryInterval,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}
}

// waitForActivation blocks until the generation may activate: immediately
// when not waiting for clients, otherwise when a skip is requested or the
// last client disconnects.
func (r *Runner) waitForActivation(ctx context.Context) error {
	if !r.waitForClients {
		return nil
	}

	r.mu.RLock()
	skipped := r.skipRequested
	r.mu.RUnlock()
	if skipped || r.claimer.ClientCount() == 0 {
		return nil
	}

	r.logger.Info("waiting for clients before activation",
		"generation", r.manifest.Generation,
		"clients", r.claimer.ClientCount())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.skipCh:
			r.logger.Info("skip requested, activating now", "generation", r.manifest.Generation)
			return nil
		case <-ticker.C:
			if r.claimer.ClientCount() == 0 {
				return nil
			}
		}
	}
}

// handleInstall precaches every manifest asset into the generation cache.
// All assets must fetch successfully or the whole install fails; a partial
// shell is worse than no shell. The conversation data cache is opened here
// so it exists before the first write and survives activation cleanup.
func (r *Runner) handleInstall(ctx context.Context, _ any) error {
	entries := make([]*cachestore.Entry, 0, len(r.manifest.Assets))
	for _, path := range r.manifest.Assets {
		entry, err := r.fetcher.FetchAsset(ctx, path)
		if err != nil {
			return fmt.Errorf("precaching %s: %w", path, err)
		}
		entries = append(entries, entry)
	}

	if err := r.store.AddAll(ctx, r.manifest.Generation, entries); err != nil {
		return fmt.Errorf("storing precached assets: %w", err)
	}

	if err := r.store.OpenCache(ctx, r.manifest.DataCache()); err != nil {
		return fmt.Errorf("opening data cache: %w", err)
	}

	r.logger.Info("install complete",
		"generation", r.manifest.Generation,
		"assets", len(entries))
	return nil
}

// handleActivate deletes every cache that does not belong to this generation,
// records the generation as active, and claims connected clients. A deletion
// failure aborts activation so a retry can finish the cleanup.
func (r *Runner) handleActivate(ctx context.Context, _ any) error {
	retain := map[string]bool{
		r.manifest.Generation:  true,
		r.manifest.DataCache(): true,
	}

	names, err := r.store.CacheNames(ctx)
	if err != nil {
		return fmt.Errorf("listing caches: %w", err)
	}

	deleted := 0
	for _, name := range names {
		if retain[name] {
			continue
		}
		if err := r.store.DeleteCache(ctx, name); err != nil && !errors.Is(err, cachestore.ErrNotFound) {
			return fmt.Errorf("deleting stale cache %s: %w", name, err)
		}
		r.logger.Debug("deleted stale cache", "cache", name)
		deleted++
	}

	if err := r.store.SetActiveGeneration(ctx, r.manifest.Generation); err != nil {
		return fmt.Errorf("recording active generation: %w", err)
	}

	r.claim()

	r.logger.Info("activation complete",
		"generation", r.manifest.Generation,
		"deleted_caches", deleted)
	return nil
}

// claim broadcasts a controller change so connected clients reload against
// the new generation.
func (r *Runner) claim() {
	event, err := hub.NewEvent(hub.EventControllerChange, map[string]string{
		"generation": r.manifest.Generation,
	})
	if err != nil {
		r.logger.Error("building controllerchange event", "error", err)
		return
	}
	r.claimer.Broadcast(event)
	r.logger.Info("claimed clients", "clients", r.claimer.ClientCount())
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}
