// Package prefsync keeps notification preferences consistent between the
// local cache and the backend. Preference writes are remote-first: the cache
// only ever holds values the backend has confirmed. Writes that cannot reach
// the backend are queued and replayed when the network returns.
package prefsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/connectivity"
	"github.com/dukerupert/stormsync/internal/metrics"
	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/pending"
	"github.com/dukerupert/stormsync/internal/remote"
	"github.com/dukerupert/stormsync/internal/retry"
	"github.com/dukerupert/stormsync/internal/store"
	"github.com/dukerupert/stormsync/internal/stream"
)

// Config wires a Repository to its collaborators.
type Config struct {
	Remote       remote.Client
	Connectivity connectivity.Observer
	Retry        *retry.Executor

	Preferences *store.PreferenceStore
	Locations   *store.LocationStore
	History     *store.HistoryStore
	Settings    *store.SettingsStore

	Session auth.Session
	// QueuePath persists pending writes across restarts when set.
	QueuePath string
	// OnPendingChange is called with the queue length after every change.
	OnPendingChange func(count int)
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Repository struct {
	remote   remote.Client
	conn     connectivity.Observer
	retry    *retry.Executor
	prefs    *store.PreferenceStore
	locs     *store.LocationStore
	history  *store.HistoryStore
	settings *store.SettingsStore
	session  auth.Session
	queue    *pending.Queue
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	drains singleflight.Group
	writes keyLocks
	// base outlives any single caller; shared drains run under it.
	base     context.Context
	stopBase context.CancelFunc

	mu        sync.Mutex
	prefSubs  map[string]*stream.Subject[model.PreferenceSet]
	unreadSub map[string]*stream.Subject[int]
}

func New(cfg Config) (*Repository, error) {
	switch {
	case cfg.Remote == nil:
		return nil, errors.New("prefsync: remote client is required")
	case cfg.Connectivity == nil:
		return nil, errors.New("prefsync: connectivity observer is required")
	case cfg.Preferences == nil, cfg.Locations == nil, cfg.History == nil, cfg.Settings == nil:
		return nil, errors.New("prefsync: all stores are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "prefsync")

	r := &Repository{
		remote:    cfg.Remote,
		conn:      cfg.Connectivity,
		retry:     cfg.Retry,
		prefs:     cfg.Preferences,
		locs:      cfg.Locations,
		history:   cfg.History,
		settings:  cfg.Settings,
		session:   cfg.Session,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       cfg.Now,
		prefSubs:  make(map[string]*stream.Subject[model.PreferenceSet]),
		unreadSub: make(map[string]*stream.Subject[int]),
	}
	if r.retry == nil {
		r.retry = retry.New(retry.Config{OnRetry: func(int, time.Duration, error) { cfg.Metrics.RemoteRetry() }}, logger)
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.session == nil {
		r.session = auth.NewStaticSession("", "")
	}

	q, err := pending.New(pending.Options{
		Path: cfg.QueuePath,
		OnChange: func(n int) {
			cfg.Metrics.SetPendingWrites(n)
			if cfg.OnPendingChange != nil {
				cfg.OnPendingChange(n)
			}
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	r.queue = q
	r.base, r.stopBase = context.WithCancel(context.Background())
	cfg.Metrics.SetPendingWrites(q.Count())
	return r, nil
}

// Close stops accepting drains and waits for one already in flight.
func (r *Repository) Close() {
	r.stopBase()
	r.drains.Do("drain", func() (any, error) { return DrainResult{}, nil })
}

// GetPreferences returns the cached set for userID. Only when nothing is
// cached does it go to the backend; a user the backend has never seen gets
// DefaultPreferences.
func (r *Repository) GetPreferences(ctx context.Context, userID string) (model.PreferenceSet, error) {
	local, err := r.prefs.Get(ctx, userID)
	if err != nil {
		return model.PreferenceSet{}, err
	}
	if local != nil {
		return *local, nil
	}
	if !r.conn.CurrentlyUsable() {
		return model.PreferenceSet{}, fmt.Errorf("fetch preferences for %q: %w", userID, ErrOffline)
	}

	var fetched model.PreferenceSet
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		fetched, err = r.remote.FetchPreferences(ctx, userID)
		return err
	})
	switch {
	case errors.Is(err, remote.ErrNotFound):
		fetched = model.DefaultPreferences(userID)
		r.logger.Info("no remote preferences, using defaults", "user_id", userID)
	case err != nil:
		return model.PreferenceSet{}, fmt.Errorf("fetch preferences for %q: %w", userID, err)
	default:
		fetched.LastSyncedAt = r.now()
	}

	if err := r.prefs.Put(ctx, fetched); err != nil {
		return model.PreferenceSet{}, err
	}
	fetched = fetched.Normalized()
	r.publishPreferences(fetched)
	return fetched, nil
}

// ObservePreferences streams the cached set for userID. The current value,
// if any, is delivered first.
func (r *Repository) ObservePreferences(ctx context.Context, userID string) (<-chan model.PreferenceSet, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.prefSubs[userID]
	if !ok {
		local, err := r.prefs.Get(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		sub = stream.NewReplay[model.PreferenceSet]()
		if local != nil {
			sub.Publish(*local)
		}
		r.prefSubs[userID] = sub
	}
	ch, cancel := sub.Subscribe()
	return ch, cancel, nil
}

func (r *Repository) publishPreferences(p model.PreferenceSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.prefSubs[p.UserID]; ok {
		sub.Publish(p)
	}
}

// UpdatePreferences writes set to the backend and, once confirmed, to the
// local cache. The cache is never changed by a write the backend has not
// acknowledged.
func (r *Repository) UpdatePreferences(ctx context.Context, set model.PreferenceSet) (Outcome, error) {
	outcome, err := r.updatePreferences(ctx, set)
	r.metrics.SyncOperation("update_preferences", outcome.String())
	return outcome, err
}

func (r *Repository) updatePreferences(ctx context.Context, set model.PreferenceSet) (Outcome, error) {
	set = set.Normalized()
	if err := set.Validate(); err != nil {
		return OutcomeRejected, fmt.Errorf("update preferences: %w", err)
	}

	intent := pending.PreferenceWrite{UserID: set.UserID, Preferences: set, CreatedAt: r.now()}
	if !r.conn.CurrentlyUsable() {
		r.queue.Enqueue(intent)
		r.logger.Info("offline, preference write queued", "user_id", set.UserID)
		return OutcomeQueued, ErrOffline
	}

	unlock := r.writes.lock(intent.Key())
	defer unlock()
	if err := r.writePreferences(ctx, set); err != nil {
		r.queue.Enqueue(intent)
		if ctx.Err() != nil {
			return OutcomeQueued, ctx.Err()
		}
		r.logger.Warn("preference write failed, queued", "user_id", set.UserID, "error", err)
		return OutcomeFailed, &SyncError{Op: "update preferences", Err: err}
	}

	// An older queued edit must not overwrite this one on the next drain.
	r.queue.Drop(intent.Key())
	if err := r.confirmPreferences(ctx, set); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSynced, nil
}

func (r *Repository) writePreferences(ctx context.Context, set model.PreferenceSet) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.remote.WritePreferences(ctx, set.UserID, set)
	})
}

// confirmPreferences caches a backend-confirmed set and notifies observers.
func (r *Repository) confirmPreferences(ctx context.Context, set model.PreferenceSet) error {
	set.LastSyncedAt = r.now()
	if err := r.prefs.Put(ctx, set); err != nil {
		return fmt.Errorf("cache confirmed preferences: %w", err)
	}
	r.publishPreferences(set.Normalized())
	return nil
}

// SyncPreferences pulls the backend copy and keeps whichever of the two has
// the later LastSyncedAt, preferring the remote one on a tie. It never writes
// to the backend.
//
// The remote copy is stamped with the local clock when the response arrives,
// so in practice the most recently fetched value wins.
func (r *Repository) SyncPreferences(ctx context.Context, userID string) error {
	err := r.syncPreferences(ctx, userID)
	outcome := "synced"
	if err != nil {
		outcome = "failed"
	}
	r.metrics.SyncOperation("sync_preferences", outcome)
	return err
}

func (r *Repository) syncPreferences(ctx context.Context, userID string) error {
	if !r.conn.CurrentlyUsable() {
		return fmt.Errorf("sync preferences for %q: %w", userID, ErrOffline)
	}

	var fetched model.PreferenceSet
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		fetched, err = r.remote.FetchPreferences(ctx, userID)
		return err
	})
	if errors.Is(err, remote.ErrNotFound) {
		r.logger.Debug("no remote preferences to sync", "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync preferences for %q: %w", userID, err)
	}
	fetched.LastSyncedAt = r.now()

	local, err := r.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if local != nil && fetched.LastSyncedAt.Before(local.LastSyncedAt) {
		r.logger.Debug("local preferences newer, keeping", "user_id", userID)
		return nil
	}
	if err := r.prefs.Put(ctx, fetched); err != nil {
		return err
	}
	r.publishPreferences(fetched.Normalized())
	return nil
}

// OnDeviceTokenRotated stores a new push token and registers it with the
// backend for the signed-in user. Registration failures are queued.
func (r *Repository) OnDeviceTokenRotated(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("device token is empty")
	}
	if err := r.settings.Set(ctx, model.SettingDeviceToken, token); err != nil {
		return err
	}
	if err := r.settings.Set(ctx, model.SettingDeviceTokenSynced, "false"); err != nil {
		return err
	}

	ac, ok := r.session.Current()
	if !ok {
		r.logger.Info("device token stored, no user signed in")
		return nil
	}

	intent := pending.DeviceTokenWrite{UserID: ac.UserID, Token: token, CreatedAt: r.now()}
	if !r.conn.CurrentlyUsable() {
		r.queue.Enqueue(intent)
		r.metrics.SyncOperation("register_device_token", OutcomeQueued.String())
		return nil
	}
	unlock := r.writes.lock(intent.Key())
	defer unlock()
	if err := r.registerToken(ctx, ac.UserID, token); err != nil {
		r.queue.Enqueue(intent)
		r.logger.Warn("device token registration failed, queued", "user_id", ac.UserID, "error", err)
		r.metrics.SyncOperation("register_device_token", OutcomeFailed.String())
		return nil
	}
	r.queue.Drop(intent.Key())
	r.metrics.SyncOperation("register_device_token", OutcomeSynced.String())
	return r.settings.Set(ctx, model.SettingDeviceTokenSynced, "true")
}

func (r *Repository) registerToken(ctx context.Context, userID, token string) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.remote.RegisterDeviceToken(ctx, userID, token)
	})
}

// PendingUpdateCount returns the number of queued writes.
func (r *Repository) PendingUpdateCount() int {
	return r.queue.Count()
}

// PendingUpdates returns the queued writes in replay order.
func (r *Repository) PendingUpdates() []pending.Entry {
	return r.queue.Snapshot()
}

// CurrentUser returns the signed-in user, if any.
func (r *Repository) CurrentUser() (string, bool) {
	ac, ok := r.session.Current()
	return ac.UserID, ok
}
