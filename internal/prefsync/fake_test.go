package prefsync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/stormsync/internal/auth"
	"github.com/dukerupert/stormsync/internal/connectivity"
	"github.com/dukerupert/stormsync/internal/database"
	"github.com/dukerupert/stormsync/internal/model"
	"github.com/dukerupert/stormsync/internal/remote"
	"github.com/dukerupert/stormsync/internal/retry"
	"github.com/dukerupert/stormsync/internal/store"
)

// fakeRemote is an in-memory backend. failWrite, when set, decides the
// result of each write before it is applied. afterWrite runs once a
// preference write has been applied, outside the fake's lock.
type fakeRemote struct {
	mu         sync.Mutex
	prefs      map[string]model.PreferenceSet
	locations  map[string]bool
	tokens     map[string]string
	history    []model.NotificationRecord
	calls      []string
	failWrite  func(call string) error
	afterWrite func(call string)
	fetchErr   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		prefs:     make(map[string]model.PreferenceSet),
		locations: make(map[string]bool),
		tokens:    make(map[string]string),
	}
}

func (f *fakeRemote) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failWrite != nil {
		return f.failWrite(call)
	}
	return nil
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) countCalls(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) setFailWrite(fn func(call string) error) {
	f.mu.Lock()
	f.failWrite = fn
	f.mu.Unlock()
}

func (f *fakeRemote) setAfterWrite(fn func(call string)) {
	f.mu.Lock()
	f.afterWrite = fn
	f.mu.Unlock()
}

func (f *fakeRemote) setPrefs(userID string, p model.PreferenceSet) {
	f.mu.Lock()
	f.prefs[userID] = p
	f.mu.Unlock()
}

func (f *fakeRemote) prefsFor(userID string) (model.PreferenceSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[userID]
	return p, ok
}

func (f *fakeRemote) FetchPreferences(ctx context.Context, userID string) (model.PreferenceSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch_prefs:"+userID)
	if f.fetchErr != nil {
		return model.PreferenceSet{}, f.fetchErr
	}
	p, ok := f.prefs[userID]
	if !ok {
		return model.PreferenceSet{}, &remote.StatusError{Method: "GET", Path: "/prefs", StatusCode: http.StatusNotFound}
	}
	return p, nil
}

func (f *fakeRemote) WritePreferences(ctx context.Context, userID string, prefs model.PreferenceSet) error {
	call := "write_prefs:" + userID
	f.mu.Lock()
	if err := f.record(call); err != nil {
		f.mu.Unlock()
		return err
	}
	f.prefs[userID] = prefs
	hook := f.afterWrite
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return nil
}

func (f *fakeRemote) FetchLocationPreference(ctx context.Context, userID, locationID string) (model.LocationPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch_location:"+userID+"/"+locationID)
	enabled, ok := f.locations[userID+"/"+locationID]
	if !ok {
		return model.LocationPreference{}, &remote.StatusError{Method: "GET", Path: "/location", StatusCode: http.StatusNotFound}
	}
	return model.LocationPreference{UserID: userID, LocationID: locationID, NotificationsEnabled: enabled}, nil
}

func (f *fakeRemote) WriteLocationPreference(ctx context.Context, userID, locationID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("write_location:" + userID + "/" + locationID); err != nil {
		return err
	}
	f.locations[userID+"/"+locationID] = enabled
	return nil
}

func (f *fakeRemote) FetchHistory(ctx context.Context, filter model.HistoryFilter) ([]model.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch_history:"+filter.UserID)
	return append([]model.NotificationRecord(nil), f.history...), nil
}

func (f *fakeRemote) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("register_token:" + userID); err != nil {
		return err
	}
	f.tokens[userID] = token
	return nil
}

// testClock advances one second on every reading.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	repo     *Repository
	remote   *fakeRemote
	monitor  *connectivity.Monitor
	session  *auth.StaticSession
	clock    *testClock
	prefs    *store.PreferenceStore
	locs     *store.LocationStore
	history  *store.HistoryStore
	settings *store.SettingsStore
}

func newHarness(t *testing.T, online bool, opts ...func(*Config)) *harness {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		remote:   newFakeRemote(),
		monitor:  connectivity.NewMonitor(online, nil),
		session:  auth.NewStaticSession("u1", ""),
		clock:    newTestClock(),
		prefs:    store.NewPreferenceStore(db),
		locs:     store.NewLocationStore(db),
		history:  store.NewHistoryStore(db),
		settings: store.NewSettingsStore(db),
	}
	cfg := Config{
		Remote:       h.remote,
		Connectivity: h.monitor,
		Retry:        retry.New(retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil),
		Preferences:  h.prefs,
		Locations:    h.locs,
		History:      h.history,
		Settings:     h.settings,
		Session:      h.session,
		Now:          h.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.repo, err = New(cfg)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return h
}

func prefsWith(userID string, types ...model.EventType) model.PreferenceSet {
	p := model.DefaultPreferences(userID)
	p.EnabledEventTypes = types
	return p.Normalized()
}

// pauseFirstWrite blocks the first applied preference write until release
// is closed. paused is closed once that write is waiting.
func pauseFirstWrite(f *fakeRemote) (paused, release chan struct{}) {
	paused, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	f.setAfterWrite(func(string) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(paused)
			<-release
		}
	})
	return paused, release
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
