package client

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"licensekit/pkg/contracts/domain"
)

const testKey = "SLOT-KIT0-PRO0-0001"

// MockRemote is a testify mock of Remote
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Activate(ctx context.Context, key string) (*Response, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *MockRemote) Deactivate(ctx context.Context, key string) (*Response, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *MockRemote) Check(ctx context.Context, key string) (*Response, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *MockRemote) CheckUpdate(ctx context.Context, key, currentVersion string) (*UpdateResponse, error) {
	args := m.Called(ctx, key, currentVersion)
	resp, _ := args.Get(0).(*UpdateResponse)
	return resp, args.Error(1)
}

func (m *MockRemote) Download(ctx context.Context, packageURL string, w io.Writer) (int64, error) {
	args := m.Called(ctx, packageURL, w)
	return args.Get(0).(int64), args.Error(1)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	remote *MockRemote
	cache  *MemoryCache
	state  *MemoryStateStore
	clock  *fakeClock
	ent    *Entitlement
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote: &MockRemote{},
		cache:  NewMemoryCache(16),
		state:  NewMemoryStateStore(),
		clock:  newFakeClock(),
	}
	h.cache.now = h.clock.Now
	t.Cleanup(h.cache.Stop)

	h.ent = New(h.remote, h.cache, h.state, Options{
		ProductSlug:   "slotkit-pro",
		CacheTTL:      time.Hour,
		GraceWindow:   7 * 24 * time.Hour,
		RemoteTimeout: 200 * time.Millisecond,
		Now:           h.clock.Now,
	})
	return h
}

func (h *harness) seed(t *testing.T, st PersistedState) {
	t.Helper()
	require.NoError(t, h.state.Save(context.Background(), &st))
}

func (h *harness) record(t *testing.T) *PersistedState {
	t.Helper()
	rec, err := h.state.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func validResponse() *Response {
	return &Response{
		StatusCode: 200,
		LicenseResponse: domain.LicenseResponse{
			Success:       true,
			LicenseStatus: domain.LicenseStatusValid,
			Message:       "License is valid",
		},
	}
}

func refusal(status domain.LicenseStatus, message string) *Response {
	return &Response{
		StatusCode: 403,
		LicenseResponse: domain.LicenseResponse{
			Success:       false,
			LicenseStatus: status,
			Message:       message,
		},
	}
}

func transportFailure(code int) error {
	return &TransportError{Op: "check", StatusCode: code, Err: errors.New("connection refused")}
}

func TestResolve_NoLicenseKey(t *testing.T) {
	h := newHarness(t)

	d := h.ent.Resolve(context.Background())

	assert.False(t, d.Entitled)
	assert.Equal(t, StateUnknown, d.State)
	h.remote.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

func TestResolve_FreshCacheSkipsRemote(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
	h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil).Once()

	first := h.ent.Resolve(context.Background())
	assert.True(t, first.Entitled)
	assert.Equal(t, StateCachedValid, first.State)

	h.clock.Advance(59 * time.Minute)
	second := h.ent.Resolve(context.Background())
	assert.True(t, second.Entitled)
	assert.Equal(t, StateCachedValid, second.State)

	h.remote.AssertNumberOfCalls(t, "Check", 1)

	rec := h.record(t)
	assert.Equal(t, "valid", rec.Status)
	assert.Equal(t, 200, rec.LastStatusCode)
	assert.Empty(t, rec.LastError)
}

func TestResolve_StaleCacheAsksAgain(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
	h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil).Once()
	h.remote.On("Check", mock.Anything, testKey).Return(refusal(domain.LicenseStatusExpired, "License expired"), nil).Once()

	require.True(t, h.ent.IsEntitled(context.Background()))

	h.clock.Advance(61 * time.Minute)
	d := h.ent.Resolve(context.Background())

	assert.False(t, d.Entitled)
	assert.Equal(t, StateCachedInvalid, d.State)
	assert.Equal(t, "expired", d.Status)
	h.remote.AssertNumberOfCalls(t, "Check", 2)
}

func TestResolve_AuthoritativeNegativeHasNoGrace(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: "valid", LastCheck: h.clock.Now().Add(-2 * time.Hour)})
	h.remote.On("Check", mock.Anything, testKey).Return(refusal(domain.LicenseStatusDisabled, "License disabled"), nil)

	d := h.ent.Resolve(context.Background())

	assert.False(t, d.Entitled)
	assert.Equal(t, StateCachedInvalid, d.State)

	rec := h.record(t)
	assert.Equal(t, "disabled", rec.Status)
	assert.Equal(t, "License disabled", rec.LastError)
	assert.Equal(t, 403, rec.LastStatusCode)
	assert.Equal(t, h.clock.Now(), rec.LastCheck)

	// the negative answer is cached too
	again := h.ent.Resolve(context.Background())
	assert.Equal(t, StateCachedInvalid, again.State)
	h.remote.AssertNumberOfCalls(t, "Check", 1)
}

func TestResolve_GraceWindow(t *testing.T) {
	tests := []struct {
		name         string
		state        *PersistedState
		sinceCheck   time.Duration
		statusCode   int
		wantEntitled bool
		wantState    State
	}{
		{
			name:         "valid three days ago is degraded but entitled",
			state:        &PersistedState{Status: "valid"},
			sinceCheck:   3 * 24 * time.Hour,
			statusCode:   503,
			wantEntitled: true,
			wantState:    StateDegraded,
		},
		{
			name:         "valid exactly at the grace boundary",
			state:        &PersistedState{Status: "valid"},
			sinceCheck:   7 * 24 * time.Hour,
			wantEntitled: true,
			wantState:    StateDegraded,
		},
		{
			name:       "valid ten days ago has lapsed",
			state:      &PersistedState{Status: "valid"},
			sinceCheck: 10 * 24 * time.Hour,
			statusCode: 502,
			wantState:  StateLapsed,
		},
		{
			name:       "last known invalid is not rescued by grace",
			state:      &PersistedState{Status: "expired"},
			sinceCheck: time.Hour,
			wantState:  StateLapsed,
		},
		{
			name:      "key without any check is unknown",
			state:     &PersistedState{Status: StatusUnknown},
			wantState: StateUnknown,
		},
		{
			name:       "deactivated installation is lapsed",
			state:      &PersistedState{Status: StatusDeactivated},
			sinceCheck: time.Hour,
			wantState:  StateLapsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			st := *tt.state
			st.LicenseKey = testKey
			var lastCheck time.Time
			if st.Status != StatusUnknown {
				lastCheck = h.clock.Now().Add(-tt.sinceCheck)
				st.LastCheck = lastCheck
			}
			h.seed(t, st)
			h.remote.On("Check", mock.Anything, testKey).Return(nil, transportFailure(tt.statusCode))

			d := h.ent.Resolve(context.Background())

			assert.Equal(t, tt.wantEntitled, d.Entitled)
			assert.Equal(t, tt.wantState, d.State)

			rec := h.record(t)
			assert.Equal(t, tt.state.Status, rec.Status, "transport failure must not change status")
			assert.True(t, lastCheck.Equal(rec.LastCheck), "transport failure must not change last check")
			assert.Contains(t, rec.LastError, "connection refused")
			assert.Equal(t, tt.statusCode, rec.LastStatusCode)
		})
	}
}

func TestResolve_TimeoutCountsAsTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: "valid", LastCheck: h.clock.Now().Add(-24 * time.Hour)})
	h.remote.On("Check", mock.Anything, testKey).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, &TransportError{Op: "check", Err: context.DeadlineExceeded})

	start := time.Now()
	d := h.ent.Resolve(context.Background())

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, d.Entitled)
	assert.Equal(t, StateDegraded, d.State)
	assert.Contains(t, h.record(t).LastError, "deadline exceeded")
}

func TestResolve_ConcurrentCallsShareOneCheck(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.remote.On("Check", mock.Anything, testKey).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(validResponse(), nil)

	const callers = 8
	results := make(chan Decision, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.ent.Resolve(context.Background())
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for d := range results {
		assert.True(t, d.Entitled)
	}
	h.remote.AssertNumberOfCalls(t, "Check", 1)
}

func TestResolve_SharedCheckSurvivesCallerCancel(t *testing.T) {
	h := newHarness(t)
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})

	started := make(chan struct{})
	release := make(chan struct{})
	var checkErr error
	h.remote.On("Check", mock.Anything, testKey).
		Run(func(args mock.Arguments) {
			close(started)
			<-release
			checkErr = args.Get(0).(context.Context).Err()
		}).
		Return(validResponse(), nil).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Decision, 1)
	go func() { first <- h.ent.Resolve(ctx) }()
	<-started

	second := make(chan Decision, 1)
	go func() { second <- h.ent.Resolve(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(release)

	assert.True(t, (<-second).Entitled)
	assert.True(t, (<-first).Entitled)
	assert.NoError(t, checkErr)
	assert.Equal(t, "valid", h.record(t).Status)
	h.remote.AssertNumberOfCalls(t, "Check", 1)
}

func TestSetLicenseKey_ResetsRecordAndCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
	h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil).Once()
	h.remote.On("Check", mock.Anything, "NEW-KEY-0002").Return(refusal(domain.LicenseStatusNotFound, "License not found"), nil).Once()

	require.True(t, h.ent.IsEntitled(ctx))

	require.NoError(t, h.ent.SetLicenseKey(ctx, "  NEW-KEY-0002 "))

	rec := h.record(t)
	assert.Equal(t, "NEW-KEY-0002", rec.LicenseKey)
	assert.Equal(t, StatusUnknown, rec.Status)
	assert.True(t, rec.LastCheck.IsZero())

	_, ok, err := h.cache.Get(ctx, CacheKey(testKey, "slotkit-pro"))
	require.NoError(t, err)
	assert.False(t, ok, "old key must be evicted")

	d := h.ent.Resolve(ctx)
	assert.False(t, d.Entitled)
	assert.Equal(t, "not_found", d.Status)
}

func TestActivate(t *testing.T) {
	t.Run("records authoritative answer", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
		h.remote.On("Activate", mock.Anything, testKey).Return(refusal(domain.LicenseStatusMaxActivationsReached, "Activation limit reached"), nil)

		resp, err := h.ent.Activate(context.Background())
		require.NoError(t, err)
		assert.False(t, resp.Success)

		rec := h.record(t)
		assert.Equal(t, "max_activations_reached", rec.Status)
		assert.Equal(t, "Activation limit reached", rec.LastError)
	})

	t.Run("success makes the installation entitled without another call", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
		h.remote.On("Activate", mock.Anything, testKey).Return(validResponse(), nil)

		_, err := h.ent.Activate(context.Background())
		require.NoError(t, err)

		assert.True(t, h.ent.IsEntitled(context.Background()))
		h.remote.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
	})

	t.Run("transport failure is returned and recorded", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
		h.remote.On("Activate", mock.Anything, testKey).Return(nil, transportFailure(0))

		_, err := h.ent.Activate(context.Background())
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, StatusUnknown, h.record(t).Status)
		assert.NotEmpty(t, h.record(t).LastError)
	})

	t.Run("requires a key", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ent.Activate(context.Background())
		assert.ErrorIs(t, err, ErrNoLicenseKey)
	})
}

func TestDeactivate_AlwaysMarksLocalRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
	h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil).Once()
	h.remote.On("Deactivate", mock.Anything, testKey).Return(nil, transportFailure(0))

	require.True(t, h.ent.IsEntitled(ctx))

	_, err := h.ent.Deactivate(ctx)
	assert.Error(t, err)

	rec := h.record(t)
	assert.Equal(t, StatusDeactivated, rec.Status)
	assert.Contains(t, rec.LastError, "connection refused")

	_, ok, _ := h.cache.Get(ctx, CacheKey(testKey, "slotkit-pro"))
	assert.False(t, ok)
}

func TestCheckForUpdate(t *testing.T) {
	t.Run("not entitled", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
		h.remote.On("Check", mock.Anything, testKey).Return(refusal(domain.LicenseStatusExpired, "License expired"), nil)

		_, err := h.ent.CheckForUpdate(context.Background(), "1.0.0")
		assert.ErrorIs(t, err, ErrNotEntitled)
		h.remote.AssertNotCalled(t, "CheckUpdate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("entitled", func(t *testing.T) {
		h := newHarness(t)
		h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
		h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil)
		h.remote.On("CheckUpdate", mock.Anything, testKey, "1.0.0").Return(&UpdateResponse{
			StatusCode: 200,
			UpdateCheckResponse: domain.UpdateCheckResponse{
				Success:         true,
				LicenseStatus:   domain.LicenseStatusValid,
				UpdateAvailable: true,
				NewVersion:      "1.2.0",
			},
		}, nil)

		update, err := h.ent.CheckForUpdate(context.Background(), "1.0.0")
		require.NoError(t, err)
		assert.True(t, update.UpdateAvailable)
		assert.Equal(t, "1.2.0", update.NewVersion)
	})
}

func zipBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("slotkit-pro/slotkit-pro.php")
	require.NoError(t, err)
	_, err = w.Write([]byte("<?php // plugin"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestDownloadPackage(t *testing.T) {
	const pkgURL = "https://licenses.example.com/update/download?version=1.2.0"

	tests := []struct {
		name    string
		content []byte
		wantErr bool
	}{
		{name: "valid archive", content: zipBytes(t)},
		{name: "not an archive", content: []byte("<html>error</html>"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, PersistedState{LicenseKey: testKey, Status: StatusUnknown})
			h.remote.On("Check", mock.Anything, testKey).Return(validResponse(), nil)
			h.remote.On("Download", mock.Anything, pkgURL, mock.Anything).
				Run(func(args mock.Arguments) {
					_, _ = args.Get(2).(io.Writer).Write(tt.content)
				}).
				Return(int64(len(tt.content)), nil)

			dest := filepath.Join(t.TempDir(), "updates", "slotkit-pro.zip")
			n, err := h.ent.DownloadPackage(context.Background(), pkgURL, dest)

			if tt.wantErr {
				assert.Error(t, err)
				assert.NoFileExists(t, dest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.content)), n)
			assert.FileExists(t, dest)
		})
	}
}
