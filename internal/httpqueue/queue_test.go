package httpqueue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitRetriesAfterHeaderPlusMargin(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var slept []time.Duration
	q := New(Options{
		Client: srv.Client(),
		Margin: 500 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})

	resp, err := q.Do(t.Context(), "notify", "token-123", Get(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], 3*time.Second+500*time.Millisecond)
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := New(Options{Client: srv.Client(), Sleep: func(context.Context, time.Duration) error {
		t.Fatal("must not sleep")
		return nil
	}})
	_, err := q.Do(t.Context(), "notify", "k", Get(srv.URL), nil)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomRetryHook(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("X-Wait", "1")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := New(Options{Client: srv.Client(), Sleep: func(context.Context, time.Duration) error { return nil }})
	hook := func(resp *http.Response) (time.Duration, bool) {
		return time.Second, resp.Header.Get("X-Wait") != ""
	}
	resp, err := q.Do(t.Context(), "s", "", Get(srv.URL), hook)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSameKeySerializes(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}))
	defer srv.Close()

	q := New(Options{Client: srv.Client()})
	run := func(key string, n int) int32 {
		peak.Store(0)
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := q.Do(context.Background(), "s", key, Get(srv.URL), nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		return peak.Load()
	}

	assert.Equal(t, int32(1), run("shared", 4))
	assert.Greater(t, run("", 4), int32(1), "unkeyed requests run concurrently")
}

func TestStreamHoldsLaneUntilClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()
	q := New(Options{Client: srv.Client()})

	resp, err := q.Stream(t.Context(), "s", "k", Get(srv.URL), nil)
	require.NoError(t, err)

	second := make(chan struct{})
	go func() {
		r, err := q.Do(context.Background(), "s", "k", Get(srv.URL), nil)
		if err == nil && r.StatusCode == http.StatusOK {
			close(second)
		}
	}()
	select {
	case <-second:
		t.Fatal("second request ran while the lane was held")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, resp.Body.Close())
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("lane was not released")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ok := parseRetryAfter("3", now)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	_, ok = parseRetryAfter("soon", now)
	assert.False(t, ok)
}
