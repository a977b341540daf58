package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const fallbackCover = "/images/default-cover.png"

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = time.Millisecond
	}
	return NewManager(NewResolver(t.TempDir(), "uploads"), opts, zaptest.NewLogger(t))
}

func enabled() Options {
	return Options{Enabled: true, Concurrency: 3, Timeout: 2 * time.Second, Retries: 3, MaxBytes: 1 << 20}
}

// imageServer serves a small body for every path and counts requests per path.
type imageServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newImageServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int)) *imageServer {
	s := &imageServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		hit := s.hits[r.URL.Path]
		s.mu.Unlock()
		if handler != nil {
			handler(w, r, hit)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func TestFetch_DeduplicatesConcurrentRequests(t *testing.T) {
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("avatar"))
	})
	m := newTestManager(t, enabled())
	sess := m.NewSession()
	url := srv.URL + "/avatars/shared.png"

	results := make([]Result, 5)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sess.Fetch(context.Background(), Request{URL: url, Fallback: fallbackCover})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, srv.count("/avatars/shared.png"))
	downloaded := 0
	for _, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, results[0].Path, r.Path)
		if r.State == StateDownloaded {
			downloaded++
		}
	}
	assert.Equal(t, 1, downloaded)
	stats := sess.Stats()
	assert.Equal(t, int64(1), stats.Downloaded)
	assert.Equal(t, int64(4), stats.Cached)

	data, err := os.ReadFile(results[0].DiskPath)
	require.NoError(t, err)
	assert.Equal(t, "avatar", string(data))
	assert.True(t, strings.HasPrefix(results[0].Path, "/uploads/"))
}

func TestFetch_OnDiskCacheAcrossRuns(t *testing.T) {
	srv := newImageServer(t, nil)
	m := newTestManager(t, enabled())
	url := srv.URL + "/c.jpg"

	first := m.NewSession().Fetch(context.Background(), Request{URL: url})
	require.Equal(t, StateDownloaded, first.State)

	second := m.NewSession().Fetch(context.Background(), Request{URL: url})
	assert.Equal(t, StateCached, second.State)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, srv.count("/c.jpg"))
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		http.NotFound(w, r)
	})
	m := newTestManager(t, enabled())
	sess := m.NewSession()

	res := sess.Fetch(context.Background(), Request{URL: srv.URL + "/missing.png", Fallback: fallbackCover})
	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, fallbackCover, res.Path)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Equal(t, 1, srv.count("/missing.png"))

	// The failure is remembered for the rest of the run.
	again := sess.Fetch(context.Background(), Request{URL: srv.URL + "/missing.png", Fallback: fallbackCover})
	assert.False(t, again.Success)
	assert.Equal(t, 1, srv.count("/missing.png"))
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
			if hit < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		})
		m := newTestManager(t, enabled())

		res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/flaky.png"})
		assert.True(t, res.Success)
		assert.Equal(t, StateDownloaded, res.State)
		assert.Equal(t, 3, srv.count("/flaky.png"))
	})

	t.Run("gives up after retries", func(t *testing.T) {
		srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		opts := enabled()
		opts.Retries = 2
		m := newTestManager(t, opts)

		res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/busy.png", Fallback: fallbackCover})
		assert.False(t, res.Success)
		var statusErr *StatusError
		require.ErrorAs(t, res.Err, &statusErr)
		assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
		assert.Equal(t, 3, srv.count("/busy.png"))
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
			w.WriteHeader(http.StatusForbidden)
		})
		m := newTestManager(t, enabled())

		res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/private.png"})
		assert.False(t, res.Success)
		assert.Equal(t, 1, srv.count("/private.png"))
	})
}

func TestFetch_PayloadCeiling(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 2048)

	t.Run("declared length", func(t *testing.T) {
		srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
			w.Header().Set("Content-Length", fmt.Sprint(len(big)))
			w.Write(big)
		})
		opts := enabled()
		opts.MaxBytes = 1024
		m := newTestManager(t, opts)

		res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/huge.png", Fallback: fallbackCover})
		assert.False(t, res.Success)
		assert.Equal(t, fallbackCover, res.Path)
		assert.ErrorIs(t, res.Err, ErrPayloadTooLarge)
		assert.Equal(t, 1, srv.count("/huge.png"))

		entries, _ := os.ReadDir(m.Resolver().UploadsPath())
		assert.Empty(t, entries, "nothing is written for an oversized response")
	})

	t.Run("streamed body", func(t *testing.T) {
		srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
			// Flushing forces chunked encoding, so no Content-Length is sent.
			w.Write(big[:1000])
			w.(http.Flusher).Flush()
			w.Write(big[1000:])
		})
		opts := enabled()
		opts.MaxBytes = 1024
		m := newTestManager(t, opts)

		res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/stream.png"})
		assert.ErrorIs(t, res.Err, ErrPayloadTooLarge)
		entries, _ := os.ReadDir(m.Resolver().UploadsPath())
		assert.Empty(t, entries)
	})
}

func TestFetch_DiskFullTripsBreaker(t *testing.T) {
	srv := newImageServer(t, nil)
	m := newTestManager(t, enabled())
	m.copyBody = func(dst *os.File, src io.Reader) (int64, error) {
		return 0, &os.PathError{Op: "write", Path: dst.Name(), Err: syscall.ENOSPC}
	}
	sess := m.NewSession()

	first := sess.Fetch(context.Background(), Request{URL: srv.URL + "/a.png", Fallback: fallbackCover})
	assert.ErrorIs(t, first.Err, ErrDiskFull)
	assert.True(t, sess.DiskFull())
	assert.Equal(t, 1, srv.count("/a.png"), "disk full is not retried")

	second := sess.Fetch(context.Background(), Request{URL: srv.URL + "/b.png", Fallback: fallbackCover})
	assert.ErrorIs(t, second.Err, ErrDiskFull)
	assert.Equal(t, fallbackCover, second.Path)
	assert.Equal(t, 0, srv.count("/b.png"), "later downloads short-circuit")

	sess.Reset()
	assert.False(t, sess.DiskFull())
	assert.Equal(t, SessionStats{}, sess.Stats())
}

func TestFetch_DownloadsDisabled(t *testing.T) {
	srv := newImageServer(t, nil)
	opts := enabled()
	opts.Enabled = false
	m := newTestManager(t, opts)

	res := m.NewSession().Fetch(context.Background(), Request{URL: srv.URL + "/a.png", Fallback: fallbackCover})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrDownloadsDisabled)
	assert.Equal(t, fallbackCover, res.Path)
	assert.Equal(t, 0, srv.count("/a.png"))
}

func TestFetch_DownloadsDisabledServesEarlierDownloads(t *testing.T) {
	srv := newImageServer(t, nil)
	root := t.TempDir()
	url := srv.URL + "/page1.png"

	online := NewManager(NewResolver(root, "uploads"), enabled(), zaptest.NewLogger(t))
	first := online.NewSession().Fetch(context.Background(), Request{URL: url})
	require.Equal(t, StateDownloaded, first.State)

	opts := enabled()
	opts.Enabled = false
	offline := NewManager(NewResolver(root, "uploads"), opts, zaptest.NewLogger(t))
	sess := offline.NewSession()

	res := sess.Fetch(context.Background(), Request{URL: url, Fallback: fallbackCover})
	assert.True(t, res.Success)
	assert.Equal(t, StateCached, res.State)
	assert.Equal(t, first.Path, res.Path)

	missing := sess.Fetch(context.Background(), Request{URL: srv.URL + "/page2.png", Fallback: fallbackCover})
	assert.ErrorIs(t, missing.Err, ErrDownloadsDisabled)
	assert.Equal(t, fallbackCover, missing.Path)
	assert.Equal(t, 1, srv.count("/page1.png"))
	assert.Equal(t, 0, srv.count("/page2.png"))
}

func TestFetch_LocalReferences(t *testing.T) {
	m := newTestManager(t, enabled())
	root := m.Resolver().Root()
	cover := filepath.Join(root, "images", "comics", "one-piece", "cover.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(cover), 0755))
	require.NoError(t, os.WriteFile(cover, []byte("jpg"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "covers"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "covers", "x.png"), []byte("png"), 0644))
	sess := m.NewSession()

	res := sess.Fetch(context.Background(), Request{URL: "cover.jpg", Kind: "comics", Slug: "one-piece"})
	assert.True(t, res.Success)
	assert.Equal(t, StateLocal, res.State)
	assert.Equal(t, "/images/comics/one-piece/cover.jpg", res.Path)

	res = sess.Fetch(context.Background(), Request{URL: "covers/x.png"})
	assert.True(t, res.Success)
	assert.Equal(t, "covers/x.png", res.Path, "paths pass through unchanged")

	res = sess.Fetch(context.Background(), Request{URL: "/images/missing.png", Fallback: fallbackCover})
	assert.False(t, res.Success)
	assert.Equal(t, fallbackCover, res.Path)

	res = sess.Fetch(context.Background(), Request{URL: "  ", Fallback: fallbackCover})
	assert.ErrorIs(t, res.Err, ErrEmptyReference)
}

func TestFetchAll_BoundedPool(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := newImageServer(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(r.URL.Path))
	})
	opts := enabled()
	opts.Concurrency = 2
	m := newTestManager(t, opts)

	var reqs []Request
	for i := 0; i < 8; i++ {
		reqs = append(reqs, Request{URL: fmt.Sprintf("%s/p%d.png", srv.URL, i)})
	}
	reqs = append(reqs, Request{URL: srv.URL + "/p0.png"}, Request{URL: "/nope.png", Fallback: "/fallback.png"})

	results := m.NewSession().FetchAll(context.Background(), reqs)
	require.Len(t, results, len(reqs))
	assert.LessOrEqual(t, peak.Load(), int32(2))

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, srv.count("/p0.png"))
}
