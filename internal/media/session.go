package media

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the outcome of a single fetch.
type State string

const (
	StateCached     State = "cached"
	StateDownloaded State = "downloaded"
	StateFailed     State = "failed"
	StateLocal      State = "local"
)

// Request asks for one media reference. Kind and Slug locate bare local
// file names (e.g. "cover.jpg" for comic "one-piece"); Fallback is used
// when the reference cannot be resolved.
type Request struct {
	URL      string
	Fallback string
	Kind     string
	Slug     string
}

// Result is the resolved form of a Request. Path is always usable: it is
// the fallback when Success is false.
type Result struct {
	URL      string
	Path     string
	DiskPath string
	State    State
	Success  bool
	Err      error
}

// SessionStats counts fetch results for one run.
type SessionStats struct {
	Downloaded int64 `json:"downloaded"`
	Cached     int64 `json:"cached"`
	Failed     int64 `json:"failed"`
	DiskFull   bool  `json:"diskFull"`
}

// Session holds the per-run media state: the URL cache, remembered
// failures, the in-flight dedup group and the disk-full breaker. It is safe
// for concurrent use.
type Session struct {
	m *Manager

	mu       sync.Mutex
	paths    map[string]string
	failures map[string]error

	group    singleflight.Group
	diskFull atomic.Bool

	downloaded atomic.Int64
	cached     atomic.Int64
	failed     atomic.Int64
}

func newSession(m *Manager) *Session {
	return &Session{
		m:        m,
		paths:    make(map[string]string),
		failures: make(map[string]error),
	}
}

// Fetch resolves one reference. It never returns an error; failures are
// reported on the Result and the fallback path is substituted.
func (s *Session) Fetch(ctx context.Context, req Request) Result {
	ref := strings.TrimSpace(req.URL)
	if ref == "" {
		return s.fail(req, ErrEmptyReference)
	}
	if !IsRemote(ref) {
		return s.local(req, ref)
	}
	return s.remote(ctx, req, ref)
}

// FetchAll resolves reqs with a fixed pool of workers. It returns exactly
// one result per request, in no particular order.
func (s *Session) FetchAll(ctx context.Context, reqs []Request) []Result {
	if len(reqs) == 0 {
		return nil
	}
	workers := min(s.m.opts.Concurrency, len(reqs))

	queue := make(chan Request)
	results := make(chan Result, len(reqs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range queue {
				results <- s.Fetch(ctx, req)
			}
		}()
	}
	for _, req := range reqs {
		queue <- req
	}
	close(queue)
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(reqs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// Reset clears the cache, remembered failures, breaker and counters so the
// session can serve an unrelated run.
func (s *Session) Reset() {
	s.mu.Lock()
	s.paths = make(map[string]string)
	s.failures = make(map[string]error)
	s.mu.Unlock()
	s.diskFull.Store(false)
	s.downloaded.Store(0)
	s.cached.Store(0)
	s.failed.Store(0)
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		Downloaded: s.downloaded.Load(),
		Cached:     s.cached.Load(),
		Failed:     s.failed.Load(),
		DiskFull:   s.diskFull.Load(),
	}
}

// DiskFull reports whether the breaker has tripped in this run.
func (s *Session) DiskFull() bool { return s.diskFull.Load() }

func (s *Session) local(req Request, ref string) Result {
	publicPath := ref
	if !strings.ContainsAny(ref, `/\`) && req.Kind != "" && req.Slug != "" {
		publicPath = s.m.resolver.EntityImage(req.Kind, req.Slug, ref)
	}
	diskPath, err := s.m.resolver.DiskPath(publicPath)
	if err != nil {
		return s.fail(req, err)
	}
	if !fileExists(diskPath) {
		return s.fail(req, ErrNotFound)
	}
	s.m.metrics.ObserveMedia(string(StateLocal))
	return Result{URL: req.URL, Path: publicPath, DiskPath: diskPath, State: StateLocal, Success: true}
}

func (s *Session) remote(ctx context.Context, req Request, ref string) Result {
	diskPath, publicPath := s.m.resolver.Upload(ref)

	// The toggle turns off network fetches only; earlier downloads still resolve.
	if path, ok := s.lookup(ref); ok {
		return s.hit(req, path, diskPath)
	}
	if fileExists(diskPath) {
		s.remember(ref, publicPath)
		return s.hit(req, publicPath, diskPath)
	}
	if !s.m.opts.Enabled {
		return s.fail(req, ErrDownloadsDisabled)
	}
	if err, ok := s.lookupFailure(ref); ok {
		return s.fail(req, err)
	}
	if s.diskFull.Load() {
		return s.fail(req, ErrDiskFull)
	}

	leader := false
	v, err, _ := s.group.Do(ref, func() (any, error) {
		leader = true
		if _, ok := s.lookup(ref); ok {
			return false, nil
		}
		if s.diskFull.Load() {
			return false, ErrDiskFull
		}
		if err := s.m.download(ctx, ref, diskPath); err != nil {
			if errors.Is(err, ErrDiskFull) && !s.diskFull.Swap(true) {
				s.m.logger.Error("media store is full, skipping remaining downloads for this run", zap.Error(err))
			}
			s.rememberFailure(ref, err)
			return false, err
		}
		s.remember(ref, publicPath)
		return true, nil
	})
	if err != nil {
		return s.fail(req, err)
	}
	if leader && v.(bool) {
		s.downloaded.Add(1)
		s.m.metrics.ObserveMedia(string(StateDownloaded))
		return Result{URL: req.URL, Path: publicPath, DiskPath: diskPath, State: StateDownloaded, Success: true}
	}
	return s.hit(req, publicPath, diskPath)
}

func (s *Session) hit(req Request, publicPath, diskPath string) Result {
	s.cached.Add(1)
	s.m.metrics.ObserveMedia(string(StateCached))
	return Result{URL: req.URL, Path: publicPath, DiskPath: diskPath, State: StateCached, Success: true}
}

func (s *Session) fail(req Request, err error) Result {
	s.failed.Add(1)
	s.m.metrics.ObserveMedia(string(StateFailed))
	s.m.logger.Debug("media unavailable, using fallback",
		zap.String("url", req.URL), zap.String("fallback", req.Fallback), zap.Error(err))
	return Result{URL: req.URL, Path: req.Fallback, State: StateFailed, Err: err}
}

func (s *Session) lookup(ref string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[ref]
	return p, ok
}

func (s *Session) lookupFailure(ref string) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.failures[ref]
	return err, ok
}

func (s *Session) remember(ref, publicPath string) {
	s.mu.Lock()
	s.paths[ref] = publicPath
	s.mu.Unlock()
}

func (s *Session) rememberFailure(ref string, err error) {
	s.mu.Lock()
	s.failures[ref] = err
	s.mu.Unlock()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
