package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNotFound          = errors.New("media not found")
	ErrPayloadTooLarge   = errors.New("media exceeds size limit")
	ErrDiskFull          = errors.New("no space left on media store")
	ErrDownloadsDisabled = errors.New("remote media downloads are disabled")
	ErrEmptyReference    = errors.New("empty media reference")
)

// StatusError is an unexpected HTTP status from a media host.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether the request is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options are the download tunables, read once at startup.
type Options struct {
	Enabled           bool
	Concurrency       int
	Timeout           time.Duration
	Retries           int
	BackoffInitial    time.Duration
	MaxBytes          int64
	RequestsPerSecond float64
	UserAgent         string
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	return o
}

// Recorder receives one observation per fetch result.
type Recorder interface {
	ObserveMedia(state string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMedia(string) {}

// Manager owns the immutable download configuration shared by every run.
// Per-run state lives in a Session.
type Manager struct {
	resolver *Resolver
	opts     Options
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  Recorder

	// copyBody streams a response body into the temp file.
	copyBody func(dst *os.File, src io.Reader) (int64, error)
}

func NewManager(resolver *Resolver, opts Options, logger *zap.Logger) *Manager {
	opts = opts.withDefaults()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		resolver: resolver,
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  limiter,
		logger:   logger.Named("media"),
		metrics:  nopRecorder{},
		copyBody: func(dst *os.File, src io.Reader) (int64, error) { return io.Copy(dst, src) },
	}
}

// SetRecorder installs a metrics sink.
func (m *Manager) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	m.metrics = r
}

func (m *Manager) Resolver() *Resolver { return m.resolver }
func (m *Manager) Options() Options    { return m.opts }

// NewSession starts the state for one seeding run.
func (m *Manager) NewSession() *Session {
	return newSession(m)
}

// download fetches rawURL into diskPath, retrying transient failures with
// exponential backoff.
func (m *Manager) download(ctx context.Context, rawURL, diskPath string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BackoffInitial
	b.MaxInterval = 30 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := m.fetchOnce(ctx, rawURL, diskPath)
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			m.logger.Debug("media fetch attempt failed",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(m.opts.Retries+1)))
	return err
}

func isTransient(err error) bool {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Temporary()
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPayloadTooLarge), errors.Is(err, ErrDiskFull):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	var fsErr *os.PathError
	if errors.As(err, &fsErr) {
		return false
	}
	return true
}

func (m *Manager) fetchOnce(ctx context.Context, rawURL, diskPath string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("bad media url %q: %w", rawURL, err))
	}
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", rawURL, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if m.opts.MaxBytes > 0 && resp.ContentLength > m.opts.MaxBytes {
		return fmt.Errorf("GET %s declares %d bytes: %w", rawURL, resp.ContentLength, ErrPayloadTooLarge)
	}
	return m.store(resp.Body, rawURL, diskPath)
}

// store streams body to a temp file next to diskPath and renames it into
// place, so a partial download never appears under the final name.
func (m *Manager) store(body io.Reader, rawURL, diskPath string) (err error) {
	dir := filepath.Dir(diskPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return classifyWriteErr(err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return classifyWriteErr(err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	limit := m.opts.MaxBytes
	src := body
	if limit > 0 {
		src = io.LimitReader(body, limit+1)
	}
	n, err := m.copyBody(tmp, src)
	if err != nil {
		if isNoSpace(err) {
			return classifyWriteErr(err)
		}
		// read side failures are network problems and may be retried
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return err
		}
		return fmt.Errorf("read %s: %w", rawURL, err)
	}
	if limit > 0 && n > limit {
		return fmt.Errorf("GET %s exceeded %d bytes: %w", rawURL, limit, ErrPayloadTooLarge)
	}
	if err = tmp.Close(); err != nil {
		return classifyWriteErr(err)
	}
	if err = os.Rename(tmp.Name(), diskPath); err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func classifyWriteErr(err error) error {
	if isNoSpace(err) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}
	return err
}
