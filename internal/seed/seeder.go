package seed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/media"
	"github.com/vrsandeep/comicvault/internal/models"
)

// ErrStorageUnavailable aborts a run before any record is read.
var ErrStorageUnavailable = errors.New("storage unavailable")

// statusEvery is how many records pass between status file writes.
const statusEvery = 25

// Storage is the persistence the seeder needs.
type Storage interface {
	Repositories
	Ping(ctx context.Context) error
}

// ProgressReporter receives live progress, e.g. a websocket hub.
type ProgressReporter interface {
	BroadcastProgress(update models.ProgressUpdate)
}

// Recorder receives metrics about a run.
type Recorder interface {
	ObserveRecord(entity, outcome string)
	RunStarted()
	RunFinished(d time.Duration, failed bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRecord(string, string)    {}
func (nopRecorder) RunStarted()                     {}
func (nopRecorder) RunFinished(time.Duration, bool) {}

// Patterns are the fixture globs per entity kind.
type Patterns struct {
	Users    []string `json:"users,omitempty"`
	Comics   []string `json:"comics,omitempty"`
	Chapters []string `json:"chapters,omitempty"`
}

// Merge returns p with empty entries filled from defaults.
func (p Patterns) Merge(defaults Patterns) Patterns {
	if len(p.Users) == 0 {
		p.Users = defaults.Users
	}
	if len(p.Comics) == 0 {
		p.Comics = defaults.Comics
	}
	if len(p.Chapters) == 0 {
		p.Chapters = defaults.Chapters
	}
	return p
}

// Options configures a Seeder.
type Options struct {
	BaseDir     string
	ErrorSample int
	Defaults    Defaults
	Thumbnails  bool
}

// Seeder orchestrates loading, validating and upserting fixtures. Runs
// are serialised; each run gets a fresh media session.
type Seeder struct {
	store    Storage
	media    *media.Manager
	hasher   PasswordHasher
	opts     Options
	status   *StatusWriter
	progress ProgressReporter
	metrics  Recorder
	logger   *zap.Logger

	mu sync.Mutex
}

func NewSeeder(st Storage, mgr *media.Manager, hasher PasswordHasher, opts Options, logger *zap.Logger) *Seeder {
	if opts.ErrorSample <= 0 {
		opts.ErrorSample = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		store:   st,
		media:   mgr,
		hasher:  hasher,
		opts:    opts,
		metrics: nopRecorder{},
		logger:  logger.Named("seed"),
	}
}

func (s *Seeder) WithStatus(w *StatusWriter) *Seeder {
	s.status = w
	return s
}

func (s *Seeder) WithProgress(p ProgressReporter) *Seeder {
	s.progress = p
	return s
}

func (s *Seeder) WithMetrics(r Recorder) *Seeder {
	if r != nil {
		s.metrics = r
	}
	return s
}

// StatusPath is where progress is written, or "" when disabled.
func (s *Seeder) StatusPath() string { return s.status.Path() }

// SeedAll seeds users, comics and chapters in that order.
func (s *Seeder) SeedAll(ctx context.Context, patterns Patterns) (*RunReport, error) {
	return s.Run(ctx, AllEntities, patterns)
}

func (s *Seeder) SeedUsers(ctx context.Context, patterns []string) (EntityReport, error) {
	return s.runOne(ctx, EntityUsers, Patterns{Users: patterns})
}

func (s *Seeder) SeedComics(ctx context.Context, patterns []string) (EntityReport, error) {
	return s.runOne(ctx, EntityComics, Patterns{Comics: patterns})
}

func (s *Seeder) SeedChapters(ctx context.Context, patterns []string) (EntityReport, error) {
	return s.runOne(ctx, EntityChapters, Patterns{Chapters: patterns})
}

func (s *Seeder) runOne(ctx context.Context, e Entity, p Patterns) (EntityReport, error) {
	report, err := s.Run(ctx, []Entity{e}, p)
	if err != nil {
		return EntityReport{}, err
	}
	rep, _ := report.Entity(e)
	return rep, nil
}

// Run seeds the given entities in their fixed order. Apart from an
// unknown entity name, the only error it returns is ErrStorageUnavailable;
// everything else is in the report.
func (s *Seeder) Run(ctx context.Context, entities []Entity, patterns Patterns) (*RunReport, error) {
	return s.RunAs(ctx, uuid.NewString(), entities, patterns)
}

// RunAs is Run with a caller-chosen run id, so callers can hand the id
// out before the run starts.
func (s *Seeder) RunAs(ctx context.Context, runID string, entities []Entity, patterns Patterns) (*RunReport, error) {
	ordered, err := ParseEntities(entityNames(entities))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := &RunReport{RunID: runID, StartedAt: time.Now().UTC()}
	tracker := newRunTracker(report, s.status, s.progress, s.logger)
	log := s.logger.With(zap.String("run_id", report.RunID))
	log.Info("seed run started", zap.Strings("entities", entityNames(ordered)))
	tracker.start()

	if err := s.store.Ping(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		log.Error("seed run aborted", zap.Error(err))
		tracker.fail(err)
		s.metrics.RunFinished(time.Since(report.StartedAt), true)
		return nil, err
	}

	s.metrics.RunStarted()
	session := s.media.NewSession()
	defer session.Reset()

	engineOpts := EngineOptions{Defaults: s.opts.Defaults, Logger: log}
	if s.opts.Thumbnails {
		engineOpts.Thumbnail = media.ThumbnailFromFile
	}
	engine := NewEngine(s.store, session, s.hasher, engineOpts)

	for _, entity := range ordered {
		var rep EntityReport
		switch entity {
		case EntityUsers:
			rep = seedEntity(ctx, s, tracker, entity, patterns.Users, ValidateUser, engine.UpsertUser)
		case EntityComics:
			rep = seedEntity(ctx, s, tracker, entity, patterns.Comics, ValidateComic, engine.UpsertComic)
		case EntityChapters:
			rep = seedEntity(ctx, s, tracker, entity, patterns.Chapters, ValidateChapter, engine.UpsertChapter)
		}
		report.Entities = append(report.Entities, rep)
	}

	stats := session.Stats()
	report.Media = MediaSummary{Downloaded: stats.Downloaded, Cached: stats.Cached, Failed: stats.Failed, DiskFull: stats.DiskFull}
	report.FinishedAt = time.Now().UTC()
	tracker.complete()
	s.metrics.RunFinished(report.FinishedAt.Sub(report.StartedAt), false)

	log.Info("seed run finished",
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int64("images_downloaded", stats.Downloaded),
		zap.Int64("images_cached", stats.Cached),
		zap.Int64("images_failed", stats.Failed),
		zap.Bool("disk_full", stats.DiskFull),
	)
	return report, nil
}

func entityNames(entities []Entity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = string(e)
	}
	return names
}

func seedEntity[T any](
	ctx context.Context,
	s *Seeder,
	tracker *runTracker,
	entity Entity,
	patterns []string,
	validate Validator[T],
	upsert func(context.Context, T) UpsertOutcome,
) EntityReport {
	log := s.logger.With(zap.String("entity", string(entity)))
	outcome := Load(patterns, s.opts.BaseDir, validate)

	rep := EntityReport{
		Entity:  entity,
		Files:   outcome.Files,
		Valid:   len(outcome.Valid),
		Invalid: len(outcome.Errors),
	}
	for _, fe := range outcome.FileErrors {
		log.Warn("seed source skipped", zap.Error(fe))
		rep.FileErrors = append(rep.FileErrors, fe.Error())
	}
	for i, re := range outcome.Errors {
		log.Info("record rejected", zap.String("file", re.File), zap.Int("index", re.Index), zap.Error(re.Err))
		if i < s.opts.ErrorSample {
			rep.ValidationErrors = append(rep.ValidationErrors, re.Error())
		}
	}

	tracker.beginEntity(entity, len(outcome.Valid))
	for i, rec := range outcome.Valid {
		o := upsert(ctx, rec)
		rep.Stats.Add(o)
		s.metrics.ObserveRecord(string(entity), string(o.Kind))
		tracker.advance(i + 1)
	}
	tracker.finishEntity(rep)

	log.Info("entity seeded",
		zap.Int("files", len(rep.Files)),
		zap.Int("valid", rep.Valid),
		zap.Int("invalid", rep.Invalid),
		zap.Int("created", rep.Stats.Created),
		zap.Int("updated", rep.Stats.Updated),
		zap.Int("skipped", rep.Stats.Skipped),
		zap.Int("errors", rep.Stats.Errors),
	)
	return rep
}

// runTracker mirrors run progress into the status file and the progress
// reporter.
type runTracker struct {
	report   *RunReport
	status   Status
	writer   *StatusWriter
	progress ProgressReporter
	logger   *zap.Logger
}

func newRunTracker(report *RunReport, w *StatusWriter, p ProgressReporter, logger *zap.Logger) *runTracker {
	return &runTracker{
		report:   report,
		status:   Status{RunID: report.RunID, StartedAt: report.StartedAt},
		writer:   w,
		progress: p,
		logger:   logger,
	}
}

func (t *runTracker) save() {
	t.status.UpdatedAt = time.Now().UTC()
	if err := t.writer.Write(t.status); err != nil {
		t.logger.Warn("could not write seed status", zap.String("path", t.writer.Path()), zap.Error(err))
	}
}

func (t *runTracker) broadcast(message string, done bool) {
	if t.progress == nil {
		return
	}
	pct := 0.0
	if t.status.Total > 0 {
		pct = float64(t.status.Processed) / float64(t.status.Total) * 100
	}
	status := "in_progress"
	switch t.status.State {
	case StateCompleted:
		status, pct = "completed", 100
	case StateFailed:
		status = "failed"
	}
	t.progress.BroadcastProgress(models.ProgressUpdate{
		JobID:     "seed",
		Message:   message,
		Progress:  pct,
		Entity:    string(t.status.CurrentEntity),
		Processed: t.status.Processed,
		Total:     t.status.Total,
		Status:    status,
		Done:      done,
	})
}

func (t *runTracker) start() {
	t.status.State = StateStarted
	t.save()
	t.broadcast("Seed run started", false)
}

func (t *runTracker) beginEntity(e Entity, total int) {
	t.status.State = StateRunning
	t.status.CurrentEntity = e
	t.status.Processed = 0
	t.status.Total = total
	t.save()
	t.broadcast(fmt.Sprintf("Seeding %s", e), false)
}

func (t *runTracker) advance(processed int) {
	t.status.Processed = processed
	if processed%statusEvery == 0 || processed == t.status.Total {
		t.save()
		t.broadcast(fmt.Sprintf("Seeding %s: %d/%d", t.status.CurrentEntity, processed, t.status.Total), false)
	}
}

func (t *runTracker) finishEntity(rep EntityReport) {
	t.status.Reports = append(t.status.Reports, rep)
}

func (t *runTracker) complete() {
	finished := t.report.FinishedAt
	t.status.State = StateCompleted
	t.status.FinishedAt = &finished
	t.save()
	t.broadcast("Seed run completed", true)
}

func (t *runTracker) fail(err error) {
	finished := time.Now().UTC()
	t.status.State = StateFailed
	t.status.FinishedAt = &finished
	t.status.Error = err.Error()
	t.save()
	t.broadcast("Seed run failed: "+err.Error(), true)
}
