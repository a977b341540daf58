package seed

import "time"

// Outcome tags the result of upserting one record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// UpsertOutcome is the result of one record. An update that changes
// nothing is reported as skipped.
type UpsertOutcome struct {
	Kind             Outcome
	Key              string
	Media            []string
	ImagesDownloaded int
	ImagesCached     int
	Reason           string
	Err              error
}

// SeedStats aggregates outcomes for one entity kind.
// Total == Created + Updated + Skipped + Errors.
type SeedStats struct {
	Total            int `json:"total"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Skipped          int `json:"skipped"`
	Errors           int `json:"errors"`
	ImagesDownloaded int `json:"imagesDownloaded"`
	ImagesCached     int `json:"imagesCached"`
}

func (s *SeedStats) Add(o UpsertOutcome) {
	s.Total++
	switch o.Kind {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
	s.ImagesDownloaded += o.ImagesDownloaded
	s.ImagesCached += o.ImagesCached
}

// EntityReport summarises one entity kind in a run.
type EntityReport struct {
	Entity           Entity    `json:"entity"`
	Files            []string  `json:"files"`
	Valid            int       `json:"valid"`
	Invalid          int       `json:"invalid"`
	ValidationErrors []string  `json:"validationErrors,omitempty"`
	FileErrors       []string  `json:"fileErrors,omitempty"`
	Stats            SeedStats `json:"stats"`
}

// RunReport is the full result of one seeding invocation.
type RunReport struct {
	RunID      string         `json:"runId"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Entities   []EntityReport `json:"entities"`
	Media      MediaSummary   `json:"media"`
}

type MediaSummary struct {
	Downloaded int64 `json:"downloaded"`
	Cached     int64 `json:"cached"`
	Failed     int64 `json:"failed"`
	DiskFull   bool  `json:"diskFull"`
}

// Entity returns the report for e, if it ran.
func (r *RunReport) Entity(e Entity) (EntityReport, bool) {
	for _, rep := range r.Entities {
		if rep.Entity == e {
			return rep, true
		}
	}
	return EntityReport{}, false
}

// HasRecordErrors reports whether any record failed validation or upsert.
func (r *RunReport) HasRecordErrors() bool {
	for _, rep := range r.Entities {
		if rep.Invalid > 0 || rep.Stats.Errors > 0 {
			return true
		}
	}
	return false
}
