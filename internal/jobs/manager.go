package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrJobRunning  = errors.New("a job is already running")
	ErrJobNotFound = errors.New("job not found")
)

// Task is the body of a job. It should return promptly once ctx is done.
type Task func(ctx context.Context) error

// Observer is notified after every execution.
type Observer interface {
	ObserveJob(job string, err error)
}

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type job struct {
	task   Task
	status JobStatus
}

// JobManager runs registered jobs one at a time, whether they were
// triggered by the scheduler, the file watcher or an admin request.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	running string

	logger   *zap.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]*job),
		logger: logger.Named("jobs"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (jm *JobManager) SetObserver(o Observer) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.observer = o
}

func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if _, exists := jm.jobs[id]; !exists {
		jm.order = append(jm.order, id)
	}
	jm.jobs[id] = &job{task: task, status: JobStatus{ID: id, Name: name, Status: "idle"}}
}

// begin marks id as running. The caller must call finish.
func (jm *JobManager) begin(id string) (*job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	j, ok := jm.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if jm.running != "" {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, jm.running)
	}
	jm.running = id
	j.status.Status = "running"
	j.status.StartTime = time.Now()
	j.status.EndTime = time.Time{}
	j.status.Message = "Job started..."
	return j, nil
}

func (jm *JobManager) execute(ctx context.Context, id string, j *job, task Task) (err error) {
	jm.logger.Info("starting job", zap.String("job", id))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}

		jm.mu.Lock()
		j.status.EndTime = time.Now()
		if err != nil {
			j.status.Status = "failed"
			j.status.Message = err.Error()
		} else {
			j.status.Status = "success"
			j.status.Message = "Job completed successfully."
		}
		jm.running = ""
		observer := jm.observer
		jm.mu.Unlock()

		if observer != nil {
			observer.ObserveJob(id, err)
		}
		if err != nil {
			jm.logger.Error("job failed", zap.String("job", id), zap.Error(err))
		} else {
			jm.logger.Info("finished job", zap.String("job", id), zap.Duration("took", j.status.EndTime.Sub(j.status.StartTime)))
		}
	}()
	return task(ctx)
}

// RunJob starts id in the background. It fails immediately when another
// job is running or id is unknown.
func (jm *JobManager) RunJob(id string) error {
	return jm.RunJobWith(id, nil)
}

// RunJobWith is RunJob with a one-off task in place of the registered one,
// e.g. a seed run limited to some entities. Status is tracked under id.
func (jm *JobManager) RunJobWith(id string, task Task) error {
	j, err := jm.begin(id)
	if err != nil {
		return err
	}
	if task == nil {
		task = j.task
	}
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		jm.execute(jm.ctx, id, j, task)
	}()
	return nil
}

// Run executes id synchronously and returns the task's error.
func (jm *JobManager) Run(ctx context.Context, id string) error {
	return jm.RunWith(ctx, id, nil)
}

func (jm *JobManager) RunWith(ctx context.Context, id string, task Task) error {
	j, err := jm.begin(id)
	if err != nil {
		return err
	}
	if task == nil {
		task = j.task
	}
	return jm.execute(ctx, id, j, task)
}

// Running returns the id of the running job, or "".
func (jm *JobManager) Running() string {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.running
}

// GetStatus returns a snapshot of every job in registration order.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.order))
	for _, id := range jm.order {
		statuses = append(statuses, jm.jobs[id].status)
	}
	return statuses
}

// Shutdown cancels background jobs and waits for them to return.
func (jm *JobManager) Shutdown() {
	jm.cancel()
	jm.wg.Wait()
}

// Wait blocks until background jobs started so far have returned.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}
