package jobs

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// StartScheduler triggers jobID every interval minutes through the job
// manager, so scheduled runs never overlap manual ones. It returns nil when
// interval is 0.
func StartScheduler(jm *JobManager, jobID string, interval int, logger *zap.Logger) *gocron.Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		logger.Info("scheduled job disabled", zap.String("job", jobID))
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	logger.Info("scheduling job", zap.String("job", jobID), zap.Int("every_minutes", interval))
	_, err := s.Every(interval).Minutes().WaitForSchedule().Do(func() {
		logger.Info("scheduler is triggering job", zap.String("job", jobID))
		if err := jm.RunJob(jobID); err != nil {
			logger.Warn("scheduled job could not start", zap.String("job", jobID), zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("error scheduling job", zap.String("job", jobID), zap.Error(err))
		return nil
	}

	s.StartAsync()
	return s
}
