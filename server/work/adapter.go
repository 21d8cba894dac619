package work

import (
	"errors"
	"fmt"

	"github.com/Daskott/sentinel/server/cron"
	"github.com/Daskott/sentinel/server/models"
	"github.com/go-co-op/gocron"
)

const MAX_CONCURRENCY = 2

// WorkerPoolAdapter is the background job runner: a DB-backed queue drained
// by a worker pool, a cron scheduler that enqueues periodic jobs, and a
// requeuer for jobs whose worker died mid-run.
type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *workerPool
	requeuer      *requeuer
}

func NewWorkerAdapter(timeZone string) *WorkerPoolAdapter {
	return &WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZone),
		pool:          newWorkerPool(MAX_CONCURRENCY),
		requeuer:      newRequeuer(),
	}
}

// Start starts the cron scheduler, worker pool & requeuer
func (adapter *WorkerPoolAdapter) Start() error {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()
	adapter.requeuer.start()

	return nil
}

// Stop stops the cron scheduler, worker pool & requeuer
func (adapter *WorkerPoolAdapter) Stop() error {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.stop()
	adapter.requeuer.stop()

	return nil
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, now - to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	logg.Infof("Enqueuing job: %v", job.Name)

	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %v", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' expression provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).
		Do(
			func(job JobParams) {
				err := adapter.Perform(job)
				if err != nil {
					logg.Error(err)
				}
			},
			job,
		)
	return err
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) error {
	return adapter.cronScheduler.RemoveByTag(jobName)
}
