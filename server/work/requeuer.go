package work

import (
	"errors"
	"time"

	"github.com/Daskott/sentinel/colors"
	"github.com/Daskott/sentinel/server/models"
	"gorm.io/gorm"
)

// A job left 'in-progress' this long is assumed to belong to a worker
// that died with it.
const STUCK_JOB_TIMEOUT = 10 * time.Minute

type requeuer struct {
	stopChan chan struct{}
}

func newRequeuer() *requeuer {
	return &requeuer{stopChan: make(chan struct{})}
}

// start starts the requeuer loop that pulls jobs from 'in-progress'
// that are stuck(i.e stayed too long in-progress) and requeue them
func (r *requeuer) start() {
	go r.loop()
}

func (r *requeuer) stop() {
	r.stopChan <- struct{}{}
}

func (r *requeuer) loop() {
	// At some point we may need an exponential back-off,
	// but for now keep it simple
	sleepBackOff := 30 * time.Second
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	logg.Infof("Starting job requeuer")
	for {
		select {
		case <-r.stopChan:
			logg.Infof("Stopping job requeuer")
			return
		case <-rateLimiter.C:
			job, err := models.LastJobLastUpdated(STUCK_JOB_TIMEOUT, models.IN_PROGRESS_JOB)

			if errors.Is(err, gorm.ErrRecordNotFound) {
				rateLimiter.Reset(sleepBackOff)
				continue
			}

			if err != nil {
				r.logError(err)
				rateLimiter.Reset(sleepBackOff)
				continue
			}

			r.requeue(job)
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

func (r *requeuer) requeue(job *models.Job) {
	jobStatus, err := models.FindJobStatus(models.ENQUEUED_JOB)
	if err != nil {
		r.logError(err)
		return
	}

	err = job.Update(map[string]interface{}{
		"claimed":       false,
		"job_status_id": jobStatus.ID,
	})
	if err != nil {
		r.logError(err)
		return
	}

	r.logInfof("job with id=%v requeued", job.ID)
}

func (r *requeuer) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Yellow("[job requeuer] ")+template, args...)
}

func (r *requeuer) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Red("[job requeuer] ")}, args...)...)
}
