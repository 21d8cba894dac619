package work

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Daskott/sentinel/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	models.InitializeTestDb()
	m.Run()
}

func TestEnqueue(t *testing.T) {
	pool := newWorkerPool(1)

	err := pool.enqueue(JobParams{
		Name:    "sendChallengeCode_42",
		Handler: "sendChallengeCode",
		Args:    map[string]interface{}{"user_id": 42},
	})
	require.Nil(t, err)

	job := findJobByName(t, "sendChallengeCode_42")
	assert.Equal(t, "sendChallengeCode", job.Handler)
	assert.Contains(t, job.Args, "42")

	err = pool.enqueue(JobParams{Name: "sendChallengeCode_42", Handler: "sendChallengeCode"})
	assert.ErrorIs(t, err, models.ErrDuplicateJob, "A job with the same name should not be queued twice")

	err = pool.enqueue(JobParams{Name: " ", Handler: "sendChallengeCode"})
	assert.NotNil(t, err)
}

func TestEnqueueAllowWhileRunning(t *testing.T) {
	pool := newWorkerPool(1)
	job := JobParams{Name: "sendChallengeCode_43", Handler: "sendChallengeCode", AllowWhileRunning: true}

	require.Nil(t, pool.enqueue(job))
	assert.ErrorIs(t, pool.enqueue(job), models.ErrDuplicateJob, "A waiting job still blocks a duplicate")

	inProgress, err := models.FindJobStatus(models.IN_PROGRESS_JOB)
	require.Nil(t, err)
	require.Nil(t, findJobByName(t, job.Name).Update(map[string]interface{}{"job_status_id": inProgress.ID}))

	assert.Nil(t, pool.enqueue(job), "A running job should not block a new one")

	job.AllowWhileRunning = false
	assert.ErrorIs(t, pool.enqueue(job), models.ErrDuplicateJob)
}

func TestRegisterHandler(t *testing.T) {
	pool := newWorkerPool(2)
	noop := func(map[string]interface{}) error { return nil }

	assert.Nil(t, pool.registerHandler("noop", noop))
	assert.ErrorIs(t, pool.registerHandler("noop", noop), ErrDuplicateHandler)

	for _, w := range pool.workers {
		assert.Contains(t, w.handlers, "noop", "Every worker should know the handler")
	}
}

func TestAdapterRunsQueuedJob(t *testing.T) {
	adapter := NewWorkerAdapter("UTC")

	var userID int64
	err := adapter.Register("greet", func(args map[string]interface{}) error {
		atomic.StoreInt64(&userID, int64(args["user_id"].(float64)))
		return nil
	})
	require.Nil(t, err)

	err = adapter.Perform(JobParams{Name: "greet_7", Handler: "greet", Args: map[string]interface{}{"user_id": 7}})
	require.Nil(t, err)

	job := findJobByName(t, "greet_7")

	require.Nil(t, adapter.Start())
	defer adapter.Stop()

	assert.Eventually(t, func() bool {
		current, err := models.FindJob(job.ID)
		return err == nil && current.JobStatus.Name == models.SUCCESSFUL_JOB
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(7), atomic.LoadInt64(&userID))
}

func TestFailingJobIsRetriedThenDead(t *testing.T) {
	adapter := NewWorkerAdapter("UTC")

	var runs int32
	err := adapter.Register("flaky", func(map[string]interface{}) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("gateway down")
	})
	require.Nil(t, err)

	require.Nil(t, adapter.Perform(JobParams{Name: "flaky_1", Handler: "flaky"}))

	jobID := findJobByName(t, "flaky_1").ID

	require.Nil(t, adapter.Start())
	defer adapter.Stop()

	assert.Eventually(t, func() bool {
		current, err := models.FindJob(jobID)
		return err == nil && current.JobStatus.Name == models.DEAD_JOB
	}, 10*time.Second, 20*time.Millisecond)

	job, err := models.FindJob(jobID)
	require.Nil(t, err)
	assert.Equal(t, MAX_FAILS, job.Fails)
	assert.Equal(t, "gateway down", job.LastError)
	assert.Equal(t, int32(MAX_FAILS), atomic.LoadInt32(&runs))
}

func findJobByName(t *testing.T, name string) *models.Job {
	jobs, _, err := models.FetchJobs(1)
	require.Nil(t, err)

	for i := range jobs {
		if jobs[i].Name == name {
			return &jobs[i]
		}
	}

	t.Fatalf("no job named %v", name)
	return nil
}
