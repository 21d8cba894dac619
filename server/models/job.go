package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const jobStatusJoin = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"

var ErrDuplicateJob = errors.New("job with the given name already exists in queue")

type Job struct {
	BaseModel
	Fails       int        `json:"fails"`
	Name        string     `json:"name"`
	Handler     string     `json:"handler"`
	Args        string     `json:"args"`
	LastError   string     `json:"last_error"`
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	JobStatusID uint       `json:"job_status_id"`
	JobStatus   *JobStatus `json:"status,omitempty"`
}

// MarkAsClaimed moves the job to 'in-progress' unless another worker got
// to it first, in which case it returns false.
func (job *Job) MarkAsClaimed() (bool, error) {
	inProgressStatus, err := FindJobStatus(IN_PROGRESS_JOB)
	if err != nil {
		return false, err
	}

	res := db.Model(&Job{}).Where("id = ? AND claimed = ?", job.ID, false).Updates(map[string]interface{}{
		"claimed":       true,
		"job_status_id": inProgressStatus.ID,
	})

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (job *Job) Update(data map[string]interface{}) error {
	return db.Model(job).Updates(data).Error
}

// CreateUniqueJobByName enqueues a job unless one with the same name is
// already enqueued or in-progress.
func CreateUniqueJobByName(name string, handler string, args string) error {
	return createUniqueJob(name, handler, args, ENQUEUED_JOB, IN_PROGRESS_JOB)
}

// CreateJobUnlessEnqueued enqueues a job unless one with the same name is
// still waiting to be picked up. A job already in-progress does not block it.
func CreateJobUnlessEnqueued(name string, handler string, args string) error {
	return createUniqueJob(name, handler, args, ENQUEUED_JOB)
}

func createUniqueJob(name, handler, args string, blockingStatuses ...string) error {
	jobStatuses := []JobStatus{}
	err := db.Where("name IN ?", blockingStatuses).Find(&jobStatuses).Error
	if err != nil {
		return err
	}

	if len(jobStatuses) != len(blockingStatuses) {
		return errors.New("job statuses have not been seeded")
	}

	statusIDs := []uint{}
	for _, jobStatus := range jobStatuses {
		statusIDs = append(statusIDs, jobStatus.ID)
	}

	results := db.Where("name = ? AND job_status_id IN ?", name, statusIDs).Limit(1).Find(&[]Job{})
	if results.Error != nil {
		return results.Error
	}

	if results.RowsAffected > 0 {
		return ErrDuplicateJob
	}

	enqueuedJobStatus, err := FindJobStatus(ENQUEUED_JOB)
	if err != nil {
		return err
	}

	return db.Create(&Job{
		Name:        name,
		Handler:     handler,
		Args:        args,
		JobStatusID: enqueuedJobStatus.ID,
	}).Error
}

// FirstJob returns the oldest job with the given status & claim flag
func FirstJob(status string, claimed bool) (*Job, error) {
	job := Job{}
	err := db.Joins(jobStatusJoin, status).Where("claimed = ?", claimed).First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func FindJob(id interface{}) (*Job, error) {
	job := Job{}
	err := db.Preload("JobStatus").First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func FetchJobs(page int) ([]Job, *Paging, error) {
	var total int64
	jobs := []Job{}

	err := db.Model(&Job{}).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").Find(&jobs).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return jobs, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func CurrentJobsStats() (*JobsStats, error) {
	stats := JobsStats{}

	counts := map[string]*int64{
		ENQUEUED_JOB:    &stats.EnqueuedJobCount,
		IN_PROGRESS_JOB: &stats.InProgressJobCount,
		SUCCESSFUL_JOB:  &stats.SuccessfulJobCount,
		DEAD_JOB:        &stats.DeadJobCount,
	}

	for status, count := range counts {
		err := db.Joins(jobStatusJoin, status).Model(&Job{}).Count(count).Error
		if err != nil {
			return nil, err
		}
	}

	return &stats, nil
}

// LastJobLastUpdated returns the last job of 'status' that has not been
// touched since 'olderThan' ago.
func LastJobLastUpdated(olderThan time.Duration, status string) (*Job, error) {
	jobStatus, err := FindJobStatus(status)
	if err != nil {
		return nil, err
	}

	job := Job{}
	err = db.Where("job_status_id = ? AND updated_at <= ?", jobStatus.ID, time.Now().Add(-olderThan)).
		Last(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}
