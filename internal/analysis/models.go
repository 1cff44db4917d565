package analysis

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is the lifecycle record of an entry's interpretation. There is at most
// one per entry; resubmission resets it in place.
type Job struct {
	ID      string `gorm:"primaryKey;size:26" json:"job_id"` // ULID
	EntryID string `gorm:"size:26;uniqueIndex;not null" json:"entry_id"`
	UserID  uint64 `gorm:"index;not null" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when completed
	Result *string `gorm:"type:text" json:"result"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	// Most recently dispatched task; older tasks are stale.
	TaskRef *string `gorm:"size:26;index" json:"task_ref"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (Job) TableName() string { return "interpretation_jobs" }

func (j *Job) ownedBy(ref string) bool {
	return j.TaskRef != nil && *j.TaskRef == ref
}
