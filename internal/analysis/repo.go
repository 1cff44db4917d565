package analysis

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repo is the Job Store.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// WithTx returns a Repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo {
	return &Repo{db: tx}
}

func (r *Repo) Create(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Job, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repo) GetByEntry(ctx context.Context, entryID string) (*Job, error) {
	return r.first(ctx, "entry_id = ?", entryID)
}

func (r *Repo) GetByTaskRef(ctx context.Context, ref string) (*Job, error) {
	return r.first(ctx, "task_ref = ?", ref)
}

func (r *Repo) first(ctx context.Context, cond string, arg any) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

// ListByUser returns the user's jobs, newest first.
func (r *Repo) ListByUser(ctx context.Context, userID uint64, limit int) ([]Job, error) {
	var out []Job
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Reset returns the job to pending under a new task ref and clears its outcome.
func (r *Repo) Reset(ctx context.Context, id, ref string) error {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       JobPending,
			"result":       nil,
			"error":        nil,
			"completed_at": nil,
			"task_ref":     ref,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// The Mark* updates apply only while ref is still the job's task ref. They
// report the number of rows changed; callers re-read the job to tell a stale
// task from a no-op.

func (r *Repo) MarkProcessing(ctx context.Context, id, ref string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND task_ref = ? AND status <> ?", id, ref, JobCompleted).
		Updates(map[string]any{
			"status": JobProcessing,
			"error":  nil,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) MarkCompleted(ctx context.Context, id, ref, result string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND task_ref = ? AND status = ?", id, ref, JobProcessing).
		Updates(map[string]any{
			"status":       JobCompleted,
			"result":       result,
			"error":        nil,
			"completed_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) MarkFailed(ctx context.Context, id, ref, errMsg string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND task_ref = ? AND status <> ?", id, ref, JobCompleted).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
			"result": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) DeleteByEntry(ctx context.Context, entryID string) error {
	return r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Delete(&Job{}).Error
}
