package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/resydrop/internal/db"
	"github.com/example/resydrop/internal/reservation"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusRunning   Status = "running"
	StatusBooked    Status = "booked"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrNotClaimed is returned when another worker claimed the job first.
var ErrNotClaimed = errors.New("job already claimed")

// Job is a timed reservation request scheduled for one run date. The
// scheduler picks it up at StartAt, some lead time before the drop.
type Job struct {
	ID      int64
	Name    string
	Request reservation.TimedReservationRequest
	RunOn   reservation.Date
	StartAt time.Time

	Status     Status
	ResyToken  *string
	LastError  *string
	StartedAt  *time.Time
	FinishedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob schedules tr for runOn, starting lead before the drop time in loc.
func NewJob(name string, tr reservation.TimedReservationRequest, runOn reservation.Date, lead time.Duration, loc *time.Location) Job {
	drop := tr.DropTime(runOn.In(loc))
	return Job{
		Name:    strings.TrimSpace(name),
		Request: tr,
		RunOn:   runOn,
		StartAt: drop.Add(-lead),
		Status:  StatusActive,
	}
}

func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name required")
	}
	if j.StartAt.IsZero() {
		return fmt.Errorf("start time required")
	}
	return j.Request.Validate()
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const columns = `id,name,request,run_on,start_at,status,resy_token,last_error,started_at,finished_at,created_at,updated_at`

func (r *Repo) Create(ctx context.Context, j Job) (int64, error) {
	if err := j.Validate(); err != nil {
		return 0, err
	}
	req, err := json.Marshal(j.Request)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `
INSERT INTO jobs(name,request,run_on,start_at,status)
VALUES ($1,$2,$3,$4,'active')
RETURNING id`,
		j.Name, req, j.RunOn.In(time.UTC), j.StartAt.UTC(),
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM jobs ORDER BY start_at DESC`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repo) Get(ctx context.Context, id int64) (Job, error) {
	j, err := scan(r.db.QueryRow(ctx, `SELECT `+columns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		return Job{}, db.WrapNotFound(err)
	}
	return j, nil
}

// Due returns active jobs whose start time has passed.
func (r *Repo) Due(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM jobs
WHERE status='active' AND start_at <= $1
ORDER BY start_at ASC
LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Claim moves a job from active to running. Only one caller wins.
func (r *Repo) Claim(ctx context.Context, id int64) error {
	n, err := r.db.ExecAffected(ctx, `UPDATE jobs SET status='running', started_at=now(), updated_at=now() WHERE id=$1 AND status='active'`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (r *Repo) MarkBooked(ctx context.Context, id int64, resyToken string) error {
	return r.db.Exec(ctx, `UPDATE jobs SET status='booked', resy_token=$2, last_error=NULL, finished_at=now(), updated_at=now() WHERE id=$1`, id, resyToken)
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, msg string) error {
	return r.db.Exec(ctx, `UPDATE jobs SET status='failed', last_error=$2, finished_at=now(), updated_at=now() WHERE id=$1`, id, msg)
}

// Requeue puts an interrupted running job back to active.
func (r *Repo) Requeue(ctx context.Context, id int64) error {
	return r.db.Exec(ctx, `UPDATE jobs SET status='active', started_at=NULL, updated_at=now() WHERE id=$1 AND status='running'`, id)
}

func (r *Repo) Cancel(ctx context.Context, id int64) error {
	n, err := r.db.ExecAffected(ctx, `UPDATE jobs SET status='cancelled', updated_at=now() WHERE id=$1 AND status='active'`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func collect(rows db.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scan(row db.Row) (Job, error) {
	var (
		j      Job
		req    []byte
		runOn  time.Time
		status string
	)
	if err := row.Scan(&j.ID, &j.Name, &req, &runOn, &j.StartAt, &status, &j.ResyToken, &j.LastError,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(req, &j.Request); err != nil {
		return Job{}, fmt.Errorf("job %d: decode request: %w", j.ID, err)
	}
	j.RunOn = reservation.DateOf(runOn)
	j.Status = Status(status)
	return j, nil
}
