package store

import (
	"context"
	"time"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/job"
	"github.com/teranos/cadence/pulse/schedule"
)

// Record is a stored job definition.
type Record struct {
	ID        string              `json:"id" yaml:"id"`
	Tenant    string              `json:"tenant" yaml:"tenant"`
	Name      string              `json:"name,omitempty" yaml:"name,omitempty"`
	Handler   string              `json:"handler" yaml:"handler"`
	Payload   string              `json:"payload,omitempty" yaml:"payload,omitempty"`
	Schedule  schedule.Definition `json:"schedule" yaml:"schedule"`
	Timeout   time.Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ETag      string              `json:"etag,omitempty" yaml:"-"`
	CreatedAt time.Time           `json:"created_at" yaml:"-"`
	UpdatedAt time.Time           `json:"updated_at" yaml:"-"`
}

// Key identifies the record's job.
func (r *Record) Key() job.Key {
	return job.Key{ID: r.ID, Tenant: r.Tenant}
}

// storedJob adapts a Record to job.Job, resolving its handler at execution time.
type storedJob struct {
	record   Record
	schedule schedule.Schedule
	handlers *HandlerRegistry
}

var _ job.Job = (*storedJob)(nil)

func (j *storedJob) Key() job.Key                { return j.record.Key() }
func (j *storedJob) Schedule() schedule.Schedule { return j.schedule }
func (j *storedJob) Timeout() time.Duration      { return j.record.Timeout }
func (j *storedJob) ETag() string                { return j.record.ETag }

// Record returns the definition the job was built from.
func (j *storedJob) Record() Record { return j.record }

func (j *storedJob) Execute(ctx context.Context, scheduled time.Time) (string, error) {
	if j.handlers == nil {
		return "", errors.Newf("no handler registry for job %s", j.record.Key())
	}
	h, ok := j.handlers.Get(j.record.Handler)
	if !ok {
		return "", errors.Wrapf(errors.ErrNotFound, "handler %q", j.record.Handler)
	}
	return h(ctx, Invocation{
		Key:          j.record.Key(),
		Name:         j.record.Name,
		Payload:      j.record.Payload,
		ScheduledFor: scheduled,
	})
}
