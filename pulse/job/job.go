// Package job defines the contracts between the scheduling engine and the
// systems that own job definitions: the Job itself, the Repository that lists
// jobs and records their outcomes, and the Execution records it keeps.
package job

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/cadence/pulse/schedule"
)

// Key identifies a job within a tenant.
type Key struct {
	ID     string
	Tenant string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Tenant, k.ID)
}

// Job is a schedulable unit of work.
//
// A Job value is a snapshot of one version of a definition; a changed
// definition is a new value with a new ETag.
type Job interface {
	Key() Key
	Schedule() schedule.Schedule
	// Timeout bounds one execution. Zero means the coordinator default.
	Timeout() time.Duration
	// ETag changes whenever the definition changes. Empty is a valid tag.
	ETag() string
	// Execute runs the job for the given scheduled instant and returns a short result summary.
	// Implementations should honour ctx cancellation; the scheduler stops waiting at the timeout either way.
	Execute(ctx context.Context, scheduled time.Time) (string, error)
}
