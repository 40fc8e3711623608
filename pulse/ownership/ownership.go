// Package ownership decides which node runs which job.
//
// The coordinator only schedules jobs its Owner claims. A single node uses
// All; several nodes sharing one job store use AdvisoryLock so that each job
// is claimed by exactly one live node.
package ownership

import (
	"context"

	"github.com/teranos/cadence/pulse/job"
)

// Owner reports whether this node should schedule a job.
type Owner interface {
	Owns(ctx context.Context, key job.Key) (bool, error)
}

// Releaser is implemented by owners that hold a claim until told to let go.
type Releaser interface {
	Release(ctx context.Context, key job.Key) error
}

// All claims every job.
type All struct{}

func (All) Owns(context.Context, job.Key) (bool, error) { return true, nil }
