package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/types"
)

// Handler executes one job. Returning an error wrapped with joberr.Permanent
// fails the job without spending further attempts.
type Handler func(ctx context.Context, job *models.Job) error

// Registry maps job types to handlers. It is filled during fx startup and read
// by the scheduler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.JobType]Handler)}
}

func (r *Registry) Register(jobType types.JobType, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[jobType]; ok {
		return fmt.Errorf("handler for %s already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Lookup(jobType types.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns registered job types in stable order.
func (r *Registry) Types() []types.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
