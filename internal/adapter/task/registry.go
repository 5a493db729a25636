package task

import "github.com/tkrause/jobgate/internal/domain"

// Registry maps the closed job-type enumeration to executors. Adding a task
// family means registering one more Executor, nothing else.
type Registry struct {
	execs map[domain.JobType]domain.Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[domain.JobType]domain.Executor)}
}

// Register adds an executor, replacing any earlier one for the same type.
func (r *Registry) Register(e domain.Executor) {
	r.execs[e.Type()] = e
}

// Lookup returns the executor for the job type, or nil.
func (r *Registry) Lookup(t domain.JobType) domain.Executor {
	return r.execs[t]
}

// Types returns the registered job types.
func (r *Registry) Types() []domain.JobType {
	out := make([]domain.JobType, 0, len(r.execs))
	for t := range r.execs {
		out = append(out, t)
	}
	return out
}
