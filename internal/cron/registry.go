package cron

import "context"

// Job is one periodic sweep the worker executes each cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds sweeps in execution order.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the given jobs, skipping nils.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register appends a job. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
