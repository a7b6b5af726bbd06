package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with how often it should run. A zero Every runs the job
// on every tick of the service.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks registered cron jobs.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry preloaded with the provided entries.
func NewRegistry(entries ...Entry) *Registry {
	registry := &Registry{}
	for _, entry := range entries {
		registry.Register(entry.Job, entry.Every)
	}
	return registry
}

// Register adds a job to the registry. Nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns the registered entries in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
