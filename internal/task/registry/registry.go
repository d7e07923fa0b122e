// Package registry holds the process-wide, runtime-mutable set of scheduled jobs.
//
// All methods are safe for concurrent use. Critical sections only touch the
// in-memory slice; change notification happens after the lock is released.
package registry

import (
	"slices"
	"sync"
	"time"
)

type Registry struct {
	mu   sync.RWMutex
	jobs []Job
	gens map[string]uint64

	changed chan struct{}
}

func New() *Registry {
	return &Registry{
		gens:    map[string]uint64{},
		changed: make(chan struct{}, 1),
	}
}

// Changed delivers a coalesced signal after every mutation.
// Only one consumer (the scheduler loop) is expected.
func (r *Registry) Changed() <-chan struct{} { return r.changed }

func (r *Registry) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// List returns a point-in-time copy in insertion order.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.jobs)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Insert appends job. Jobs are built by NewJob or OneShot, so the schedule is never nil.
func (r *Registry) Insert(job Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	r.notify()
}

// Prune drops every job with no occurrence after now and returns what it dropped.
func (r *Registry) Prune(now time.Time) []Job {
	var removed []Job
	r.mu.Lock()
	kept := r.jobs[:0]
	for _, j := range r.jobs {
		if _, ok := j.Next(now); ok {
			kept = append(kept, j)
		} else {
			removed = append(removed, j)
		}
	}
	clear(r.jobs[len(kept):])
	r.jobs = kept
	r.dropEmptyGroupsLocked(removed)
	r.mu.Unlock()
	if len(removed) > 0 {
		r.notify()
	}
	return removed
}

// RemoveByID removes every job with the given id and returns how many were removed.
func (r *Registry) RemoveByID(id string) int {
	return r.removeWhere(func(j Job) bool { return j.ID == id }, "")
}

// RemoveGroup removes every job in group and forgets its generation.
func (r *Registry) RemoveGroup(group string) int {
	return r.removeWhere(func(j Job) bool { return j.GroupKey() == group }, group)
}

func (r *Registry) removeWhere(match func(Job) bool, group string) int {
	var removed []Job
	r.mu.Lock()
	r.jobs = slices.DeleteFunc(r.jobs, func(j Job) bool {
		if match(j) {
			removed = append(removed, j)
			return true
		}
		return false
	})
	n := len(removed)
	_, known := r.gens[group]
	delete(r.gens, group)
	r.dropEmptyGroupsLocked(removed)
	r.mu.Unlock()
	if n > 0 || known {
		r.notify()
	}
	return n
}

// dropEmptyGroupsLocked forgets the generation of every group among removed
// that has no job left.
func (r *Registry) dropEmptyGroupsLocked(removed []Job) {
	var gone map[string]struct{}
	for _, j := range removed {
		if j.Group == "" {
			continue
		}
		if gone == nil {
			gone = map[string]struct{}{}
		}
		gone[j.Group] = struct{}{}
	}
	if len(gone) == 0 {
		return
	}
	for _, j := range r.jobs {
		delete(gone, j.Group)
	}
	for g := range gone {
		delete(r.gens, g)
	}
}

// Upsert atomically replaces the whole group with jobs. Each inserted job gets
// Group set to group. Calling it twice with the same jobs leaves the same List.
func (r *Registry) Upsert(group string, jobs []Job) {
	fresh := make([]Job, len(jobs))
	for i, j := range jobs {
		j.Group = group
		fresh[i] = j
	}

	r.mu.Lock()
	r.jobs = slices.DeleteFunc(r.jobs, func(j Job) bool { return j.GroupKey() == group })
	r.jobs = append(r.jobs, fresh...)
	if len(fresh) > 0 {
		r.gens[group]++
	} else {
		delete(r.gens, group)
	}
	r.mu.Unlock()
	r.notify()
}

// Generation counts Upsert calls for group while it holds jobs. It is 0 for
// a group that was removed, emptied, or fully pruned.
func (r *Registry) Generation(group string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gens[group]
}
