package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// WorkerState describes one pool worker
type WorkerState struct {
	ID     string    `json:"id"`
	JobID  string    `json:"job_id,omitempty"`
	Since  time.Time `json:"since"`
	Active bool      `json:"active"`
}

// WorkerRegistry tracks which job each worker is running
type WorkerRegistry interface {
	Register(workerID string)
	Unregister(workerID string)
	SetActive(workerID, jobID string)
	SetIdle(workerID string)
	ActiveJobID(workerID string) (string, bool)
	Snapshot() []WorkerState
	Active() int
}

// Registry is the in-process WorkerRegistry
type Registry struct {
	workers map[string]*WorkerState
	mu      sync.RWMutex
}

// NewWorkerRegistry creates an empty registry
func NewWorkerRegistry() WorkerRegistry {
	return &Registry{
		workers: make(map[string]*WorkerState),
	}
}

// Register adds an idle worker
func (r *Registry) Register(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers[workerID] = &WorkerState{ID: workerID, Since: time.Now()}

	log.Debug().Str("workerId", workerID).Msg("Registered worker")
}

// Unregister removes a worker
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.workers, workerID)
}

// SetActive records that workerID is running jobID
func (r *Registry) SetActive(workerID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[workerID]; ok {
		w.JobID = jobID
		w.Active = true
		w.Since = time.Now()
	}
}

// SetIdle records that workerID finished its job
func (r *Registry) SetIdle(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[workerID]; ok {
		w.JobID = ""
		w.Active = false
		w.Since = time.Now()
	}
}

// ActiveJobID returns the job workerID is running, if any
func (r *Registry) ActiveJobID(workerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok || !w.Active {
		return "", false
	}
	return w.JobID, true
}

// Snapshot returns a copy of every worker's state ordered by id
func (r *Registry) Snapshot() []WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]WorkerState, 0, len(r.workers))
	for _, w := range r.workers {
		states = append(states, *w)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	return states
}

// Active counts workers currently running a job
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.Active {
			n++
		}
	}
	return n
}
