package runner

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusSucceeded          Status = "succeeded"
	StatusPartiallySucceeded Status = "partially-succeeded"
	StatusFailed             Status = "failed"
)

func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusPartiallySucceeded || s == StatusFailed
}

// Run is a snapshot of one upload run.
type Run struct {
	Id           string    `json:"id"`
	JournalId    string    `json:"journal_id,omitempty"`
	Host         string    `json:"host"`
	Username     string    `json:"username"`
	SubmissionId string    `json:"submission_id,omitempty"`
	Status       Status    `json:"status"`
	Stage        Stage     `json:"stage,omitempty"`
	Links        int       `json:"links"`
	Fetched      int       `json:"fetched"`
	Units        int       `json:"units"`
	Uploaded     int       `json:"uploaded"`
	Report       string    `json:"report,omitempty"`
	Error        string    `json:"error,omitempty"`
	Logs         []string  `json:"logs,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	defaultRegistrySize = 1024
	defaultRegistryTTL  = time.Hour * 24
)

// Registry keeps recent runs in memory, entries expire a while after their
// last update.
type Registry struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, Run]
}

// NewRegistry creates a registry, zero values use 1024 entries and 24 hours.
func NewRegistry(size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = defaultRegistrySize
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	return &Registry{cache: expirable.NewLRU[string, Run](size, nil, ttl)}
}

func (r *Registry) Put(run Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(run.Id, run)
}

// Update applies fn to the stored run, it is a no-op if the run has expired.
func (r *Registry) Update(id string, fn func(run *Run)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.cache.Peek(id)
	if !ok {
		return false
	}
	fn(&run)
	r.cache.Add(id, run)
	return true
}

func (r *Registry) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Get(id)
}

// List returns every known run, newest first.
func (r *Registry) List() []Run {
	r.mu.Lock()
	runs := r.cache.Values()
	r.mu.Unlock()

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}
