package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// Executor runs one job. The context is cancelled when the queue stops.
type Executor func(ctx context.Context, job *Job) error

type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*Job
	dedupe     map[string]string
	idCounter  uint64
	started    bool
	pendingIDs chan string
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*Job),
		dedupe:      make(map[string]string),
		pendingIDs:  make(chan string, 1024),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue adds a pending job unless one with the same dedupe key is still
// pending or running, in which case the existing job is returned with false.
func (q *Queue) Enqueue(req EnqueueRequest) (*Job, bool) {
	now := time.Now()

	q.mu.Lock()
	if id, ok := q.dedupe[req.DedupeKey]; ok {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, req.DedupeKey)
	}

	id := fmt.Sprintf("job-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &Job{
		ID:        id,
		Source:    req.Source,
		DedupeKey: req.DedupeKey,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.jobs[id] = job
	if req.DedupeKey != "" {
		q.dedupe[req.DedupeKey] = id
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// Active returns the pending or running job holding dedupeKey.
func (q *Queue) Active(dedupeKey string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	id, ok := q.dedupe[dedupeKey]
	if !ok {
		return nil, false
	}
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

func (q *Queue) List() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]*Job, 0)
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	q.mu.Unlock()

	for _, job := range pending {
		q.enqueuePendingID(job.ID)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running executors and waits for the workers to exit. Jobs
// interrupted by the cancellation go back to pending so a restarted process
// picks them up.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.pendingIDs:
			job, ok := q.markRunning(id)
			if !ok {
				continue
			}

			logger := log.With("job", job.ID, "record", job.Payload.RecordID)
			err := apperr.SafeExecute(func() error {
				return exec(q.ctx, job)
			})
			switch {
			case err == nil:
				q.markSuccess(id)
			case q.ctx.Err() != nil && errors.Is(err, context.Canceled):
				logger.Info("Job interrupted by shutdown, left pending")
				q.markPending(id)
			default:
				logger.Error("Job failed: %v", err)
				q.markFailed(id, err)
			}
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.ctx.Done():
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*Job, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) markPending(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = StatusPending
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
}

func (q *Queue) markSuccess(id string) {
	q.finish(id, StatusSuccess, "")
}

func (q *Queue) markFailed(id string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	q.finish(id, StatusFailed, msg)
}

func (q *Queue) finish(id string, status Status, msg string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = status
	job.Error = msg
	job.UpdatedAt = time.Now()
	q.releaseDedupeLocked(job)
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) releaseDedupeLocked(job *Job) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil {
			continue
		}
		if job.Status == StatusPending || job.Status == StatusRunning {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		q.releaseDedupeLocked(q.jobs[id])
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.Source = SourceRecovery
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
		q.updateIDCounterLocked(job.ID)
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
	if len(loaded) > 0 {
		log.Info("Hydrated %d jobs from store, %d recovered from running", len(loaded), len(toPersist))
	}
}

func (q *Queue) updateIDCounterLocked(jobID string) {
	if !strings.HasPrefix(jobID, "job-") {
		return
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "job-"), 10, 64)
	if err != nil {
		return
	}
	if n > q.idCounter {
		q.idCounter = n
	}
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
