// Package pipeline owns the ordered job list, the prompt groups and the run
// that walks the list through a provider.
package pipeline

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"imagepump/internal/clock"
	"imagepump/internal/domain"
)

// Queue holds the workspace state. Exported methods are the commands a
// client may issue; status, progress, result and error are only changed by
// the Orchestrator through the unexported methods.
type Queue struct {
	mu            sync.RWMutex
	jobs          []*domain.ImageJob
	groups        []*domain.PromptGroup
	defaultPrompt string
	running       bool

	clock clock.Clock
	newID func() string
}

// NewQueue returns an empty queue. A nil clock means wall time.
func NewQueue(clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{clock: clk, newID: uuid.NewString}
}

// Submit appends a pending job for an uploaded image.
func (q *Queue) Submit(filename string, data []byte, mime string) (domain.ImageJob, error) {
	if len(data) == 0 {
		return domain.ImageJob{}, domain.Validationf("image data is required")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "image.png"
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ImageJob{}, domain.ErrRunInProgress
	}
	now := q.clock.Now()
	job := &domain.ImageJob{
		ID:          q.newID(),
		Filename:    filename,
		SourceBytes: append([]byte(nil), data...),
		SourceMIME:  mime,
		Status:      domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.jobs = append(q.jobs, job)
	return job.Clone(), nil
}

// Remove deletes a job and drops it from every group.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ErrRunInProgress
	}
	idx := q.indexLocked(id)
	if idx < 0 {
		return domain.ErrNotFound
	}
	q.jobs = slices.Delete(q.jobs, idx, idx+1)
	for _, g := range q.groups {
		g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(m string) bool { return m == id })
	}
	return nil
}

// Jobs returns snapshots of every job in submission order.
func (q *Queue) Jobs() []domain.ImageJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.ImageJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Job returns a snapshot of one job.
func (q *Queue) Job(id string) (domain.ImageJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if j := q.findLocked(id); j != nil {
		return j.Clone(), true
	}
	return domain.ImageJob{}, false
}

// Running reports whether a run currently owns the queue.
func (q *Queue) Running() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

// DefaultPrompt returns the prompt used for ungrouped jobs.
func (q *Queue) DefaultPrompt() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.defaultPrompt
}

func (q *Queue) SetDefaultPrompt(prompt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ErrRunInProgress
	}
	q.defaultPrompt = strings.TrimSpace(prompt)
	return nil
}

// Groups returns snapshots of every prompt group in creation order.
func (q *Queue) Groups() []domain.PromptGroup {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.PromptGroup, 0, len(q.groups))
	for _, g := range q.groups {
		out = append(out, g.Clone())
	}
	return out
}

// CreateGroup adds an empty group with the next free palette colour.
func (q *Queue) CreateGroup(name, prompt string) (domain.PromptGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.PromptGroup{}, domain.Validationf("group name is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.PromptGroup{}, domain.ErrRunInProgress
	}
	used := make([]string, 0, len(q.groups))
	for _, g := range q.groups {
		used = append(used, g.Color)
	}
	g := &domain.PromptGroup{
		ID:        q.newID(),
		Name:      name,
		Prompt:    strings.TrimSpace(prompt),
		MemberIDs: []string{},
		Color:     domain.NextGroupColor(used),
	}
	q.groups = append(q.groups, g)
	return g.Clone(), nil
}

// GroupUpdate lists the fields to change; nil leaves a field as is.
type GroupUpdate struct {
	Name   *string
	Prompt *string
}

func (q *Queue) UpdateGroup(id string, upd GroupUpdate) (domain.PromptGroup, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.PromptGroup{}, domain.ErrRunInProgress
	}
	g := q.findGroupLocked(id)
	if g == nil {
		return domain.PromptGroup{}, domain.ErrNotFound
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return domain.PromptGroup{}, domain.Validationf("group name is required")
		}
		g.Name = name
	}
	if upd.Prompt != nil {
		g.Prompt = strings.TrimSpace(*upd.Prompt)
	}
	return g.Clone(), nil
}

// DeleteGroup removes a group and clears GroupID on its former members.
func (q *Queue) DeleteGroup(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ErrRunInProgress
	}
	idx := slices.IndexFunc(q.groups, func(g *domain.PromptGroup) bool { return g.ID == id })
	if idx < 0 {
		return domain.ErrNotFound
	}
	for _, m := range q.groups[idx].MemberIDs {
		if j := q.findLocked(m); j != nil {
			j.GroupID = ""
		}
	}
	q.groups = slices.Delete(q.groups, idx, idx+1)
	return nil
}

// Assign moves jobIDs into the group, removing them from any other group
// first. Unknown job ids are rejected before anything changes.
func (q *Queue) Assign(groupID string, jobIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ErrRunInProgress
	}
	target := q.findGroupLocked(groupID)
	if target == nil {
		return domain.ErrNotFound
	}
	for _, id := range jobIDs {
		if q.findLocked(id) == nil {
			return domain.Validationf("unknown job %q", id)
		}
	}
	q.detachLocked(jobIDs)
	for _, id := range jobIDs {
		if !slices.Contains(target.MemberIDs, id) {
			target.MemberIDs = append(target.MemberIDs, id)
		}
		q.findLocked(id).GroupID = target.ID
	}
	return nil
}

// Unassign removes jobIDs from whatever group they belong to.
func (q *Queue) Unassign(jobIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return domain.ErrRunInProgress
	}
	q.detachLocked(jobIDs)
	return nil
}

func (q *Queue) detachLocked(jobIDs []string) {
	for _, g := range q.groups {
		g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(m string) bool {
			return slices.Contains(jobIDs, m)
		})
	}
	for _, id := range jobIDs {
		if j := q.findLocked(id); j != nil {
			j.GroupID = ""
		}
	}
}

// ToggleSelected flips the delivery flag of one job and returns the new value.
// Selection does not affect processing, so it is allowed during a run.
func (q *Queue) ToggleSelected(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.findLocked(id)
	if j == nil {
		return false, domain.ErrNotFound
	}
	j.Selected = !j.Selected
	return j.Selected, nil
}

// SelectCompleted marks every completed job with a result as selected.
func (q *Queue) SelectCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.HasResult() {
			j.Selected = true
			n++
		}
	}
	return n
}

// DeselectAll clears the delivery flag on every job.
func (q *Queue) DeselectAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		j.Selected = false
	}
}

// Deselect clears the delivery flag on the given jobs.
func (q *Queue) Deselect(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		if j := q.findLocked(id); j != nil {
			j.Selected = false
		}
	}
}

// Deliverable returns the completed jobs to ship: the selected ones if any
// are selected, otherwise all of them, in submission order.
func (q *Queue) Deliverable() []domain.ImageJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var completed, selected []domain.ImageJob
	for _, j := range q.jobs {
		if !j.HasResult() {
			continue
		}
		completed = append(completed, j.Clone())
		if j.Selected {
			selected = append(selected, j.Clone())
		}
	}
	if len(selected) > 0 {
		return selected
	}
	return completed
}

// ResetFinished returns completed and failed jobs to pending, clearing their
// progress, result and error. Processing jobs are never touched.
func (q *Queue) ResetFinished() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return 0, domain.ErrRunInProgress
	}
	now := q.clock.Now()
	n := 0
	for _, j := range q.jobs {
		if !j.Status.Terminal() {
			continue
		}
		j.Status = domain.JobStatusPending
		j.Progress = 0
		j.Result = nil
		j.ResultMIME = ""
		j.Error = ""
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// tryBeginRun marks the queue as running. It fails when a run is active.
func (q *Queue) tryBeginRun() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return false
	}
	q.running = true
	return true
}

func (q *Queue) endRun() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// pendingIDs lists pending jobs in submission order.
func (q *Queue) pendingIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var ids []string
	for _, j := range q.jobs {
		if j.Status == domain.JobStatusPending {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

// transition moves a job along a legal edge and applies mutate under the
// same lock. It returns the updated snapshot.
func (q *Queue) transition(id string, next domain.JobStatus, mutate func(*domain.ImageJob)) (domain.ImageJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.findLocked(id)
	if j == nil {
		return domain.ImageJob{}, domain.ErrNotFound
	}
	if j.Status != next && !j.Status.CanTransition(next) {
		return domain.ImageJob{}, domain.ErrIllegalTransition
	}
	j.Status = next
	if mutate != nil {
		mutate(j)
	}
	j.UpdatedAt = q.clock.Now()
	return j.Clone(), nil
}

func (q *Queue) markProcessing(id string) (domain.ImageJob, error) {
	return q.transition(id, domain.JobStatusProcessing, func(j *domain.ImageJob) {
		j.Progress = 10
		j.Error = ""
	})
}

// setProgress raises the progress of a processing job. Lower values are ignored.
func (q *Queue) setProgress(id string, progress int) (domain.ImageJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.findLocked(id)
	if j == nil {
		return domain.ImageJob{}, domain.ErrNotFound
	}
	if j.Status != domain.JobStatusProcessing {
		return domain.ImageJob{}, domain.ErrIllegalTransition
	}
	if progress > j.Progress {
		j.Progress = min(progress, 100)
		j.UpdatedAt = q.clock.Now()
	}
	return j.Clone(), nil
}

func (q *Queue) complete(id string, result []byte, mime string) (domain.ImageJob, error) {
	return q.transition(id, domain.JobStatusCompleted, func(j *domain.ImageJob) {
		j.Progress = 100
		j.Result = result
		j.ResultMIME = mime
		j.Error = ""
	})
}

func (q *Queue) fail(id, message string) (domain.ImageJob, error) {
	return q.transition(id, domain.JobStatusFailed, func(j *domain.ImageJob) {
		j.Error = message
		j.Result = nil
		j.ResultMIME = ""
	})
}

func (q *Queue) requeue(id string) (domain.ImageJob, error) {
	return q.transition(id, domain.JobStatusPending, func(j *domain.ImageJob) {
		j.Progress = 0
	})
}

// appendGenerated records a text-to-image result as a new completed job.
func (q *Queue) appendGenerated(filename string, result []byte, mime string) domain.ImageJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	job := &domain.ImageJob{
		ID:         q.newID(),
		Filename:   filename,
		Status:     domain.JobStatusCompleted,
		Progress:   100,
		Result:     result,
		ResultMIME: mime,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	q.jobs = append(q.jobs, job)
	return job.Clone()
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.jobs, func(j *domain.ImageJob) bool { return j.ID == id })
}

func (q *Queue) findLocked(id string) *domain.ImageJob {
	if idx := q.indexLocked(id); idx >= 0 {
		return q.jobs[idx]
	}
	return nil
}

func (q *Queue) findGroupLocked(id string) *domain.PromptGroup {
	for _, g := range q.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}
