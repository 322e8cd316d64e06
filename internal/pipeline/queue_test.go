package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"pgregory.net/rapid"

	"imagepump/internal/clock"
	"imagepump/internal/domain"
)

func newTestQueue() *Queue {
	q := NewQueue(clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	n := 0
	q.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return q
}

func mustSubmit(t *testing.T, q *Queue, name string) domain.ImageJob {
	t.Helper()
	job, err := q.Submit(name, []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("Submit(%s): %v", name, err)
	}
	return job
}

func TestSubmitValidates(t *testing.T) {
	q := newTestQueue()
	if _, err := q.Submit("a.png", nil, "image/png"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	job := mustSubmit(t, q, " ")
	if job.Filename != "image.png" || job.Status != domain.JobStatusPending || job.Progress != 0 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestAssignKeepsGroupsDisjoint(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	b := mustSubmit(t, q, "b.png")
	g1, _ := q.CreateGroup("one", "make it red")
	g2, _ := q.CreateGroup("two", "make it blue")
	if g1.Color == g2.Color {
		t.Fatalf("groups should get distinct colours, both %s", g1.Color)
	}

	if err := q.Assign(g1.ID, a.ID, b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := q.Assign(g2.ID, a.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	groups := q.Groups()
	if !slices.Equal(groups[0].MemberIDs, []string{b.ID}) || !slices.Equal(groups[1].MemberIDs, []string{a.ID}) {
		t.Fatalf("unexpected members %v / %v", groups[0].MemberIDs, groups[1].MemberIDs)
	}
	if job, _ := q.Job(a.ID); job.GroupID != g2.ID {
		t.Fatalf("GroupID = %q, want %q", job.GroupID, g2.ID)
	}
	if err := q.Assign(g1.ID, "missing"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown job, got %v", err)
	}
}

func TestDeleteGroupClearsMembership(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	g, _ := q.CreateGroup("one", "p")
	_ = q.Assign(g.ID, a.ID)
	if err := q.DeleteGroup(g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if job, _ := q.Job(a.ID); job.GroupID != "" {
		t.Fatalf("GroupID should be cleared, got %q", job.GroupID)
	}
	if err := q.DeleteGroup(g.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveDropsJobFromGroups(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	g, _ := q.CreateGroup("one", "p")
	_ = q.Assign(g.ID, a.ID)
	if err := q.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if members := q.Groups()[0].MemberIDs; len(members) != 0 {
		t.Fatalf("members = %v", members)
	}
	if err := q.Remove(a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolvePrompt(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	b := mustSubmit(t, q, "b.png")
	g, _ := q.CreateGroup("grouped", "group prompt")
	empty, _ := q.CreateGroup("empty", "")
	_ = q.Assign(g.ID, a.ID)
	_ = q.Assign(empty.ID, b.ID)

	if _, ok := q.ResolvePrompt(b.ID); ok {
		t.Fatal("empty group prompt and no default should not resolve")
	}
	_ = q.SetDefaultPrompt("  default prompt ")
	if p, ok := q.ResolvePrompt(a.ID); !ok || p != "group prompt" {
		t.Fatalf("ResolvePrompt(a) = %q, %v", p, ok)
	}
	if p, ok := q.ResolvePrompt(b.ID); !ok || p != "default prompt" {
		t.Fatalf("ResolvePrompt(b) = %q, %v", p, ok)
	}
	if _, ok := q.ResolvePrompt("missing"); ok {
		t.Fatal("unknown job should not resolve")
	}
}

func TestResetFinishedSkipsProcessing(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	b := mustSubmit(t, q, "b.png")
	c := mustSubmit(t, q, "c.png")

	_, _ = q.markProcessing(a.ID)
	_, _ = q.complete(a.ID, []byte("out"), "image/png")
	_, _ = q.markProcessing(b.ID)
	_, _ = q.fail(b.ID, "boom")
	_, _ = q.markProcessing(c.ID)
	_, _ = q.setProgress(c.ID, 30)

	n, err := q.ResetFinished()
	if err != nil || n != 2 {
		t.Fatalf("ResetFinished = %d, %v", n, err)
	}
	for _, id := range []string{a.ID, b.ID} {
		job, _ := q.Job(id)
		if job.Status != domain.JobStatusPending || job.Progress != 0 || job.Result != nil || job.Error != "" {
			t.Fatalf("job %s not reset: %+v", id, job)
		}
	}
	if job, _ := q.Job(c.ID); job.Status != domain.JobStatusProcessing || job.Progress != 30 {
		t.Fatalf("processing job touched: %+v", job)
	}
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	if _, err := q.complete(a.ID, []byte("x"), "image/png"); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}
	if _, err := q.setProgress(a.ID, 50); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("progress on pending job must be rejected, got %v", err)
	}
	_, _ = q.markProcessing(a.ID)
	_, _ = q.setProgress(a.ID, 70)
	job, _ := q.setProgress(a.ID, 30)
	if job.Progress != 70 {
		t.Fatalf("progress must not decrease, got %d", job.Progress)
	}
	job, _ = q.requeue(a.ID)
	if job.Status != domain.JobStatusPending || job.Progress != 0 {
		t.Fatalf("requeue should reset progress: %+v", job)
	}
}

func TestCommandsRejectedWhileRunning(t *testing.T) {
	q := newTestQueue()
	a := mustSubmit(t, q, "a.png")
	g, _ := q.CreateGroup("one", "p")
	if !q.tryBeginRun() {
		t.Fatal("tryBeginRun should succeed on idle queue")
	}
	defer q.endRun()
	if q.tryBeginRun() {
		t.Fatal("second tryBeginRun must fail")
	}

	checks := map[string]error{
		"submit": func() error { _, err := q.Submit("b.png", []byte{1}, ""); return err }(),
		"remove": q.Remove(a.ID),
		"assign": q.Assign(g.ID, a.ID),
		"prompt": q.SetDefaultPrompt("x"),
		"reset":  func() error { _, err := q.ResetFinished(); return err }(),
		"delete": q.DeleteGroup(g.ID),
	}
	for name, err := range checks {
		if !errors.Is(err, domain.ErrRunInProgress) {
			t.Fatalf("%s: expected ErrRunInProgress, got %v", name, err)
		}
	}
	if _, err := q.ToggleSelected(a.ID); err != nil {
		t.Fatalf("selection should be allowed during a run: %v", err)
	}
}

func TestDeliverablePrefersSelection(t *testing.T) {
	q := newTestQueue()
	var ids []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		job := mustSubmit(t, q, name)
		_, _ = q.markProcessing(job.ID)
		_, _ = q.complete(job.ID, []byte(name), "image/png")
		ids = append(ids, job.ID)
	}
	if got := q.Deliverable(); len(got) != 3 {
		t.Fatalf("expected all completed, got %d", len(got))
	}
	_, _ = q.ToggleSelected(ids[2])
	_, _ = q.ToggleSelected(ids[0])
	got := q.Deliverable()
	if len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[2] {
		t.Fatalf("unexpected selection %v", got)
	}
	q.DeselectAll()
	if n := q.SelectCompleted(); n != 3 {
		t.Fatalf("SelectCompleted = %d", n)
	}
}

func TestGroupMembershipStaysDisjoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := newTestQueue()
		var jobs, groups []string
		nJobs := rapid.IntRange(1, 8).Draw(rt, "jobs")
		for i := 0; i < nJobs; i++ {
			job, _ := q.Submit(fmt.Sprintf("%d.png", i), []byte{1}, "image/png")
			jobs = append(jobs, job.ID)
		}
		nGroups := rapid.IntRange(1, 4).Draw(rt, "groups")
		for i := 0; i < nGroups; i++ {
			g, _ := q.CreateGroup(fmt.Sprintf("g%d", i), "p")
			groups = append(groups, g.ID)
		}

		steps := rapid.IntRange(0, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				if len(groups) == 0 || len(jobs) == 0 {
					continue
				}
				g := rapid.SampledFrom(groups).Draw(rt, "group")
				sel := rapid.SliceOfDistinct(rapid.SampledFrom(jobs), rapid.ID[string]).Draw(rt, "assign")
				_ = q.Assign(g, sel...)
			case 1:
				if len(jobs) == 0 {
					continue
				}
				_ = q.Unassign(rapid.SampledFrom(jobs).Draw(rt, "unassign"))
			case 2:
				if len(groups) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(groups)-1).Draw(rt, "delete")
				_ = q.DeleteGroup(groups[idx])
				groups = slices.Delete(groups, idx, idx+1)
			case 3:
				if len(jobs) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(jobs)-1).Draw(rt, "remove")
				_ = q.Remove(jobs[idx])
				jobs = slices.Delete(jobs, idx, idx+1)
			}
		}

		owner := map[string]string{}
		for _, g := range q.Groups() {
			for _, m := range g.MemberIDs {
				if prev, ok := owner[m]; ok {
					rt.Fatalf("job %s in groups %s and %s", m, prev, g.ID)
				}
				owner[m] = g.ID
			}
		}
		for _, j := range q.Jobs() {
			if j.GroupID != owner[j.ID] {
				rt.Fatalf("job %s GroupID=%q but member of %q", j.ID, j.GroupID, owner[j.ID])
			}
		}
		for m := range owner {
			if _, ok := q.Job(m); !ok {
				rt.Fatalf("group references removed job %s", m)
			}
		}
	})
}
