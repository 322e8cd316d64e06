package domain

import (
	"errors"
	"slices"
	"testing"
)

func TestJobStatusCanTransition(t *testing.T) {
	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusProcessing},
		JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusPending},
		JobStatusCompleted:  {JobStatusPending},
		JobStatusFailed:     {JobStatusPending},
	}
	for _, from := range all {
		for _, to := range all {
			want := slices.Contains(allowed[from], to)
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
	if JobStatus("bogus").CanTransition(JobStatusPending) {
		t.Fatal("unknown status must not transition")
	}
}

func TestImageJobCloneDoesNotAlias(t *testing.T) {
	job := ImageJob{ID: "a", Status: JobStatusCompleted, Result: []byte{1, 2, 3}}
	clone := job.Clone()
	clone.Result[0] = 9
	if job.Result[0] != 1 {
		t.Fatalf("clone shares result buffer")
	}
	if !job.HasResult() {
		t.Fatal("expected completed job with bytes to have a result")
	}
}

func TestNextGroupColor(t *testing.T) {
	if got := NextGroupColor(nil); got != GroupColors[0] {
		t.Fatalf("first colour = %q", got)
	}
	if got := NextGroupColor(GroupColors[:3]); got != GroupColors[3] {
		t.Fatalf("fourth colour = %q", got)
	}
	got := NextGroupColor(GroupColors)
	if !slices.Contains(GroupColors, got) {
		t.Fatalf("exhausted palette returned %q", got)
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := Validationf("%d image(s) have no prompt", 2)
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected ErrValidation")
	}
	if err.Error() != "2 image(s) have no prompt" {
		t.Fatalf("message = %q", err.Error())
	}
}
