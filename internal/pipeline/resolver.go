package pipeline

// ResolvePrompt returns the prompt a job would be processed with: its
// group's prompt when that is set, otherwise the default prompt.
func (q *Queue) ResolvePrompt(jobID string) (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.resolveLocked(jobID)
}

func (q *Queue) resolveLocked(jobID string) (string, bool) {
	j := q.findLocked(jobID)
	if j == nil {
		return "", false
	}
	if j.GroupID != "" {
		if g := q.findGroupLocked(j.GroupID); g != nil && g.Prompt != "" {
			return g.Prompt, true
		}
	}
	if q.defaultPrompt != "" {
		return q.defaultPrompt, true
	}
	return "", false
}

// unresolved counts the pending jobs that have no prompt.
func (q *Queue) unresolved(ids []string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, id := range ids {
		if _, ok := q.resolveLocked(id); !ok {
			n++
		}
	}
	return n
}
