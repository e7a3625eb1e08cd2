package orchestrator

import "fmt"

// maxJobErrors bounds the error list persisted on a sync job.
const maxJobErrors = 200

// Tally accumulates record outcomes through pagination loops.
type Tally struct {
	Processed int
	Failed    int
	Skipped   int
	Errors    []string
	dropped   int
}

func (t *Tally) fail(format string, args ...any) {
	t.Failed++
	t.note(format, args...)
}

// note records an error without counting a failed record.
func (t *Tally) note(format string, args ...any) {
	if len(t.Errors) >= maxJobErrors {
		t.dropped++
		return
	}
	t.Errors = append(t.Errors, fmt.Sprintf(format, args...))
}

func (t *Tally) merge(o Tally) {
	t.Processed += o.Processed
	t.Failed += o.Failed
	t.Skipped += o.Skipped
	for _, e := range o.Errors {
		t.note("%s", e)
	}
	t.dropped += o.dropped
}

func (t *Tally) seen() int { return t.Processed + t.Failed + t.Skipped }

// errorList returns the persisted error list, noting any overflow.
func (t *Tally) errorList() []string {
	if t.dropped == 0 {
		return t.Errors
	}
	return append(append([]string(nil), t.Errors...), fmt.Sprintf("... and %d more errors", t.dropped))
}
