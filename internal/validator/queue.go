package validator

// Queue is the live, mutable list of steps a run still has to perform. It
// shares Action values with its Script so failure annotations are visible in
// the script's step list.
type Queue struct {
	script *Script
	items  []*Action
}

func NewQueue(script *Script) *Queue {
	q := &Queue{script: script}
	q.ResetFromScript()
	return q
}

// Peek returns the head step. ErrEmptyQueue means the sentinel was already
// consumed, which only happens when the engine itself is broken.
func (q *Queue) Peek() (*Action, error) {
	if len(q.items) == 0 {
		return nil, ErrEmptyQueue
	}
	return q.items[0], nil
}

// Pop removes the head step. The KindLast sentinel is never removed.
func (q *Queue) Pop() error {
	if len(q.items) == 0 {
		return ErrEmptyQueue
	}
	if q.items[0].kind == KindLast {
		return nil
	}
	q.items = q.items[1:]
	return nil
}

// Len returns the number of remaining steps including the sentinel.
func (q *Queue) Len() int {
	return len(q.items)
}

// ResetFromScript restores every step of the script.
func (q *Queue) ResetFromScript() {
	q.items = make([]*Action, len(q.script.steps))
	copy(q.items, q.script.steps)
}

// Remaining returns the kinds of the remaining steps, for logs.
func (q *Queue) Remaining() []Kind {
	kinds := make([]Kind, len(q.items))
	for i, a := range q.items {
		kinds[i] = a.kind
	}
	return kinds
}
