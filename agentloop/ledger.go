package agentloop

// ActionLedger records, in order, the names of tools that completed
// successfully during one run. Failed, unknown, and sentinel calls are never
// recorded.
type ActionLedger struct {
	names []string
}

// Record appends a successful tool name.
func (l *ActionLedger) Record(name string) {
	l.names = append(l.names, name)
}

// Contains reports whether name was recorded.
func (l *ActionLedger) Contains(name string) bool {
	for _, n := range l.names {
		if n == name {
			return true
		}
	}
	return false
}

// Names returns a copy of the recorded names.
func (l *ActionLedger) Names() []string {
	return append([]string{}, l.names...)
}

// Len returns the number of recorded names.
func (l *ActionLedger) Len() int { return len(l.names) }

// Scratchpad keeps the reasoning annotations extracted from model responses.
// The loop only ever writes to it.
type Scratchpad struct {
	thoughts []string
}

// Add appends a thought.
func (s *Scratchpad) Add(thought string) {
	s.thoughts = append(s.thoughts, thought)
}

// Entries returns a copy of the recorded thoughts.
func (s *Scratchpad) Entries() []string {
	return append([]string{}, s.thoughts...)
}
