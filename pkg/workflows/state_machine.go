package workflows

import "fmt"

// Issuance pipeline stages
const (
	StageReceived  = "received"
	StageResolving = "resolving"
	StageBinding   = "binding"
	StageRendering = "rendering"
	StageStoring   = "storing"
	StageRecording = "recording"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// StateMachine enforces pipeline stage transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an explicit transition table
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// NewPipelineStateMachine creates the issuance pipeline state machine.
// Every non-terminal stage may move to failed.
func NewPipelineStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		StageReceived:  {StageResolving, StageFailed},
		StageResolving: {StageBinding, StageFailed},
		StageBinding:   {StageRendering, StageFailed},
		StageRendering: {StageStoring, StageFailed},
		StageStoring:   {StageRecording, StageFailed},
		StageRecording: {StageCompleted, StageFailed},
		StageCompleted: {},
		StageFailed:    {},
	})
}

// CanTransition checks if a stage transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next stages for a given stage
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether no transition leaves the stage
func (sm *StateMachine) IsTerminal(stage string) bool {
	allowed, exists := sm.allowedTransitions[stage]
	return exists && len(allowed) == 0
}

// Tracker follows a single run through a state machine
type Tracker struct {
	machine *StateMachine
	current string
	history []string
}

// NewTracker starts a tracker at the given stage
func NewTracker(machine *StateMachine, start string) *Tracker {
	return &Tracker{
		machine: machine,
		current: start,
		history: []string{start},
	}
}

// Advance moves the tracker to the next stage
func (t *Tracker) Advance(to string) error {
	if !t.machine.CanTransition(t.current, to) {
		return fmt.Errorf("invalid stage transition %s -> %s", t.current, to)
	}
	t.current = to
	t.history = append(t.history, to)
	return nil
}

// Current returns the current stage
func (t *Tracker) Current() string {
	return t.current
}

// History returns the stages visited so far
func (t *Tracker) History() []string {
	out := make([]string, len(t.history))
	copy(out, t.history)
	return out
}
