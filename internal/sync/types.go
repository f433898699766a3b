package sync

import (
	"fmt"
	"time"

	"github.com/engagement-analysis/advert-sync/internal/audience"
)

// Kind is how a target is represented in the contact service
type Kind string

const (
	// KindField targets set a contact field on every member
	KindField Kind = "field"
	// KindGroup targets add every member to a contact group
	KindGroup Kind = "group"
)

// DefaultFieldValue is written to field targets that do not configure a value
const DefaultFieldValue = "yes"

// Phase is the state of a target reconciliation
type Phase string

// Target phases
const (
	PhasePending  Phase = "Pending"
	PhaseDiffed   Phase = "Diffed"
	PhaseSkipped  Phase = "Skipped"
	PhaseApplying Phase = "Applying"
	PhaseDone     Phase = "Done"
	PhaseFailed   Phase = "Failed"
)

// Target is a contact field or group that an audience is synced to.
// Name is both the field label or group name and the cache key.
type Target struct {
	Name  string
	Kind  Kind
	Value string
}

// FieldValue returns the value written to members of a field target
func (t Target) FieldValue() string {
	if t.Value == "" {
		return DefaultFieldValue
	}
	return t.Value
}

// Job pairs a target with the audience it should contain
type Job struct {
	Target  Target
	Desired audience.Set
}

// TargetReport describes what a reconciliation did to one target
type TargetReport struct {
	Target           Target
	Phase            Phase
	Desired          int
	PreviouslySynced int
	ToSync           int
	NewlySynced      int
	Duration         time.Duration
	Err              error
}

// TargetError is returned when a target cannot be reconciled
type TargetError struct {
	Target string
	// Phase is the phase the target was in when it failed
	Phase Phase
	Err   error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s failed in phase %s: %v", e.Target, e.Phase, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}
