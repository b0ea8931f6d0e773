// Package workflow is the project status state machine.
package workflow

import (
	"fmt"
	"slices"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
)

// states in lifecycle order
var states = []models.Status{
	models.StatusSubmitted,
	models.StatusUnderReview,
	models.StatusApproved,
	models.StatusWaitingMRO,
	models.StatusCompleted,
	models.StatusRejected,
}

// States returns every known status in lifecycle order.
func States() []models.Status {
	return slices.Clone(states)
}

// Known reports whether s is a defined status.
func Known(s models.Status) bool {
	return slices.Contains(states, s)
}

// Initial is the status of a newly created project.
func Initial() models.Status {
	return models.StatusSubmitted
}

// IsTerminal reports whether no further forward step exists from s.
func IsTerminal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusRejected
}

// Policy decides whether a status change is allowed.
type Policy interface {
	Name() string
	Allows(from, to models.Status, role models.Role) bool
}

// Permissive allows any known status to move to any other known status.
type Permissive struct{}

func (Permissive) Name() string { return "permissive" }

func (Permissive) Allows(from, to models.Status, _ models.Role) bool {
	return Known(from) && Known(to)
}

// ForwardOnly follows the lifecycle one step at a time. Rejection is possible
// from Submitted or Under Review; terminal states are final. Admins may
// additionally reopen a rejected project to Submitted.
type ForwardOnly struct{}

var forward = map[models.Status][]models.Status{
	models.StatusSubmitted:   {models.StatusUnderReview, models.StatusRejected},
	models.StatusUnderReview: {models.StatusApproved, models.StatusRejected},
	models.StatusApproved:    {models.StatusWaitingMRO},
	models.StatusWaitingMRO:  {models.StatusCompleted},
}

func (ForwardOnly) Name() string { return "forward" }

func (ForwardOnly) Allows(from, to models.Status, role models.Role) bool {
	if slices.Contains(forward[from], to) {
		return true
	}
	return role == models.RoleAdmin && from == models.StatusRejected && to == models.StatusSubmitted
}

// Gate says which roles may change status at all.
type Gate string

const (
	GateAdmin Gate = "admin"
	GateAny   Gate = "any"
)

// ParseGate accepts the configuration spelling of a gate.
func ParseGate(s string) (Gate, error) {
	switch Gate(s) {
	case GateAdmin, GateAny:
		return Gate(s), nil
	}
	return "", fmt.Errorf("unknown status change gate %q (want admin or any)", s)
}

// ParsePolicy accepts the configuration spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "permissive":
		return Permissive{}, nil
	case "forward":
		return ForwardOnly{}, nil
	}
	return nil, fmt.Errorf("unknown workflow policy %q (want permissive or forward)", s)
}

// Workflow combines a transition policy with a role gate.
type Workflow struct {
	policy Policy
	gate   Gate
}

// New returns a workflow; a nil policy means Permissive.
func New(policy Policy, gate Gate) *Workflow {
	if policy == nil {
		policy = Permissive{}
	}
	if gate == "" {
		gate = GateAdmin
	}
	return &Workflow{policy: policy, gate: gate}
}

func (w *Workflow) Policy() Policy { return w.policy }

func (w *Workflow) Gate() Gate { return w.gate }

// CanChange reports whether role may request status changes at all.
func (w *Workflow) CanChange(role models.Role) bool {
	switch w.gate {
	case GateAny:
		return role.Valid()
	default:
		return role == models.RoleAdmin
	}
}

// IsLegal reports whether role may move a project from one status to another.
func (w *Workflow) IsLegal(from, to models.Status, role models.Role) bool {
	return w.Check(from, to, role) == nil
}

// Check explains why a transition is refused. Unknown target statuses and
// policy refusals are validation errors; role refusals are forbidden errors.
func (w *Workflow) Check(from, to models.Status, role models.Role) error {
	if !Known(to) {
		return &apperr.ValidationError{Violations: []apperr.Violation{{
			Field:   "status",
			Reason:  apperr.ReasonNotAllowed,
			Message: fmt.Sprintf("%q is not a workflow status", to),
		}}}
	}
	if !w.CanChange(role) {
		return &apperr.ForbiddenError{Action: "change project status"}
	}
	if !w.policy.Allows(from, to, role) {
		return &apperr.ValidationError{Violations: []apperr.Violation{{
			Field:   "status",
			Reason:  apperr.ReasonNotAllowed,
			Message: fmt.Sprintf("cannot move from %s to %s", from, to),
		}}}
	}
	return nil
}

// Next lists the statuses role may move a project to from its current status.
func (w *Workflow) Next(from models.Status, role models.Role) []models.Status {
	var out []models.Status
	for _, s := range states {
		if s != from && w.IsLegal(from, s, role) {
			out = append(out, s)
		}
	}
	return out
}
