package models

import (
	"time"

	"gorm.io/datatypes"
)

// Status is a project's workflow state.
type Status string

const (
	StatusSubmitted   Status = "Submitted"
	StatusUnderReview Status = "Under Review"
	StatusApproved    Status = "Approved"
	StatusWaitingMRO  Status = "Waiting for MRO Confirmation"
	StatusCompleted   Status = "Completed"
	StatusRejected    Status = "Rejected"
)

// StatusTransition is a workflow event on a project. Field edits are not recorded.
type StatusTransition struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProjectNo string `gorm:"size:40;not null;index" json:"project_no"`

	FromStatus Status `gorm:"size:50;not null" json:"from_status"`
	ToStatus   Status `gorm:"size:50;not null" json:"to_status"`

	// Actor information
	ActorName string `gorm:"size:100;not null" json:"actor_name"`
	ActorRole Role   `gorm:"size:20" json:"actor_role"`

	Comment  string            `gorm:"type:text" json:"comment,omitempty"`
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	TransitionedAt time.Time `gorm:"not null;index" json:"transitioned_at"`
}
