package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SegmentDefinition is a named, rule-derived grouping of entities. Dynamic
// segments are recomputed from their rules; membership is never hand-edited.
type SegmentDefinition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"  validate:"required,min=3"`
	Rules     RuleSet   `json:"rules"`
	IsDynamic bool      `json:"is_dynamic"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the segment's rule set against the entity field schema.
func (s *SegmentDefinition) Validate(validate *validator.Validate, schema FieldSchema) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("segment %s: %w", s.ID, err)
	}

	if err := s.Rules.Validate(schema); err != nil {
		return fmt.Errorf("segment %s rules: %w", s.ID, err)
	}

	return nil
}

// MembershipOp is the kind of change recalculation applied to a membership.
type MembershipOp string

const (
	MembershipAdded   MembershipOp = "added"
	MembershipRemoved MembershipOp = "removed"
)

// Membership change reasons written by recalculation, kept for audit.
const (
	ReasonRuleMatch   = "rule_match"
	ReasonRuleUnmatch = "rule_unmatch"
	ReasonManual      = "manual"
)

// Membership is one entity's (possibly closed) membership in a segment.
// Removals close the row with LeftAt instead of deleting it, preserving
// history.
type Membership struct {
	SegmentID string     `json:"segment_id"`
	EntityID  string     `json:"entity_id"`
	Reason    string     `json:"reason"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	LeftReason string    `json:"left_reason,omitempty"`
}

// Open reports whether the membership is current.
func (m *Membership) Open() bool {
	return m.LeftAt == nil
}

// MembershipChange is one audit entry emitted by a recalculation pass.
type MembershipChange struct {
	SegmentID string       `json:"segment_id"`
	EntityID  string       `json:"entity_id"`
	Op        MembershipOp `json:"op"`
	Reason    string       `json:"reason"`
	At        time.Time    `json:"at"`
}
