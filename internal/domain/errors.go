package domain

import "errors"

// Common errors
var (
	// ErrNotFound is returned when an entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a unique constraint rejects an insert
	// (e.g., a target that is already queued or already decided)
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrNoCandidates is returned by a claim attempt when no eligible candidate
	// exists. This is a normal outcome, not a failure.
	ErrNoCandidates = errors.New("no eligible candidates")

	// ErrPermitConflict is returned when a concurrent acquirer already holds a
	// non-revoked permit for the same decision. Never retried automatically.
	ErrPermitConflict = errors.New("permit conflict")

	// ErrPermitNotApproved is returned by the pre-publish verification when the
	// permit is not in the approved state. The publish action must not proceed.
	ErrPermitNotApproved = errors.New("permit not approved")

	// ErrPublishedIDMismatch is returned when a used permit is marked again with
	// a different platform post ID. Indicates a consistency bug upstream.
	ErrPublishedIDMismatch = errors.New("published id mismatch")

	// ErrTerminalDecision is returned when attempting to mutate a decision that
	// has already reached a terminal status
	ErrTerminalDecision = errors.New("decision is terminal")

	// ErrInvalidCandidate is returned when creating a candidate with invalid fields
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrBudgetExhausted is returned when a reservation would take the period
	// spend over its limit
	ErrBudgetExhausted = errors.New("budget exhausted")
)
