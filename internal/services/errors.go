// Package services defines the business logic of the comment-to-DM pipeline:
// matching inbound comments, gating and dispatching DMs, rate limiting,
// entitlement checks, and automation management. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

// Automation-related errors.
var (
	// ErrAutomationNotFound indicates that the requested automation does not
	// exist or is not owned by the current account.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrNoKeywords is returned when an automation is created or updated with
	// an empty keyword list.
	ErrNoKeywords = errors.New("at least one keyword is required")

	// ErrNoMessage is returned when an automation has no message text.
	ErrNoMessage = errors.New("message text is required")

	// ErrInvalidMediaKind is returned when the target media kind is outside
	// the supported set.
	ErrInvalidMediaKind = errors.New("invalid media kind")

	// ErrInvalidStatus is returned when a status transition names an unknown
	// automation state.
	ErrInvalidStatus = errors.New("invalid automation status")
)

// Account and dispatch errors.
var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotEntitled indicates the account's subscription does not currently
	// permit sending DMs.
	ErrNotEntitled = errors.New("account is not entitled to send")

	// ErrDispatchNotFound indicates the referenced dispatch record does not
	// exist.
	ErrDispatchNotFound = errors.New("dispatch record not found")
)
