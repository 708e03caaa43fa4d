package domain

import "errors"

var (
	// Validation
	ErrDuplicateActive = errors.New("an active request already exists for this room, visitor and day")
	ErrInvalidCode     = errors.New("authorization code is invalid, expired or already used")
	ErrInvalidInput    = errors.New("invalid input")

	// Authorization
	ErrUnauthorized = errors.New("actor is not authorized for this request")

	// State conflict
	ErrRequestNotFound       = errors.New("visit request not found")
	ErrPassNotFound          = errors.New("facility pass not found")
	ErrAlreadyResolved       = errors.New("request is no longer pending")
	ErrCannotCancelCheckedIn = errors.New("request has an open check-in session and cannot be canceled")
	ErrNotApproved           = errors.New("request is not approved")
	ErrAlreadyCheckedIn      = errors.New("request already has an open check-in session")
	ErrNoOpenSession         = errors.New("no open check-in session for this request")
)
