// Package services defines the business logic for credits, generation jobs,
// webhook reconciliation, subscriptions and user profiles. This file
// centralizes service-level error values so that they can be consistently
// returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Caller and ledger errors.
var (
	// ErrUnauthenticated is returned when an operation requires a caller
	// identity and none was resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUserNotFound indicates that no local user exists for the identity.
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientCredits is returned when a reservation exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount rejects negative ledger amounts.
	ErrInvalidAmount = errors.New("credit amount must be >= 0")
)

// Submission errors.
var (
	// ErrEmptyPrompt is returned when a generation request has no prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrInvalidParams covers missing model or aspect ratio.
	ErrInvalidParams = errors.New("invalid generation parameters")

	// ErrInvalidKind is returned for job kinds other than image or video.
	ErrInvalidKind = errors.New("invalid job kind")

	// ErrExternalSubmissionFailed wraps a generator rejection or transport error.
	ErrExternalSubmissionFailed = errors.New("external submission failed")

	// ErrDuplicateJob indicates the generator returned a task id that is
	// already bound to another job of the same kind.
	ErrDuplicateJob = errors.New("duplicate external job id")

	// ErrRequestInProgress is returned when another request holding the same
	// Idempotency-Key has not finished yet.
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
)

// Webhook errors.
var (
	// ErrMalformedPayload is returned when a callback cannot be decoded or
	// lacks its correlation id.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoResultURL is returned when a success callback carries no result URL.
	ErrNoResultURL = errors.New("no result url")

	// ErrJobNotFound indicates no job matches the callback's task id.
	ErrJobNotFound = errors.New("job not found")

	// ErrAssetRehost wraps failures while copying a result to durable storage.
	ErrAssetRehost = errors.New("asset rehost failed")

	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSubscriptionNotFound indicates an update for an unknown subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Prompt enhancement errors.
var (
	// ErrPromptEnhancerDisabled is returned when no prompt model is configured.
	ErrPromptEnhancerDisabled = errors.New("prompt enhancer not configured")

	// ErrPromptEnhanceFailed wraps a failed call to the prompt model.
	ErrPromptEnhanceFailed = errors.New("prompt enhancement failed")
)
