package discovery

import "errors"

// ErrIncompleteProfile is returned by Workflow.Start when the loaded profile
// lacks data a run needs. No checkpoint is written.
var ErrIncompleteProfile = errors.New("incomplete profile")

// ErrApprovalAlreadySet is returned by Merge when an update sets
// sai_range_approved a second time.
var ErrApprovalAlreadySet = errors.New("sai_range_approved is already set")

// ErrInvalidUpdate is returned by DecodeUpdate for a document that does not
// match the update schema, and by Workflow.Invoke for input that sets fields
// only nodes write.
var ErrInvalidUpdate = errors.New("invalid update")

// ErrInvalidDecision is the fault SaiConfirm reports when resumed with a
// value that is not a boolean.
var ErrInvalidDecision = errors.New("confirmation decision must be a boolean")

// ErrUnknownUser is returned (wrapped) by a ProfileLoader that has no
// profile for the requested user.
var ErrUnknownUser = errors.New("unknown user")

// ErrNothingToRetry is returned by Workflow.Retry when the thread's last run
// did not end in Recovery.
var ErrNothingToRetry = errors.New("last run did not fault")
