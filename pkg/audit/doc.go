// Package audit records who did what to which HR resource.
//
// A Recorder turns an Action into an Entry, masking sensitive values, and
// hands it either to a Queue (an in-process worker pool or an asynq queue)
// or directly to a Writer. Recording never fails the caller: writer errors,
// queue errors and panics are logged and swallowed.
//
// Record an event from a handler:
//
//	recorder.LogAction(ctx, audit.Action{
//		User:         user,
//		Action:       audit.ActionUpdate,
//		ResourceType: "demandes",
//		ResourceID:   "42",
//		OldValues:    before,
//		NewValues:    after,
//	})
//
// Observe brackets an operation with _STARTED and success or _FAILED events
// and, unlike LogAction, propagates the operation's error or panic:
//
//	err := audit.Observe(ctx, recorder, audit.Scope{User: user, Action: "PAYROLL_CLOSE"}, closeMonth)
//
// Middleware records one entry per request under /api/ and /admin/. The
// authentication layer attaches the principal with AttachUser.
package audit
