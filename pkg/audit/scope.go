package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rhdesk/hrcore/pkg/rbac"
)

// Scope describes an operation observed by Observe. Action is the base name:
// the recorded events are <Action>_STARTED then <Action> or <Action>_FAILED.
type Scope struct {
	User         *rbac.User
	Action       string
	ResourceType string
	ResourceID   string
	OldValues    interface{}
	NewValues    interface{}
}

// Observe brackets fn with audit events and returns fn's error unchanged.
// A panic in fn is recorded and then re-raised.
func Observe(ctx context.Context, rec *Recorder, scope Scope, fn func(context.Context) error) (err error) {
	start := time.Now()
	rec.LogAction(ctx, scope.action(StartedSuffix, nil, 0))

	defer func() {
		if p := recover(); p != nil {
			rec.LogAction(ctx, scope.action(FailedSuffix, map[string]interface{}{
				"error": fmt.Sprint(p),
				"panic": true,
			}, time.Since(start)))
			panic(p)
		}
	}()

	err = fn(ctx)
	if err != nil {
		rec.LogAction(ctx, scope.action(FailedSuffix, map[string]interface{}{
			"error": err.Error(),
		}, time.Since(start)))
		return err
	}
	rec.LogAction(ctx, scope.action("", scope.NewValues, time.Since(start)))
	return nil
}

func (s Scope) action(suffix string, newValues interface{}, elapsed time.Duration) Action {
	if suffix == StartedSuffix {
		newValues = s.NewValues
	}
	return Action{
		User:          s.User,
		Action:        s.Action + suffix,
		ResourceType:  s.ResourceType,
		ResourceID:    s.ResourceID,
		OldValues:     s.OldValues,
		NewValues:     newValues,
		ExecutionTime: elapsed,
	}
}
