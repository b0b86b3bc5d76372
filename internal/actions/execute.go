package actions

import (
	"context"
	"fmt"

	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
)

type Result struct {
	Message string
	Outcome scheduler.Outcome
	Prompt  *model.FollowUpPrompt
}

type Handlers struct {
	Done    func(context.Context, Action) (Result, error)
	Snooze  func(context.Context, Action) (Result, error)
	Confirm func(context.Context, Action) (Result, error)
	Decline func(context.Context, Action) (Result, error)
}

func Execute(ctx context.Context, a Action, handlers Handlers) (Result, error) {
	switch a.Kind {
	case KindDone:
		if handlers.Done == nil {
			return Result{}, &ActionError{Code: ErrCodeHandlerMissing, Message: "done handler not configured"}
		}
		return handlers.Done(ctx, a)
	case KindSnooze:
		if handlers.Snooze == nil {
			return Result{}, &ActionError{Code: ErrCodeHandlerMissing, Message: "snooze handler not configured"}
		}
		return handlers.Snooze(ctx, a)
	case KindConfirm:
		if handlers.Confirm == nil {
			return Result{}, &ActionError{Code: ErrCodeHandlerMissing, Message: "confirm handler not configured"}
		}
		return handlers.Confirm(ctx, a)
	case KindDecline:
		if handlers.Decline == nil {
			return Result{}, &ActionError{Code: ErrCodeHandlerMissing, Message: "decline handler not configured"}
		}
		return handlers.Decline(ctx, a)
	default:
		return Result{}, &ActionError{Code: ErrCodeUnknownAction, Message: fmt.Sprintf("unknown action kind: %s", a.Kind)}
	}
}
