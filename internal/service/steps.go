package service

import (
	"context"
	"fmt"

	"llm-chat-service/internal/logging"
)

// step is one forward action of a multi-document write and the action
// that reverts it.
type step struct {
	name       string
	do         func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSteps executes steps in order. When one fails, the compensations of
// the steps that already succeeded run in reverse order, detached from
// ctx cancellation so a dropped client cannot leave half a chat behind.
func runSteps(ctx context.Context, log logging.Logger, steps ...step) error {
	for i, s := range steps {
		if err := s.do(ctx); err != nil {
			undoCtx := context.WithoutCancel(ctx)
			for j := i - 1; j >= 0; j-- {
				done := steps[j]
				if done.compensate == nil {
					continue
				}
				if cerr := done.compensate(undoCtx); cerr != nil {
					log.Error(ctx, "compensation failed", "step", done.name, "error", cerr)
				}
			}
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
