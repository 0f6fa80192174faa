// Package handlers implements the worker.Handler set: sleep,
// summarize_conversation, research_report, run_code_snippet, agent_turn, and
// the edit_docs_{propose,apply,cancel} two-phase flow.
package handlers

import (
	"context"
	"time"

	oasis "github.com/nevindra/runcore"
	"github.com/nevindra/runcore/taskctx"
	"github.com/nevindra/runcore/worker"
)

// SleepInput is the input shape for the sleep handler.
type SleepInput struct {
	oasis.RunInput
	Seconds int `json:"seconds"`
}

// Sleep wakes once a second, calling hb each iteration so the worker can
// detect a lost lease or a cancel. Steps: ["sleep"].
func Sleep(ctx context.Context, run oasis.Run, hb worker.HeartbeatFunc) (oasis.TaskResult, error) {
	var input SleepInput
	if err := unmarshalInput(run.Input, &input); err != nil {
		return oasis.TaskResult{}, &oasis.InvalidArgumentError{Reason: err.Error()}
	}

	tc := taskctx.New(run.Type, input.RunInput)
	err := tc.Step(ctx, "sleep", func(meta map[string]any) error {
		meta["target_seconds"] = input.Seconds
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for i := 0; i < input.Seconds; i++ {
			select {
			case <-ticker.C:
				if err := hb(ctx); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return tc.Build(), err
	}

	tc.SetResult(map[string]any{"slept": input.Seconds})
	tc.SetArtifacts(map[string]any{"duration_seconds": input.Seconds})
	return tc.Build(), nil
}
