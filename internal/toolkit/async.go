package toolkit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/jobs"
)

// AsyncResult is what an async tool invocation eventually produces,
// delivered out of band from the step that dispatched it.
type AsyncResult struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
}

// Dispatch runs an AsyncInvoker's Invoke in a background goroutine,
// recording its progress in store and delivering the result on the
// returned channel once it finishes. The dispatching step still waits
// on that channel before recording the batch's Observation, since every
// tool_call needs a matching tool-role message before the next LLM
// turn; but the call's state lives in the store while it runs, so it
// can be listed, inspected, or cancelled from outside the one
// goroutine blocked on it.
func Dispatch(ctx context.Context, store jobs.Store, toolCallID, toolName string, arguments json.RawMessage, invoker AsyncInvoker) <-chan AsyncResult {
	done := make(chan AsyncResult, 1)
	job := &jobs.Job{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}
	if store != nil {
		_ = store.Create(ctx, job)
	}

	go func() {
		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if ms, ok := store.(*jobs.MemoryStore); ok {
			ms.SetCancelFunc(job.ID, cancel)
		}

		job.Status = jobs.StatusRunning
		job.StartedAt = time.Now()
		if store != nil {
			_ = store.Update(runCtx, job)
		}

		content, isErr, err := invoker.Invoke(runCtx, arguments)
		job.FinishedAt = time.Now()
		if err != nil {
			job.Status = jobs.StatusFailed
			job.Error = err.Error()
			content = err.Error()
			isErr = true
		} else {
			job.Status = jobs.StatusSucceeded
		}
		job.Result = &jobs.Result{ToolCallID: toolCallID, Content: content, IsError: isErr}
		if store != nil {
			_ = store.Update(runCtx, job)
		}

		done <- AsyncResult{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Content:    content,
			IsError:    isErr,
		}
		close(done)
	}()

	return done
}
