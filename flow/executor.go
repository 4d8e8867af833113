package flow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/logging"
	"github.com/hupe1980/reagent/telemetry"
	"github.com/hupe1980/reagent/tool"
)

// ExecutorOptions configures the tool executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent tool calls. 0 or <1 => unbounded.
	MaxParallel int
	Logger      logging.Logger
}

// Result is the outcome of one tool call.
type Result struct {
	Call     core.ToolCall
	Content  string
	Err      error
	Duration time.Duration
}

// Executor executes the tool calls of one assistant message. It:
//   - respects ctx cancellation
//   - never panics (a tool panic is recovered and reported as its result)
//   - produces exactly one Result per incoming call, in request order
//
// The worker pool is shared by every turn; Close releases it.
type Executor struct {
	opts ExecutorOptions
	pool *ants.Pool
}

// NewExecutor constructs a new executor with the given options. If the pool
// cannot be created, calls run sequentially.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	pool, err := ants.NewPool(opts.MaxParallel)
	if err != nil {
		opts.Logger.Error("tool.pool.error", "error", err.Error())
		pool = nil
	}

	return &Executor{opts: opts, pool: pool}
}

// Close releases the worker pool. Calls executed afterwards run
// sequentially.
func (e *Executor) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// MaxParallel returns the configured concurrency bound.
func (e *Executor) MaxParallel() int { return e.opts.MaxParallel }

// Execute resolves each call in reg and runs the known ones concurrently on
// the executor's ants pool. Unknown tools yield a not-found result without running
// anything. Results are returned in request order regardless of completion
// order.
func (e *Executor) Execute(ctx context.Context, reg *tool.Registry, calls []core.ToolCall) []Result {
	n := len(calls)
	results := make([]Result, n)
	if n == 0 {
		return results
	}

	type job struct {
		index int
		impl  tool.Tool
	}

	jobs := make([]job, 0, n)
	for i, call := range calls {
		impl, ok := reg.Resolve(call.Name)
		if !ok {
			e.opts.Logger.Warn("tool.call.not_found", "tool", call.Name, "tool_call_id", call.ID)
			results[i] = Result{Call: call, Content: tool.NotFoundPayload(call.Name), Err: tool.NotFound(call.Name)}
			continue
		}
		jobs = append(jobs, job{index: i, impl: impl})
	}

	// Fast path: single call, execute inline.
	if len(jobs) == 1 {
		j := jobs[0]
		results[j.index] = e.run(ctx, j.impl, calls[j.index])
		return results
	}
	if len(jobs) == 0 {
		return results
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > len(jobs) {
		maxPar = len(jobs)
	}

	batchStart := time.Now()

	var wg sync.WaitGroup

	for _, j := range jobs {
		idx, impl := j.index, j.impl
		task := func() {
			defer wg.Done()
			results[idx] = e.run(ctx, impl, calls[idx])
		}

		wg.Add(1)
		if e.pool == nil {
			task()
			continue
		}
		if err := e.pool.Submit(task); err != nil {
			e.opts.Logger.Error("tool.pool.submit.error", "tool", calls[idx].Name, "error", err.Error())
			task()
		}
	}

	wg.Wait()

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (e *Executor) run(ctx context.Context, impl tool.Tool, call core.ToolCall) (res Result) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanToolCall,
		telemetry.KeyTool.String(call.Name),
		telemetry.KeyToolCallID.String(call.ID),
	)

	defer func() { // panic safety
		if r := recover(); r != nil {
			err := newPanicError(r)
			e.opts.Logger.Error("tool.call.panic", "tool", call.Name, "recover", r)
			res = Result{Call: call, Content: err.Error(), Err: err}
		}
		res.Duration = time.Since(start)

		telemetry.EndSpan(span, res.Err)
		telemetry.RecordToolCall(ctx, call.Name, res.Err == nil)

		e.opts.Logger.Info(
			"tool.call.executed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration_ms", res.Duration.Milliseconds(),
			"error", res.Err != nil,
		)
	}()

	if err := ctx.Err(); err != nil {
		return Result{Call: call, Content: err.Error(), Err: err}
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		te := tool.NewToolError(call.Name, err.Error(), tool.CodeArgumentParsing)
		te.Details = err
		return Result{Call: call, Content: te.Error(), Err: te}
	}

	out, err := impl.Call(ctx, args)
	if err != nil {
		return Result{Call: call, Content: err.Error(), Err: err}
	}

	return Result{Call: call, Content: out}
}

// PanicError reports a tool that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(r any) *PanicError { return &PanicError{Value: r, Stack: debug.Stack()} }

func (p *PanicError) Error() string { return fmt.Sprintf("tool panicked: %v", p.Value) }
