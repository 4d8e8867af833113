package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/internal/util"
	"github.com/hupe1980/reagent/model"
	"github.com/hupe1980/reagent/notification"
	"github.com/hupe1980/reagent/schema"
)

// Default planner prompts. They are rendered with text/template.
const (
	DefaultPlannerPrompt = `Your task is to create a detailed, step-by-step plan to solve the user's objective.

These tools will be available while the plan is executed:
{{.tools}}

First, carefully understand the objective.
Then break the task down into smaller, executable sub-tasks.
Each step in the plan should be a single, clear action.
Do not add any superfluous or unnecessary steps.
Respond with a JSON object {"steps": [...]} where each string is a single step of the plan.`

	DefaultReplannerPrompt = `You are a planning agent responsible for adapting a plan based on the results of executed steps.
Your original objective was: {{.input}}
Your original plan was:
{{.plan}}
You have already completed the following steps and observed their results:
{{.past_steps}}

Based on the results, critically evaluate the plan and provide only the remaining steps.
If the objective has been fully achieved, respond with an empty list.
Do not repeat steps that were already completed.
Respond with a JSON object {"steps": [...]}.`

	DefaultFinalPrompt = `Using the results of the steps above, give the final answer to the original objective: {{.input}}`
)

// Notification names published by PlanAndExecute.
const (
	NotificationPlan     = "plan"
	NotificationPlanStep = "plan.step"
)

// ErrInvalidPlan is returned when the planner reply is not a list of steps.
var ErrInvalidPlan = errors.New("planner returned an invalid plan")

// Plan is the structured planner reply.
type Plan struct {
	Steps []string `json:"steps"`
}

// StepResult is the payload of a plan.step notification.
type StepResult struct {
	Step        string `json:"step"`
	Observation string `json:"observation"`
}

// PlanOptions configures PlanAndExecute.
type PlanOptions struct {
	// MaxSteps bounds executed steps (default 5).
	MaxSteps        int
	PlannerPrompt   string
	ReplannerPrompt string
	FinalPrompt     string
}

var planValidator = sync.OnceValues(func() (*schema.Validator, error) {
	s, err := schema.For[Plan]()
	if err != nil {
		return nil, err
	}
	return schema.Compile(s)
})

// PlanAndExecute asks the model for a plan (tools disabled, outside the
// agent history), executes each step through the tool loop, replans after
// every step and finally asks for a reply with tools disabled. An empty
// initial plan falls back to the plain tool loop.
func PlanAndExecute(optFns ...func(o *PlanOptions)) Flow {
	opts := PlanOptions{
		MaxSteps:        5,
		PlannerPrompt:   DefaultPlannerPrompt,
		ReplannerPrompt: DefaultReplannerPrompt,
		FinalPrompt:     DefaultFinalPrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = 1
	}

	return Func(func(ctx context.Context, a Agent, prompt string) (core.Message, error) {
		return runPlan(ctx, a, prompt, opts)
	})
}

func runPlan(ctx context.Context, a Agent, prompt string, opts PlanOptions) (core.Message, error) {
	a.History().Append(core.UserMessage(prompt))

	system, err := util.RenderTemplate(opts.PlannerPrompt, map[string]any{
		"tools": describeTools(a),
		"input": prompt,
	})
	if err != nil {
		return core.Message{}, fmt.Errorf("render planner prompt: %w", err)
	}

	plan, err := requestPlan(ctx, a, system, prompt)
	if err != nil {
		return core.Message{}, err
	}

	logger := a.Logger()
	logger.Info("flow.plan.created", "agent", a.Name(), "steps", len(plan))
	a.Bus().Publish(notification.Custom{Name: NotificationPlan, Payload: append([]string(nil), plan...)})

	if len(plan) == 0 {
		return Loop(ctx, a)
	}

	original := formatSteps(plan)

	var past []StepResult
	for len(plan) > 0 && len(past) < opts.MaxSteps {
		step := plan[0]
		plan = plan[1:]

		a.History().Append(core.UserMessage(step))

		reply, err := Loop(ctx, a)
		if err != nil {
			return core.Message{}, err
		}

		result := StepResult{Step: step, Observation: reply.Content}
		past = append(past, result)
		a.Bus().Publish(notification.Custom{Name: NotificationPlanStep, Payload: result})
		logger.Debug("flow.plan.step", "agent", a.Name(), "step", len(past))

		if len(past) == opts.MaxSteps {
			break
		}

		system, err := util.RenderTemplate(opts.ReplannerPrompt, map[string]any{
			"input":      prompt,
			"plan":       original,
			"past_steps": formatPastSteps(past),
		})
		if err != nil {
			return core.Message{}, fmt.Errorf("render replanner prompt: %w", err)
		}

		plan, err = requestPlan(ctx, a, system, "Provide the remaining steps.")
		if err != nil {
			// A broken replan ends execution; completed steps are kept.
			logger.Warn("flow.plan.replan.error", "agent", a.Name(), "error", err.Error())
			break
		}
		a.Bus().Publish(notification.Custom{Name: NotificationPlan, Payload: append([]string(nil), plan...)})
	}

	final, err := util.RenderTemplate(opts.FinalPrompt, map[string]any{"input": prompt})
	if err != nil {
		return core.Message{}, fmt.Errorf("render final prompt: %w", err)
	}
	a.History().Append(core.UserMessage(final))

	return Generate(ctx, a, false)
}

// requestPlan runs a one-shot planner call that does not touch the history
// or the bus.
func requestPlan(ctx context.Context, a Agent, system, user string) ([]string, error) {
	v, err := planValidator()
	if err != nil {
		return nil, err
	}

	opts := a.Options()
	opts.Stream = false
	opts.ResponseFormat = &model.ResponseFormat{Name: "plan", Schema: v.Schema(), Strict: true}

	resp, err := model.Collect(ctx, a.Model(), model.Request{
		Messages: []core.Message{core.SystemMessage(system), core.UserMessage(user)},
		Options:  opts,
	}, nil)
	if err != nil {
		return nil, err
	}

	content := util.StripThinking(resp.Message.Content)

	plan, err := schema.Parse[Plan](v, content)
	if err == nil {
		return plan.Steps, nil
	}

	// Some models answer with a bare JSON list.
	if steps, listErr := schema.Decode[[]string](content); listErr == nil {
		return steps, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
}

func describeTools(a Agent) string {
	tools := a.Tools().Tools()
	if len(tools) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSteps(steps []string) string {
	var sb strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPastSteps(past []StepResult) string {
	parts := make([]string, len(past))
	for i, p := range past {
		parts[i] = fmt.Sprintf("Step: %s\nResult: %s", p.Step, p.Observation)
	}
	return strings.Join(parts, "\n\n")
}
