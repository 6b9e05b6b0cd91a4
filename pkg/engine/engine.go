package engine

import (
	"context"
	"fmt"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	"github.com/klothoplatform/free-courses-infra/pkg/drift"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/infra/cfn"
	kio "github.com/klothoplatform/free-courses-infra/pkg/io"
	"github.com/klothoplatform/free-courses-infra/pkg/logging"
	"github.com/klothoplatform/free-courses-infra/pkg/plan"
	"github.com/klothoplatform/free-courses-infra/pkg/state"
	"github.com/klothoplatform/free-courses-infra/pkg/validation"
	"go.uber.org/zap"
)

type (
	// Engine runs the lifecycle of one stack: it composes the desired graph, checks it, compares it with the
	// recorded state and publishes the rendered template.
	Engine struct {
		State     state.Backend
		Publisher cfn.Publisher
		Plugin    cfn.Plugin
		// Reader reads live resources for drift detection. Drift is not checked when nil.
		Reader       drift.Reader
		DriftWorkers int
		Region       string
	}

	Result struct {
		Stack *coursestack.Stack
		Plan  *plan.Plan
		Files []kio.File
		// State is the state recorded by the run, or the loaded state if nothing was recorded.
		State *state.State
		Drift *drift.Report
		// Retained lists the resources a destroy left in the account.
		Retained []construct.ResourceId
	}
)

// Validate composes the stack and checks the resulting graph.
func (e *Engine) Validate(opts coursestack.Options) (*coursestack.Stack, error) {
	s, err := coursestack.Compose(opts)
	if err != nil {
		return nil, err
	}
	v := validation.GraphValidation{NamePrefix: namePrefix(opts)}
	if err := v.Run(s.Graph); err != nil {
		return s, err
	}
	zap.S().Named("engine").Debugf("%s passed", v.Name())
	return s, nil
}

// namePrefix is the prefix every physical name carries. Custom name templates are not checked.
func namePrefix(opts coursestack.Options) string {
	if opts.Environment == "" || opts.NameTemplate != "" {
		return ""
	}
	return opts.Environment + "-"
}

// Synth validates the stack and renders its template without touching the recorded state.
func (e *Engine) Synth(opts coursestack.Options) (*Result, error) {
	s, err := e.Validate(opts)
	if err != nil {
		return nil, err
	}
	files, err := e.Plugin.Translate(s.Graph, templateOutputs(s.Outputs))
	if err != nil {
		return nil, err
	}
	return &Result{Stack: s, Files: files}, nil
}

// Plan validates the stack and computes the changes from the recorded state.
func (e *Engine) Plan(ctx context.Context, opts coursestack.Options) (*Result, error) {
	res, err := e.Synth(opts)
	if err != nil {
		return nil, err
	}
	res.State, err = e.loadState(ctx, opts.Environment)
	if err != nil {
		return nil, err
	}
	var recorded construct.Graph
	if res.State != nil {
		recorded = res.State.Graph
	}
	res.Plan, err = plan.Compute(res.Stack.Graph, recorded)
	return res, err
}

// Apply plans the stack and, unless the plan is empty, publishes the template and records the new state.
// Drift in the recorded resources stops the apply before anything is published.
func (e *Engine) Apply(ctx context.Context, opts coursestack.Options) (*Result, error) {
	log := logging.GetLogger(ctx).Sugar().Named("engine")
	res, err := e.Plan(ctx, opts)
	if err != nil {
		return res, err
	}

	if res.State != nil && e.Reader != nil {
		res.Drift, err = e.detect(ctx, res.State.Graph)
		if err != nil {
			return res, err
		}
		if err := res.Drift.Err(); err != nil {
			return res, err
		}
	}

	if res.Plan.Empty() {
		log.Infof("stack is up to date")
		return res, nil
	}
	log.Infof("applying: %s", res.Plan.Summary())
	if err := e.Publisher.Publish(ctx, res.Files); err != nil {
		return res, err
	}

	prev := res.State
	if prev == nil {
		prev = state.New(opts.Environment, e.Region)
	}
	next := prev.Next(res.Stack.Graph, stateOutputs(res.Stack.Outputs))
	if err := e.State.Save(ctx, next); err != nil {
		return res, err
	}
	res.State = next
	log.Infof("recorded state serial %d at %s", next.Serial, e.State.Location())
	return res, nil
}

// Destroy publishes an empty template and clears the recorded state. Retained resources stay in the account
// and are listed in the result.
func (e *Engine) Destroy(ctx context.Context, environment string) (*Result, error) {
	log := logging.GetLogger(ctx).Sugar().Named("engine")
	recorded, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}
	res := &Result{State: recorded}
	if recorded == nil {
		res.Plan = &plan.Plan{}
		log.Infof("nothing recorded at %s", e.State.Location())
		return res, nil
	}

	res.Plan, err = plan.Destroy(recorded.Graph)
	if err != nil {
		return res, err
	}
	res.Retained = res.Plan.Retained()

	res.Files, err = e.Plugin.Translate(construct.NewGraph(), nil)
	if err != nil {
		return res, err
	}
	if err := e.Publisher.Publish(ctx, res.Files); err != nil {
		return res, err
	}
	if err := e.State.Delete(ctx); err != nil {
		return res, err
	}
	log.Infof("destroyed: %s", res.Plan.Summary())
	for _, id := range res.Retained {
		logging.GetLogger(logging.WithResource(ctx, id)).Warn("retained, still exists in the account")
	}
	return res, nil
}

// Drift compares the recorded resources with the live ones.
func (e *Engine) Drift(ctx context.Context, environment string) (*Result, error) {
	if e.Reader == nil {
		return nil, engine_errs.ConfigError{Key: "region", Err: fmt.Errorf("no live reader configured")}
	}
	recorded, err := e.loadState(ctx, environment)
	if err != nil {
		return nil, err
	}
	res := &Result{State: recorded}
	if recorded == nil {
		res.Drift = &drift.Report{}
		return res, nil
	}
	res.Drift, err = e.detect(ctx, recorded.Graph)
	if err != nil {
		return res, err
	}
	return res, res.Drift.Err()
}

func (e *Engine) detect(ctx context.Context, recorded construct.Graph) (*drift.Report, error) {
	d := drift.Detector{Reader: e.Reader, Workers: e.DriftWorkers}
	return d.Detect(ctx, recorded)
}

func (e *Engine) loadState(ctx context.Context, environment string) (*state.State, error) {
	s, err := e.State.Load(ctx)
	if err != nil || s == nil {
		return s, err
	}
	if s.Environment != environment {
		return nil, engine_errs.ConfigError{
			Key: "environment",
			Err: fmt.Errorf("state at %s belongs to environment %q, not %q", e.State.Location(), s.Environment, environment),
		}
	}
	return s, nil
}

func templateOutputs(outputs []coursestack.Output) []cfn.Output {
	out := make([]cfn.Output, len(outputs))
	for i, o := range outputs {
		out[i] = cfn.Output{Name: o.Name, Description: o.Description, Value: o.Value}
	}
	return out
}

func stateOutputs(outputs []coursestack.Output) map[string]any {
	out := make(map[string]any, len(outputs))
	for _, o := range outputs {
		out[o.Name] = o.Value
	}
	return out
}
