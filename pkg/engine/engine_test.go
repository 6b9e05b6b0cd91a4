package engine

import (
	"context"
	"errors"
	"testing"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/infra/cfn"
	"github.com/klothoplatform/free-courses-infra/pkg/plan"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/klothoplatform/free-courses-infra/pkg/state"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serviceReader reports the live desired count of the service and skips everything else.
type serviceReader struct {
	desiredCount int
}

func (r serviceReader) Supports(id construct.ResourceId) bool {
	return id.Type == resources.ECS_SERVICE_TYPE
}

func (r serviceReader) Read(ctx context.Context, g construct.Graph, res *construct.Resource) (map[string]any, error) {
	return map[string]any{"DesiredCount": r.desiredCount}, nil
}

var (
	serviceId = construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: resources.ECS_SERVICE_TYPE, Name: coursestack.ServiceName}
	tableId   = construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: resources.DYNAMODB_TABLE_TYPE, Name: coursestack.TableName}
)

func newEngine(fs afero.Fs) *Engine {
	return &Engine{
		State:     state.FileBackend{Fs: fs, Path: DefaultStateLocation("staging")},
		Publisher: cfn.DirPublisher{Fs: fs, Dir: DefaultOutputDir},
		Plugin:    cfn.Plugin{Format: cfn.FormatYAML},
		Region:    "us-east-1",
	}
}

func stagingOptions() coursestack.Options {
	opts := coursestack.DefaultOptions()
	opts.Environment = "staging"
	opts.ServiceVersion = "1.0.3"
	return opts
}

func TestEngine_Apply(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	e := newEngine(fs)
	opts := stagingOptions()

	first, err := e.Apply(ctx, opts)
	require.NoError(t, err)
	assert.False(t, first.Plan.Empty())
	assert.Equal(t, 1, first.State.Serial)
	assert.Equal(t, "staging", first.State.Environment)
	assert.Equal(t, "us-east-1", first.State.Region)
	assert.Contains(t, first.State.Outputs, "TableName")

	exists, err := afero.Exists(fs, "out/template.yaml")
	require.NoError(t, err)
	assert.True(t, exists, "template is published")

	again, err := e.Apply(ctx, opts)
	require.NoError(t, err)
	assert.True(t, again.Plan.Empty(), "re-applying the same options changes nothing")
	assert.Equal(t, 1, again.State.Serial, "state is not rewritten")

	opts.DesiredCount = 2
	updated, err := e.Apply(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Plan.Count(plan.ActionUpdate))
	assert.Equal(t, 2, updated.State.Serial)
	assert.Equal(t, first.State.Lineage, updated.State.Lineage)
}

func TestEngine_ApplyDrift(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	e := newEngine(fs)
	opts := stagingOptions()

	_, err := e.Apply(ctx, opts)
	require.NoError(t, err)

	e.Reader = serviceReader{desiredCount: 1}
	res, err := e.Apply(ctx, opts)
	require.NoError(t, err, "in sync resources do not block")
	assert.Equal(t, 1, res.Drift.Checked)

	e.Reader = serviceReader{desiredCount: 5}
	opts.DesiredCount = 3
	res, err = e.Apply(ctx, opts)
	require.Error(t, err)
	assert.Equal(t, 3, engine_errs.ExitCode(err))
	require.Len(t, res.Drift.Drifts, 1)
	assert.Equal(t, serviceId, res.Drift.Drifts[0].Resource)

	recorded, err := e.State.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recorded.Serial, "drift stops the apply before state is written")
}

func TestEngine_Destroy(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	e := newEngine(fs)

	_, err := e.Apply(ctx, stagingOptions())
	require.NoError(t, err)

	res, err := e.Destroy(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, []construct.ResourceId{tableId}, res.Retained)
	assert.Zero(t, res.Plan.Count(plan.ActionCreate))

	recorded, err := e.State.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, recorded)

	res, err = e.Destroy(ctx, "staging")
	require.NoError(t, err)
	assert.True(t, res.Plan.Empty(), "nothing left to destroy")
}

func TestEngine_DestroyDeletesTable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(afero.NewMemMapFs())
	opts := stagingOptions()
	opts.TableRetention = resources.DestroyOnDelete

	_, err := e.Apply(ctx, opts)
	require.NoError(t, err)

	res, err := e.Destroy(ctx, "staging")
	require.NoError(t, err)
	assert.Empty(t, res.Retained)
	assert.Equal(t, res.Plan.Count(plan.ActionDelete), len(res.Plan.Changes))
}

func TestEngine_EnvironmentMismatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine(afero.NewMemMapFs())

	_, err := e.Apply(ctx, stagingOptions())
	require.NoError(t, err)

	opts := stagingOptions()
	opts.Environment = "prod"
	_, err = e.Plan(ctx, opts)
	var cerr engine_errs.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "environment", cerr.Key)
}

func TestEngine_Drift(t *testing.T) {
	ctx := context.Background()
	e := newEngine(afero.NewMemMapFs())

	_, err := e.Drift(ctx, "staging")
	assert.Error(t, err, "drift needs a reader")

	e.Reader = serviceReader{desiredCount: 1}
	res, err := e.Drift(ctx, "staging")
	require.NoError(t, err)
	assert.Zero(t, res.Drift.Checked, "nothing recorded yet")

	_, err = e.Apply(ctx, stagingOptions())
	require.NoError(t, err)
	res, err = e.Drift(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drift.Checked)
}

func TestEngine_Synth(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := newEngine(fs)

	res, err := e.Synth(stagingOptions())
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "template.yaml", res.Files[0].Path)

	exists, err := afero.Exists(fs, DefaultStateLocation("staging"))
	require.NoError(t, err)
	assert.False(t, exists, "synth does not record state")
}

func TestNewBackend(t *testing.T) {
	fs := afero.NewMemMapFs()

	b, err := NewBackend(fs, ".coursestack/prod.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, state.FileBackend{Fs: fs, Path: ".coursestack/prod.yaml"}, b)

	_, err = NewBackend(fs, "s3://stacks/prod.yaml", nil)
	assert.Equal(t, 2, engine_errs.ExitCode(err), "s3 needs a client")

	_, err = NewBackend(fs, "s3://stacks", func() (S3Client, error) { return nil, nil })
	assert.Equal(t, 2, engine_errs.ExitCode(err), "s3 needs a key")

	p, err := NewPublisher(fs, "out/prod", nil)
	require.NoError(t, err)
	assert.Equal(t, "out/prod", p.Location())
}
