package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	clicommon "github.com/klothoplatform/free-courses-infra/pkg/cli_common"
	"github.com/klothoplatform/free-courses-infra/pkg/config"
	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	"github.com/klothoplatform/free-courses-infra/pkg/dot"
	"github.com/klothoplatform/free-courses-infra/pkg/engine"
	"github.com/klothoplatform/free-courses-infra/pkg/infra/cfn"
	"github.com/klothoplatform/free-courses-infra/pkg/logging"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/live"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type stackCli struct {
	common clicommon.CommonConfig

	configPath     string
	templateFormat string
	skipDrift      bool
	graphSvg       string
	// flags holds the values set on the command line. Only flags the user changed are merged.
	flags        config.StackConfig
	desiredCount int

	fs     afero.Fs
	awsCfg *aws.Config
}

func (sc *stackCli) AddStackCli(root *cobra.Command) {
	clicommon.SetupRoot(root, &sc.common)

	flags := root.PersistentFlags()
	flags.StringVarP(&sc.configPath, "config", "c", "", "Stack configuration file (.yaml, .json or .toml)")
	flags.StringVarP(&sc.flags.Environment, "env", "e", "", "Environment name, prefixed to every physical name")
	flags.StringVar(&sc.flags.Region, "region", "", "AWS region")
	flags.StringVar(&sc.flags.Profile, "profile", "", "AWS shared config profile")
	flags.StringVar(&sc.flags.ServiceVersion, "service-version", "", "Container image tag to deploy")
	flags.StringVar(&sc.flags.Variant, "variant", "", "Stack variant: full, no-edge or data-only")
	flags.StringVar(&sc.flags.State, "state", "", "State location, a file or s3://bucket/key")
	flags.StringVarP(&sc.flags.Output, "output", "o", "", "Template location, a directory or s3://bucket/prefix")
	flags.StringVar(&sc.flags.Endpoint, "endpoint", "", "AWS endpoint override")
	flags.IntVar(&sc.desiredCount, "desired-count", 0, "Number of service tasks")
	flags.StringVar(&sc.templateFormat, "template-format", string(cfn.FormatYAML), "Template format: yaml or json")

	stackGroup := &cobra.Group{
		ID:    "stack",
		Title: "stack",
	}
	validateCmd := &cobra.Command{
		Use:     "validate",
		Short:   "Compose the stack and check its resource graph",
		GroupID: stackGroup.ID,
		RunE:    sc.Validate,
	}
	synthCmd := &cobra.Command{
		Use:     "synth",
		Short:   "Render the stack template without recording state",
		GroupID: stackGroup.ID,
		RunE:    sc.Synth,
	}
	planCmd := &cobra.Command{
		Use:     "plan",
		Short:   "Show the changes an apply would make",
		GroupID: stackGroup.ID,
		RunE:    sc.Plan,
	}
	applyCmd := &cobra.Command{
		Use:     "apply",
		Short:   "Publish the stack template and record the new state",
		GroupID: stackGroup.ID,
		RunE:    sc.Apply,
	}
	applyCmd.Flags().BoolVar(&sc.skipDrift, "skip-drift", false, "Do not check recorded resources for drift before applying")
	destroyCmd := &cobra.Command{
		Use:     "destroy",
		Short:   "Remove the stack, keeping retained resources",
		GroupID: stackGroup.ID,
		RunE:    sc.Destroy,
	}
	driftCmd := &cobra.Command{
		Use:     "drift",
		Short:   "Compare recorded resources with the live account",
		GroupID: stackGroup.ID,
		RunE:    sc.Drift,
	}

	graphCmd := &cobra.Command{
		Use:     "graph",
		Short:   "Print the resource dependency graph in DOT format",
		GroupID: stackGroup.ID,
		RunE:    sc.Graph,
	}
	graphCmd.Flags().StringVar(&sc.graphSvg, "svg", "", "Render to an SVG file with graphviz instead")

	root.AddGroup(stackGroup)
	root.AddCommand(validateCmd, synthCmd, planCmd, applyCmd, destroyCmd, driftCmd, graphCmd)
}

// loadConfig layers the configuration file, the `COURSESTACK_*` environment and the command line flags, in
// increasing precedence.
func (sc *stackCli) loadConfig(cmd *cobra.Command) (config.StackConfig, error) {
	var cfg config.StackConfig
	if sc.configPath != "" {
		var err error
		cfg, err = config.ReadConfig(sc.configPath)
		if err != nil {
			return cfg, err
		}
	}
	env, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Merge(env)

	flags := sc.flags
	if cmd.Flags().Changed("desired-count") {
		flags.Service.DesiredCount = &sc.desiredCount
	}
	cfg.Merge(flags)
	return cfg, nil
}

func (sc *stackCli) aws(ctx context.Context, cfg config.StackConfig) (aws.Config, error) {
	if sc.awsCfg != nil {
		return *sc.awsCfg, nil
	}
	awsCfg, err := live.LoadConfig(ctx, live.ClientOptions{
		Region:   cfg.Region,
		Profile:  cfg.Profile,
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		return awsCfg, err
	}
	sc.awsCfg = &awsCfg
	return awsCfg, nil
}

// newEngine wires the engine for `cfg`, without a live reader.
func (sc *stackCli) newEngine(ctx context.Context, cfg config.StackConfig) (*engine.Engine, error) {
	if sc.fs == nil {
		sc.fs = afero.NewOsFs()
	}
	s3Client := func() (engine.S3Client, error) {
		awsCfg, err := sc.aws(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return live.NewS3Client(awsCfg, cfg.Endpoint != ""), nil
	}

	stateLocation := cfg.State
	if stateLocation == "" {
		stateLocation = engine.DefaultStateLocation(cfg.Environment)
	}
	backend, err := engine.NewBackend(sc.fs, stateLocation, s3Client)
	if err != nil {
		return nil, err
	}
	output := cfg.Output
	if output == "" {
		output = engine.DefaultOutputDir
	}
	publisher, err := engine.NewPublisher(sc.fs, output, s3Client)
	if err != nil {
		return nil, err
	}

	return &engine.Engine{
		State:     backend,
		Publisher: publisher,
		Plugin: cfn.Plugin{
			Description: "free courses service",
			Format:      cfn.Format(sc.templateFormat),
		},
		Region: cfg.Region,
	}, nil
}

func (sc *stackCli) attachReader(ctx context.Context, cfg config.StackConfig, e *engine.Engine) error {
	awsCfg, err := sc.aws(ctx, cfg)
	if err != nil {
		return err
	}
	e.Reader = live.NewAWSReader(awsCfg)
	if e.Region == "" {
		e.Region = awsCfg.Region
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithLogger(ctx, zap.L())
}

// setup loads the configuration and wires the engine.
func (sc *stackCli) setup(cmd *cobra.Command) (context.Context, config.StackConfig, *engine.Engine, error) {
	ctx := commandContext(cmd)
	cfg, err := sc.loadConfig(cmd)
	if err != nil {
		return ctx, cfg, nil, err
	}
	e, err := sc.newEngine(ctx, cfg)
	return ctx, cfg, e, err
}

// setupStack is [setup] for commands that compose the stack.
func (sc *stackCli) setupStack(cmd *cobra.Command) (context.Context, config.StackConfig, coursestack.Options, *engine.Engine, error) {
	ctx, cfg, e, err := sc.setup(cmd)
	if err != nil {
		return ctx, cfg, coursestack.Options{}, nil, err
	}
	opts, err := cfg.ToOptions()
	return ctx, cfg, opts, e, err
}

func (sc *stackCli) Validate(cmd *cobra.Command, args []string) error {
	_, _, opts, e, err := sc.setupStack(cmd)
	if err != nil {
		return err
	}
	s, err := e.Validate(opts)
	if err != nil {
		return err
	}
	n, err := s.Graph.Order()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stack is valid: %d resources.\n", n)
	return nil
}

func (sc *stackCli) Synth(cmd *cobra.Command, args []string) error {
	ctx, _, opts, e, err := sc.setupStack(cmd)
	if err != nil {
		return err
	}
	res, err := e.Synth(opts)
	if err != nil {
		return err
	}
	if err := e.Publisher.Publish(ctx, res.Files); err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s to %s\n", f.Path, e.Publisher.Location())
	}
	return nil
}

func (sc *stackCli) Plan(cmd *cobra.Command, args []string) error {
	ctx, _, opts, e, err := sc.setupStack(cmd)
	if err != nil {
		return err
	}
	res, err := e.Plan(ctx, opts)
	if err != nil {
		return err
	}
	return res.Plan.Render(cmd.OutOrStdout())
}

func (sc *stackCli) Apply(cmd *cobra.Command, args []string) error {
	ctx, cfg, opts, e, err := sc.setupStack(cmd)
	if err != nil {
		return err
	}
	if !sc.skipDrift && (cfg.Region != "" || cfg.Endpoint != "") {
		if err := sc.attachReader(ctx, cfg, e); err != nil {
			return err
		}
	} else {
		logging.GetLogger(ctx).Sugar().Named("engine").Debug("drift check skipped")
	}
	res, err := e.Apply(ctx, opts)
	if res != nil && res.Plan != nil {
		if rerr := res.Plan.Render(cmd.OutOrStdout()); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (sc *stackCli) Destroy(cmd *cobra.Command, args []string) error {
	ctx, cfg, e, err := sc.setup(cmd)
	if err != nil {
		return err
	}
	res, err := e.Destroy(ctx, cfg.Environment)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := res.Plan.Render(out); err != nil {
		return err
	}
	for _, id := range res.Retained {
		fmt.Fprintf(out, "Retained %s\n", id)
	}
	return nil
}

func (sc *stackCli) Drift(cmd *cobra.Command, args []string) error {
	ctx, cfg, e, err := sc.setup(cmd)
	if err != nil {
		return err
	}
	if err := sc.attachReader(ctx, cfg, e); err != nil {
		return err
	}
	res, err := e.Drift(ctx, cfg.Environment)
	if res != nil && res.Drift != nil {
		writeDrift(cmd.OutOrStdout(), res)
	}
	return err
}

func (sc *stackCli) Graph(cmd *cobra.Command, args []string) error {
	_, _, opts, e, err := sc.setupStack(cmd)
	if err != nil {
		return err
	}
	s, err := e.Validate(opts)
	if err != nil {
		return err
	}
	if sc.graphSvg == "" {
		return dot.WriteGraph(s.Graph, cmd.OutOrStdout())
	}
	buf := new(bytes.Buffer)
	if err := dot.WriteSVG(s.Graph, buf); err != nil {
		return err
	}
	return afero.WriteFile(sc.fs, sc.graphSvg, buf.Bytes(), 0644)
}

func writeDrift(w io.Writer, res *engine.Result) {
	r := res.Drift
	if len(r.Drifts) == 0 {
		fmt.Fprintf(w, "No drift in %d resources (%d not checked).\n", r.Checked, r.Skipped)
		return
	}
	fmt.Fprintf(w, "%d drifted attributes in %d resources:\n", len(r.Drifts), r.Checked)
	for _, d := range r.Drifts {
		fmt.Fprintf(w, "  %s %s: expected %v, found %v\n", d.Resource, d.Attribute, d.Expected, d.Actual)
	}
}
