package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repoaudit/internal/app"
	"repoaudit/internal/config"
	"repoaudit/internal/pipeline"
)

// cli holds the state shared by every subcommand.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	v          *viper.Viper
	configPath string
	fakeModel  bool
	keepPacing bool
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut, v: viper.New()}

	root := &cobra.Command{
		Use:           "repoaudit",
		Short:         "Audit a public GitHub repository with a generative model",
		Long:          "repoaudit estimates a repository's size, samples its manifests and sources, and asks the model for a health score with concrete findings.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Optional path to a YAML configuration file.")
	pf.String("log-level", "", "Override the configured log level.")
	pf.String("log-format", "", "Override the configured log format (structured or console).")
	pf.String("github-token", "", "GitHub token sent with every API call.")
	pf.BoolVar(&c.fakeModel, "fake-model", false, "Answer with a canned report instead of calling the model.")
	pf.BoolVar(&c.keepPacing, "pacing", false, "Keep the cosmetic delays between stages.")
	_ = c.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = c.v.BindPFlag("github.token", pf.Lookup("github-token"))

	root.AddCommand(c.previewCommand(), c.auditCommand())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(c.v, c.configPath)
	if err != nil {
		return nil, err
	}
	if c.fakeModel {
		cfg.Model.Provider = config.ProviderFake
	}
	if !c.keepPacing {
		cfg.Pacing = pipeline.Pacing{}
	}
	return cfg, nil
}

func (c *cli) components() (app.Components, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return app.Components{}, err
	}
	comps, _, err := app.Build(cfg)
	return comps, err
}

func (c *cli) preflight() (app.Preflight, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return app.Preflight{}, err
	}
	return app.BuildPreflight(cfg)
}
