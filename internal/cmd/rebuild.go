package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/nixup-tools/nixup/internal/cmdfmt"
	"github.com/nixup-tools/nixup/internal/config"
	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/nixup-tools/nixup/pkg/generations"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/nixup-tools/nixup/pkg/runner"
	"github.com/spf13/cobra"
)

// rebuildConfig collects the flags shared by every rebuild-style
// command. Platform families add their own selectors on top.
type rebuildConfig struct {
	ask    bool
	dry    bool
	noNom  bool
	noDiff bool

	outLink string
	file    string
	expr    string

	specialisation   string
	noSpecialisation bool

	targetHost string
	buildHost  string

	bypassRootCheck bool
}

func addRebuildFlags(cmd *cobra.Command, cfg *rebuildConfig) {
	cmd.Flags().BoolVarP(&cfg.ask, "ask", "a", false, "Ask for confirmation before activating the new configuration.")
	cmd.Flags().BoolVarP(&cfg.dry, "dry", "n", false, "Build the new configuration and show what changed, but do not activate it.")
	cmd.Flags().BoolVar(&cfg.noNom, "no-nom", false, "Do not pipe build output through nom (nix-output-monitor).")
	cmd.Flags().BoolVar(&cfg.noDiff, "no-diff", false, "Do not compare the new configuration against the active one.")
	cmd.Flags().StringVarP(&cfg.outLink, "out-link", "o", "", "Where to create the build result link. Defaults to a temporary location cleaned up when the command finishes.")
	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "Build the configuration from this Nix file instead of a flake.")
	cmd.Flags().StringVar(&cfg.expr, "expr", "", "Build the configuration from this Nix expression instead of a flake.")
	cmd.Flags().StringVarP(&cfg.specialisation, "specialisation", "s", "", "Activate this specialisation of the configuration instead of the one recorded as active.")
	cmd.Flags().BoolVarP(&cfg.noSpecialisation, "no-specialisation", "S", false, "Activate the base configuration even when a specialisation is recorded as active.")
	cmd.Flags().BoolVar(&cfg.bypassRootCheck, "bypass-root-check", false, "Allow running as root.")
	cmd.MarkFlagsMutuallyExclusive("specialisation", "no-specialisation")
	cmd.MarkFlagsMutuallyExclusive("file", "expr")
}

func addRemoteFlags(cmd *cobra.Command, cfg *rebuildConfig) {
	cmd.Flags().StringVar(&cfg.targetHost, "target-host", "", "Copy the built configuration to this host (user@hostname) and activate it there.")
	cmd.Flags().StringVar(&cfg.buildHost, "build-host", "", "Build the configuration on this host (user@hostname) instead of locally.")
}

func (c *rebuildConfig) toRequest(ins nix.Installable, explicitName string, extraArgs []string) deploy.RebuildRequest {
	return deploy.RebuildRequest{
		Installable:      ins,
		ExplicitName:     explicitName,
		ExtraArgs:        extraArgs,
		Ask:              c.ask,
		Dry:              c.dry,
		NoNom:            c.noNom,
		NoDiff:           c.noDiff,
		OutLink:          c.outLink,
		Specialisation:   c.specialisation,
		NoSpecialisation: c.noSpecialisation,
		TargetHost:       c.targetHost,
		BuildHost:        c.buildHost,
		BypassRootCheck:  c.bypassRootCheck,
	}
}

// parseInstallable determines what to build from the positional
// arguments, the file/expr selectors, and the flake override
// environment variables. Arguments after "--" are handed to the
// builder verbatim.
func parseInstallable(cmd *cobra.Command, args []string, cfg *rebuildConfig, envVars ...string) (nix.Installable, []string, error) {
	positional := args
	var extraArgs []string
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		positional = args[:at]
		extraArgs = args[at:]
	}

	var ref string
	if len(positional) > 0 {
		ref = positional[0]
	}

	switch {
	case cfg.file != "" || cfg.expr != "":
		attr, err := nix.ParseAttribute(ref)
		if err != nil {
			return nix.Installable{}, nil, err
		}
		if cfg.expr != "" {
			return nix.Expression(cfg.expr, attr...), extraArgs, nil
		}
		return nix.File(cfg.file, attr...), extraArgs, nil

	case strings.HasPrefix(ref, "/"):
		return nix.Store(ref), extraArgs, nil

	case ref != "":
		ins, err := nix.ParseFlakeRef(ref)
		if err != nil {
			return nix.Installable{}, nil, err
		}
		return ins, extraArgs, nil
	}

	ins, ok, err := nix.FromEnv(os.LookupEnv, envVars...)
	if err != nil {
		return nix.Installable{}, nil, err
	}
	if ok {
		return ins, extraArgs, nil
	}
	return nix.Flake("."), extraArgs, nil
}

// newOrchestrator assembles the production pipeline for one platform.
func newOrchestrator(ctx context.Context, platform deploy.Platform, dry bool) (*deploy.Orchestrator, error) {
	log, err := config.GetLogger()
	if err != nil {
		return nil, err
	}
	global, err := config.GetGlobal()
	if err != nil {
		return nil, err
	}
	env := deploy.SystemEnv()
	fs := osfs.New("/")
	tc := deploy.NewToolchain(log.Logger,
		deploy.WithDry(dry),
		deploy.WithElevator(runner.DetectElevator(ctx, log.Logger, env.SudoAskpass)),
	)
	return deploy.New(log.Logger, deploy.Config{
		Platform:   platform,
		Toolchain:  tc,
		Filesystem: fs,
		Registry:   generations.NewRegistry(fs, log.Logger, global.NumWorkers),
		Confirm:    cmdfmt.Confirm,
		Env:        env,
	}), nil
}
