package cmd

import (
	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/spf13/cobra"
)

// replSpec is the per-family variation of the repl subcommand: how the
// platform is constructed, how the configuration inside the tree is
// named, and which environment variables may override the flake.
type replSpec struct {
	platformFn func() (deploy.Platform, error)
	// nameFn maps the selector flag's value to the configuration name
	// probed in the tree. Returning empty enables auto-detection.
	nameFn    func(flag string) string
	flagName  string
	flagShort string
	flagUsage string
	envVars   []string
}

func newReplCmd(spec replSpec) *cobra.Command {
	var (
		cfg      rebuildConfig
		explicit string
	)

	cmd := &cobra.Command{
		Use:   "repl [installable] [-- nix args...]",
		Short: "Open an interactive evaluator session on the configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, extraArgs, err := parseInstallable(cmd, args, &cfg, spec.envVars...)
			if err != nil {
				return err
			}
			platform, err := spec.platformFn()
			if err != nil {
				return err
			}
			o, err := newOrchestrator(cmd.Context(), platform, false)
			if err != nil {
				return err
			}
			return o.Repl(cmd.Context(), ins, spec.nameFn(explicit), extraArgs)
		},
	}

	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "Evaluate the configuration from this Nix file instead of a flake.")
	cmd.Flags().StringVar(&cfg.expr, "expr", "", "Evaluate the configuration from this Nix expression instead of a flake.")
	cmd.MarkFlagsMutuallyExclusive("file", "expr")
	cmd.Flags().StringVarP(&explicit, spec.flagName, spec.flagShort, "", spec.flagUsage)
	return cmd
}

func newOSReplCmd() *cobra.Command {
	return newReplCmd(replSpec{
		platformFn: func() (deploy.Platform, error) { return deploy.OSPlatform(), nil },
		nameFn:     osHostname,
		flagName:   "hostname",
		flagShort:  "H",
		flagUsage:  "Which configuration in the tree to open (default: the system hostname).",
		envVars:    osFlakeVars,
	})
}
