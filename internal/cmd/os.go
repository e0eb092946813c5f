package cmd

import (
	"os"

	"github.com/nixup-tools/nixup/pkg/deploy"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/spf13/cobra"
)

var osFlakeVars = []string{nix.EnvOSFlake, nix.EnvFlake}

func newOSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "os",
		Short: "Build, activate and inspect NixOS system configurations",
	}

	cmd.AddCommand(newOSRebuildCmd(deploy.VariantSwitch, "switch [installable] [-- nix args...]",
		"Build the configuration, activate it, and make it the boot default"))
	cmd.AddCommand(newOSRebuildCmd(deploy.VariantBoot, "boot [installable] [-- nix args...]",
		"Build the configuration and make it the boot default without activating it"))
	cmd.AddCommand(newOSRebuildCmd(deploy.VariantTest, "test [installable] [-- nix args...]",
		"Build and activate the configuration without touching the boot default"))
	cmd.AddCommand(newOSRebuildCmd(deploy.VariantBuild, "build [installable] [-- nix args...]",
		"Build the configuration without activating it"))
	cmd.AddCommand(newOSRebuildCmd(deploy.VariantBuildVM, "build-vm [installable] [-- nix args...]",
		"Build a virtual machine running the configuration"))
	cmd.AddCommand(newOSReplCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newOSRollbackCmd())
	return cmd
}

func newOSRebuildCmd(variant deploy.Variant, use, short string) *cobra.Command {
	var (
		cfg            rebuildConfig
		hostname       string
		withBootloader bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, extraArgs, err := parseInstallable(cmd, args, &cfg, osFlakeVars...)
			if err != nil {
				return err
			}
			o, err := newOrchestrator(cmd.Context(), deploy.OSPlatform(), cfg.dry)
			if err != nil {
				return err
			}
			req := cfg.toRequest(ins, osHostname(hostname), extraArgs)
			req.WithBootloader = withBootloader
			return o.Rebuild(cmd.Context(), variant, req)
		},
	}

	addRebuildFlags(cmd, &cfg)
	addRemoteFlags(cmd, &cfg)
	cmd.Flags().StringVarP(&hostname, "hostname", "H", "", "Which configuration in the tree to build (default: the system hostname).")
	if variant == deploy.VariantBuildVM {
		cmd.Flags().BoolVar(&withBootloader, "with-bootloader", false, "Build a virtual machine with a boot loader.")
	}
	return cmd
}

// osHostname is the configuration name probed in the tree: the
// explicit flag, or the system hostname.
func osHostname(flag string) string {
	if flag != "" {
		return flag
	}
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}
	return hostname
}
