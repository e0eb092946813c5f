package deploy

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/nixup-tools/nixup/pkg/nix"
	"go.uber.org/zap"
)

// RebuildRequest carries everything one rebuild invocation was asked to
// do. The zero value is a plain local rebuild of the auto-detected
// configuration.
type RebuildRequest struct {
	Installable nix.Installable
	// ExplicitName selects the configuration inside the tree instead of
	// auto-detection (--hostname for os/darwin, --configuration for
	// home).
	ExplicitName string
	ExtraArgs    []string

	Ask    bool
	Dry    bool
	NoNom  bool
	NoDiff bool

	OutLink          string
	Specialisation   string
	NoSpecialisation bool

	TargetHost string
	BuildHost  string

	// BackupExtension is exported to the home-manager activation
	// program as HOME_MANAGER_BACKUP_EXT.
	BackupExtension string
	WithBootloader  bool
	BypassRootCheck bool
}

// Rebuild runs the build-and-activate pipeline for the given variant.
// The states run strictly in order; dry-run and build-only variants stop
// after the diff and still succeed.
func (o *Orchestrator) Rebuild(ctx context.Context, variant Variant, req RebuildRequest) error {
	log := o.operationLogger("rebuild").With(zap.String("variant", variant.String()))
	if err := o.checkNotRoot(req.BypassRootCheck); err != nil {
		return err
	}

	st := phaseResolveInstallable
	log.Info("state update", zap.String("newState", string(st)))
	ins, err := o.resolveInstallable(ctx, log, req.Installable, req.ExplicitName,
		o.platform.BuildAttribute(variant, req.WithBootloader))
	if err != nil {
		return err
	}

	st = o.transition(log, st, phaseBuild)
	out, err := NewOutputPath(req.OutLink)
	if err != nil {
		return err
	}
	// The ephemeral result link must outlive every state that
	// dereferences the built path, including boot registration, so
	// cleanup happens only when the whole pipeline is done.
	defer func() {
		if err := out.Cleanup(); err != nil {
			log.Warn("unable to clean up output link", zap.Error(err))
		}
	}()
	var builders string
	if req.BuildHost != "" {
		builders = fmt.Sprintf("ssh://%s - - - 100", req.BuildHost)
	}
	err = o.tc.Build(ctx, ins, out.Path(), BuildOptions{
		ExtraArgs:  req.ExtraArgs,
		Builders:   builders,
		NoProgress: req.NoNom,
		Message:    "building configuration " + ins.String(),
	})
	if err != nil {
		return fmt.Errorf("building %s: %w", ins, err)
	}

	st = o.transition(log, st, phaseResolveSpecialisation)
	spec := o.resolveSpecialisation(log, req.Specialisation, req.NoSpecialisation)
	target := out.Path()
	if spec != "" {
		target = path.Join(target, "specialisation", spec)
	}

	st = o.transition(log, st, phaseDiff)
	if err := o.diffAgainstCurrent(ctx, log, target, req); err != nil {
		return err
	}

	if req.Dry || variant.buildOnly() {
		if req.Ask {
			log.Warn("confirmation was requested but there is nothing to confirm, ignoring --ask",
				zap.String("variant", variant.String()), zap.Bool("dry", req.Dry))
		}
		if variant == VariantBuildVM && !req.Dry {
			log.Info("virtual machine built", zap.String("runner", path.Join(target, "bin")))
		}
		o.transition(log, st, phaseDone)
		return nil
	}

	st = o.transition(log, st, phaseConfirm)
	if req.Ask {
		accepted, err := o.confirm(ctx, "Apply the new configuration?")
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !accepted {
			return ErrUserRejected
		}
	}

	if req.TargetHost != "" {
		st = o.transition(log, st, phaseCopyRemote)
		if err := o.tc.Copy(ctx, out.Path(), req.TargetHost); err != nil {
			return fmt.Errorf("copying to %s: %w", req.TargetHost, err)
		}
	}

	if err := o.activateVariant(ctx, log, &st, variant, out.Path(), target, req); err != nil {
		return err
	}
	o.transition(log, st, phaseDone)
	return nil
}

// activateVariant runs the Activate and RegisterBoot states that apply
// to the platform and variant. artifact is the built toplevel, target
// the same path with the specialisation applied.
func (o *Orchestrator) activateVariant(ctx context.Context, log *zap.Logger, st *phase, variant Variant, artifact, target string, req RebuildRequest) error {
	switch o.platform.Name {
	case "home":
		*st = o.transition(log, *st, phaseActivate)
		act := Activation{
			Program: path.Join(target, "activate"),
			Host:    req.TargetHost,
			Message: "activating home configuration",
		}
		if req.BackupExtension != "" {
			act.SetEnv = map[string]string{"HOME_MANAGER_BACKUP_EXT": req.BackupExtension}
		}
		if err := o.tc.Activate(ctx, act); err != nil {
			return fmt.Errorf("activating configuration: %w", err)
		}
		return nil

	case "darwin":
		// darwin-rebuild reads the profile, so registration precedes
		// activation here.
		*st = o.transition(log, *st, phaseActivate)
		if err := o.tc.RegisterProfile(ctx, o.platform.SystemProfile, artifact, req.TargetHost); err != nil {
			return fmt.Errorf("registering profile %s: %w", o.platform.SystemProfile, err)
		}
		act := Activation{
			Program: path.Join(artifact, "sw", "bin", "darwin-rebuild"),
			Args:    []string{"activate"},
			Elevate: o.darwinNeedsElevation(log, artifact),
			Host:    req.TargetHost,
			SetEnv:  o.identityEnv(),
			Message: "activating system configuration",
		}
		if err := o.tc.Activate(ctx, act); err != nil {
			return fmt.Errorf("activating configuration: %w", err)
		}
		return nil

	default:
		if variant == VariantSwitch || variant == VariantTest {
			*st = o.transition(log, *st, phaseActivate)
			act := Activation{
				Program: path.Join(target, "bin", "switch-to-configuration"),
				Args:    []string{"test"},
				Elevate: true,
				Host:    req.TargetHost,
				SetEnv:  o.identityEnv(),
				Message: "activating configuration",
			}
			if err := o.tc.Activate(ctx, act); err != nil {
				return fmt.Errorf("activating configuration: %w", err)
			}
		}
		if variant == VariantSwitch || variant == VariantBoot {
			*st = o.transition(log, *st, phaseRegisterBoot)
			if err := o.tc.RegisterProfile(ctx, o.platform.SystemProfile, artifact, req.TargetHost); err != nil {
				return fmt.Errorf("registering profile %s: %w", o.platform.SystemProfile, err)
			}
			// Boot entries come from the unspecialised toplevel.
			act := Activation{
				Program: path.Join(artifact, "bin", "switch-to-configuration"),
				Args:    []string{"boot"},
				Elevate: true,
				Host:    req.TargetHost,
				SetEnv:  o.identityEnv(),
				Message: "registering boot entries",
			}
			if err := o.tc.Activate(ctx, act); err != nil {
				return fmt.Errorf("registering boot entries: %w", err)
			}
		}
		return nil
	}
}

// resolveSpecialisation picks the specialisation for this deployment: an
// explicit override wins, then the marker file naming the currently
// active specialisation. A missing marker is a fresh install, not an
// error.
func (o *Orchestrator) resolveSpecialisation(log *zap.Logger, explicit string, disabled bool) string {
	if disabled {
		return ""
	}
	if explicit != "" {
		return explicit
	}
	if o.platform.SpecMarker == "" {
		return ""
	}
	raw, err := util.ReadFile(o.fs, o.platform.SpecMarker)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("unable to read specialisation marker",
				zap.String("marker", o.platform.SpecMarker), zap.Error(err))
		}
		return ""
	}
	spec, _, _ := strings.Cut(string(raw), "\n")
	return strings.TrimSpace(spec)
}

// diffAgainstCurrent diffs the new configuration against the active one.
// The step is skipped when disabled, when the configuration is destined
// for another host (the local baseline would be meaningless), and on
// fresh installs with no active configuration. Diff-tool failures are
// fatal unless the platform runs a lenient diff.
func (o *Orchestrator) diffAgainstCurrent(ctx context.Context, log *zap.Logger, newPath string, req RebuildRequest) error {
	if req.NoDiff {
		log.Debug("diff disabled, skipping")
		return nil
	}
	if req.TargetHost != "" || (req.ExplicitName != "" && o.env.Hostname != "" && req.ExplicitName != o.env.Hostname && o.platform.Name != "home") {
		log.Debug("configuration targets another host, skipping diff",
			zap.String("name", req.ExplicitName), zap.String("targetHost", req.TargetHost))
		return nil
	}
	current := o.currentSystem()
	if current == "" {
		log.Info("no active configuration found, skipping diff")
		return nil
	}
	if err := o.tc.Diff(ctx, current, newPath); err != nil {
		if o.platform.LenientDiff {
			log.Warn("unable to diff against the active configuration", zap.Error(err))
			return nil
		}
		return fmt.Errorf("diffing against %s: %w", current, err)
	}
	return nil
}

// currentSystem returns the first existing candidate path of the active
// configuration, or empty on a fresh install.
func (o *Orchestrator) currentSystem() string {
	for _, candidate := range o.platform.CurrentSystems {
		if _, err := o.fs.Lstat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// identityEnv pins the invoking user's identity across the elevation
// boundary.
func (o *Orchestrator) identityEnv() map[string]string {
	env := make(map[string]string, 2)
	if o.env.Username != "" {
		env["USER"] = o.env.Username
	}
	if o.env.Home != "" {
		env["HOME"] = o.env.Home
	}
	return env
}

// darwinNeedsElevation probes the artifact's activate-user script: when
// it is missing or carries the deprecation marker, activation must run
// elevated.
func (o *Orchestrator) darwinNeedsElevation(log *zap.Logger, artifact string) bool {
	raw, err := util.ReadFile(o.fs, path.Join(artifact, "activate-user"))
	if err != nil {
		return true
	}
	deprecated := strings.Contains(string(raw), "deprecated")
	if deprecated {
		log.Debug("activate-user script is deprecated, elevating activation")
	}
	return deprecated
}

func (o *Orchestrator) checkNotRoot(bypass bool) error {
	if !o.platform.RootCheck || bypass {
		return nil
	}
	if os.Geteuid() == 0 {
		return ErrRunAsRoot
	}
	return nil
}
