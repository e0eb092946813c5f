// Package deploy sequences the deployment pipeline: resolve a
// configuration reference, build it, diff it against the active
// configuration, confirm, activate, register it as the boot default and
// copy it to remote hosts, plus the reverse operation of rolling a
// profile back to an earlier generation. Everything that touches the
// outside world goes through the Toolchain boundary.
package deploy

import (
	"context"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/nixup-tools/nixup/pkg/generations"
	"go.uber.org/zap"
)

// phase names one state of the rebuild or rollback machine. Phases are
// strictly sequential within an operation; the transition log is the
// operator's trace of how far a failed run got.
type phase string

const (
	phaseResolveInstallable    phase = "ResolveInstallable"
	phaseBuild                 phase = "Build"
	phaseResolveSpecialisation phase = "ResolveSpecialisation"
	phaseDiff                  phase = "Diff"
	phaseConfirm               phase = "Confirm"
	phaseCopyRemote            phase = "CopyRemote"
	phaseActivate              phase = "Activate"
	phaseRegisterBoot          phase = "RegisterBoot"
	phaseSelectTarget          phase = "SelectTarget"
	phaseRepointProfile        phase = "RepointProfile"
	phaseDone                  phase = "Done"
)

// ConfirmFunc blocks for a yes/no answer from the operator.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Config assembles an Orchestrator's collaborators.
type Config struct {
	Platform  Platform
	Toolchain Toolchain
	// Filesystem backs marker-file and current-profile probes. Defaults
	// to the host filesystem.
	Filesystem billy.Filesystem
	Registry   *generations.Registry
	// Confirm is consulted only when an operation requests interactive
	// confirmation.
	Confirm ConfirmFunc
	Env     Env
}

// Orchestrator runs rebuild, rollback and repl operations for one
// platform. It holds no cross-operation state; the profile symlink is
// the only durable thing it ever mutates, and only through the
// Toolchain.
type Orchestrator struct {
	logger   *zap.Logger
	platform Platform
	tc       Toolchain
	fs       billy.Filesystem
	registry *generations.Registry
	confirm  ConfirmFunc
	env      Env
}

func New(logger *zap.Logger, cfg Config) *Orchestrator {
	if cfg.Filesystem == nil {
		cfg.Filesystem = osfs.New("/")
	}
	if cfg.Registry == nil {
		cfg.Registry = generations.NewRegistry(cfg.Filesystem, logger, 1)
	}
	return &Orchestrator{
		logger:   logger,
		platform: cfg.Platform,
		tc:       cfg.Toolchain,
		fs:       cfg.Filesystem,
		registry: cfg.Registry,
		confirm:  cfg.Confirm,
		env:      cfg.Env,
	}
}

// operationLogger tags every log line of one operation with a unique id
// so interleaved output from the external tools can be attributed.
func (o *Orchestrator) operationLogger(operation string) *zap.Logger {
	return o.logger.With(
		zap.String("operation", operation),
		zap.String("id", uuid.New().String()),
		zap.String("platform", o.platform.Name),
	)
}

func (o *Orchestrator) transition(log *zap.Logger, from, to phase) phase {
	log.Info("state update",
		zap.String("oldState", string(from)),
		zap.String("newState", string(to)),
	)
	return to
}
