package deploy

import (
	"context"
	"fmt"
	"path"

	"github.com/nixup-tools/nixup/pkg/generations"
	"go.uber.org/zap"
)

// RollbackRequest selects the generation to return to. To picks an exact
// generation number; zero means the one before the current generation.
type RollbackRequest struct {
	To uint64

	Ask    bool
	Dry    bool
	NoDiff bool

	Specialisation   string
	NoSpecialisation bool
	BypassRootCheck  bool
}

// Rollback repoints the platform's system profile at an earlier
// generation and activates it. The profile pointer is the only durable
// mutation; if activating the target generation fails, the pointer is
// repointed back at the generation that was current when the operation
// started, so the profile never ends up referencing a generation whose
// activation did not succeed.
func (o *Orchestrator) Rollback(ctx context.Context, req RollbackRequest) error {
	log := o.operationLogger("rollback")
	if err := o.checkNotRoot(req.BypassRootCheck); err != nil {
		return err
	}
	profile := o.platform.SystemProfile

	st := phaseSelectTarget
	log.Info("state update", zap.String("newState", string(st)))
	var target generations.Generation
	var err error
	if req.To != 0 {
		target, err = o.registry.ByNumber(ctx, profile, req.To)
	} else {
		target, err = o.registry.Previous(ctx, profile)
	}
	if err != nil {
		return err
	}
	log.Info("selected rollback target",
		zap.Uint64("generation", target.Number),
		zap.String("path", target.Path),
	)

	// The repoint destroys the only record of where the profile pointed,
	// so the current number is captured now to make the activation
	// failure path revertible.
	prevNumber, prevErr := o.registry.CurrentNumber(ctx, profile)
	if prevErr != nil {
		log.Warn("unable to determine the current generation, a failed activation will not be reverted",
			zap.Error(prevErr))
	}

	st = o.transition(log, st, phaseResolveSpecialisation)
	spec := o.resolveSpecialisation(log, req.Specialisation, req.NoSpecialisation)
	targetPath := target.Path
	if spec != "" {
		targetPath = path.Join(targetPath, "specialisation", spec)
	}

	st = o.transition(log, st, phaseDiff)
	if req.NoDiff {
		log.Debug("diff disabled, skipping")
	} else if current := o.currentSystem(); current == "" {
		log.Info("no active configuration found, skipping diff")
	} else if err := o.tc.Diff(ctx, current, targetPath); err != nil {
		return fmt.Errorf("diffing against %s: %w", targetPath, err)
	}

	if req.Dry {
		if req.Ask {
			log.Warn("confirmation was requested but there is nothing to confirm, ignoring --ask")
		}
		o.transition(log, st, phaseDone)
		return nil
	}

	st = o.transition(log, st, phaseConfirm)
	if req.Ask {
		accepted, err := o.confirm(ctx, fmt.Sprintf("Roll back to generation %d?", target.Number))
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !accepted {
			return ErrUserRejected
		}
	}

	st = o.transition(log, st, phaseRepointProfile)
	if err := o.tc.RepointProfile(ctx, profile, target.Link); err != nil {
		return fmt.Errorf("repointing profile %s: %w", profile, err)
	}

	st = o.transition(log, st, phaseActivate)
	act := Activation{
		Program: path.Join(targetPath, "bin", "switch-to-configuration"),
		Args:    []string{"switch"},
		Elevate: true,
		SetEnv:  o.identityEnv(),
		Message: fmt.Sprintf("activating generation %d", target.Number),
	}
	if err := o.tc.Activate(ctx, act); err != nil {
		actErr := fmt.Errorf("activating generation %d: %w", target.Number, err)
		if prevErr != nil {
			return actErr
		}
		log.Warn("activation failed, reverting the profile",
			zap.Uint64("generation", prevNumber), zap.Error(err))
		revert := generations.LinkPath(profile, prevNumber)
		if rerr := o.tc.RepointProfile(ctx, profile, revert); rerr != nil {
			return fmt.Errorf("%w (and reverting the profile to generation %d failed: %v)",
				actErr, prevNumber, rerr)
		}
		return actErr
	}
	o.transition(log, st, phaseDone)
	return nil
}
