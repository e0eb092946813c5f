package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/nixup-tools/nixup/pkg/generations"
	"github.com/nixup-tools/nixup/pkg/nix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errActivation = errors.New("switch-to-configuration exited with status 1")

// fakeToolchain records every boundary call in order. attrs lists the
// configuration names the fake evaluation tree contains.
type fakeToolchain struct {
	calls []string
	attrs map[string]bool

	buildErr    error
	diffErr     error
	activateErr error
	repointErr  error

	activations []Activation
	repoints    [][2]string
}

func (f *fakeToolchain) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeToolchain) Build(_ context.Context, ins nix.Installable, outLink string, _ BuildOptions) error {
	f.record("build %s", ins)
	return f.buildErr
}

func (f *fakeToolchain) Eval(_ context.Context, ins nix.Installable, apply string) (string, error) {
	f.record("eval %s %s", ins, apply)
	for name, present := range f.attrs {
		if present && apply == fmt.Sprintf("x: x ? %q", name) {
			return "true", nil
		}
	}
	return "false", nil
}

func (f *fakeToolchain) Diff(_ context.Context, oldPath, newPath string) error {
	f.record("diff %s %s", oldPath, newPath)
	return f.diffErr
}

func (f *fakeToolchain) Copy(_ context.Context, path, host string) error {
	f.record("copy %s %s", path, host)
	return nil
}

func (f *fakeToolchain) Activate(_ context.Context, act Activation) error {
	f.record("activate %s %v", act.Program, act.Args)
	f.activations = append(f.activations, act)
	return f.activateErr
}

func (f *fakeToolchain) RegisterProfile(_ context.Context, profile, path, host string) error {
	f.record("register %s %s", profile, path)
	return nil
}

func (f *fakeToolchain) RepointProfile(_ context.Context, profile, target string) error {
	f.record("repoint %s %s", profile, target)
	f.repoints = append(f.repoints, [2]string{profile, target})
	return f.repointErr
}

func (f *fakeToolchain) Repl(_ context.Context, ins nix.Installable, _ []string) error {
	f.record("repl %s", ins)
	return nil
}

func (f *fakeToolchain) callsNamed(prefix string) []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func confirmAnswering(answer bool) ConfirmFunc {
	return func(context.Context, string) (bool, error) { return answer, nil }
}

func confirmRefusingToRun(t *testing.T) ConfirmFunc {
	return func(context.Context, string) (bool, error) {
		t.Fatal("confirmation prompt must not be reached")
		return false, nil
	}
}

// newTestOrchestrator wires an orchestrator for the os platform against
// a memory filesystem holding an active system and generations 1..3
// with generation 3 current.
func newTestOrchestrator(t *testing.T, tc Toolchain, confirm ConfirmFunc) (*Orchestrator, billy.Filesystem) {
	t.Helper()

	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/nix/var/nix/profiles", 0o755))
	for n := 1; n <= 3; n++ {
		store := fmt.Sprintf("/nix/store/%03d-nixos-system", n)
		require.NoError(t, fs.MkdirAll(store, 0o755))
		require.NoError(t, fs.Symlink(store, generations.LinkPath("/nix/var/nix/profiles/system", uint64(n))))
	}
	require.NoError(t, fs.Symlink("system-3-link", "/nix/var/nix/profiles/system"))
	require.NoError(t, fs.Symlink("/nix/store/003-nixos-system", "/run/current-system"))

	logger := zap.NewNop()
	o := New(logger, Config{
		Platform:   OSPlatform(),
		Toolchain:  tc,
		Filesystem: fs,
		Registry:   generations.NewRegistry(fs, logger, 1),
		Confirm:    confirm,
		Env:        Env{Username: "alice", Home: "/home/alice", Hostname: "styx"},
	})
	return o, fs
}

func TestRebuildSwitchSequence(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmAnswering(true))

	err := o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
	})
	require.NoError(t, err)

	require.Len(t, tc.calls, 6)
	assert.Contains(t, tc.calls[0], "eval")
	assert.Equal(t, "build github:alice/config#nixosConfigurations.styx.config.system.build.toplevel", tc.calls[1])
	assert.Equal(t, "diff /run/current-system /tmp/result", tc.calls[2])
	assert.Equal(t, "activate /tmp/result/bin/switch-to-configuration [test]", tc.calls[3])
	assert.Equal(t, "register /nix/var/nix/profiles/system /tmp/result", tc.calls[4])
	assert.Equal(t, "activate /tmp/result/bin/switch-to-configuration [boot]", tc.calls[5])
}

func TestRebuildBootSkipsTestActivation(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rebuild(context.Background(), VariantBoot, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
	})
	require.NoError(t, err)

	require.Len(t, tc.activations, 1)
	assert.Equal(t, []string{"boot"}, tc.activations[0].Args)
}

func TestRebuildDryRunStopsAfterDiff(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
		Dry:          true,
		Ask:          true,
	})
	require.NoError(t, err)
	assert.Empty(t, tc.activations)
	assert.Empty(t, tc.callsNamed("register"))
	assert.Empty(t, tc.callsNamed("copy"))
	assert.Len(t, tc.callsNamed("diff"), 1)
}

func TestRebuildBuildOnlyIgnoresAsk(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rebuild(context.Background(), VariantBuild, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
		Ask:          true,
	})
	require.NoError(t, err)
	assert.Empty(t, tc.activations)
	assert.Len(t, tc.callsNamed("build"), 1)
}

func TestRebuildUserRejection(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmAnswering(false))

	err := o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
		Ask:          true,
	})
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.Empty(t, tc.activations)
	assert.Empty(t, tc.callsNamed("register"))
}

func TestRebuildCopiesBeforeActivation(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
		TargetHost:   "deploy@remote",
	})
	require.NoError(t, err)

	copies := tc.callsNamed("copy")
	require.Len(t, copies, 1)
	copyIdx, activateIdx := -1, -1
	for i, c := range tc.calls {
		switch {
		case c == copies[0]:
			copyIdx = i
		case activateIdx < 0 && strings.HasPrefix(c, "activate"):
			activateIdx = i
		}
	}
	require.GreaterOrEqual(t, activateIdx, 0)
	assert.Less(t, copyIdx, activateIdx, "copy must precede activation")
	// Remote deployments cannot be compared against the local system.
	assert.Empty(t, tc.callsNamed("diff"))
	for _, act := range tc.activations {
		assert.Equal(t, "deploy@remote", act.Host)
	}
}

func TestRebuildBuildFailureIsTerminal(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}, buildErr: errors.New("builder exited with status 1")}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:  nix.Flake("github:alice/config"),
		ExplicitName: "styx",
		OutLink:      "/tmp/result",
	})
	require.Error(t, err)
	assert.Empty(t, tc.callsNamed("diff"))
	assert.Empty(t, tc.activations)
}

func TestResolveInstallable(t *testing.T) {
	tests := []struct {
		name     string
		attrs    map[string]bool
		ins      nix.Installable
		explicit string
		wantAttr []string
		wantErr  string
	}{
		{
			name:     "explicit name present",
			attrs:    map[string]bool{"styx": true},
			ins:      nix.Flake("."),
			explicit: "styx",
			wantAttr: []string{"nixosConfigurations", "styx", "config", "system", "build", "toplevel"},
		},
		{
			name:     "explicit name absent is fatal and names the path",
			attrs:    map[string]bool{},
			ins:      nix.Flake("."),
			explicit: "missing",
			wantErr:  "nixosConfigurations.missing",
		},
		{
			name:     "auto-detect prefers user@host",
			attrs:    map[string]bool{"alice@styx": true, "alice": true},
			ins:      nix.Flake("."),
			wantAttr: []string{"nixosConfigurations", "alice@styx", "config", "system", "build", "toplevel"},
		},
		{
			name:     "auto-detect falls back to user",
			attrs:    map[string]bool{"alice": true},
			ins:      nix.Flake("."),
			wantAttr: []string{"nixosConfigurations", "alice", "config", "system", "build", "toplevel"},
		},
		{
			name:    "auto-detect failure lists every attempt",
			attrs:   map[string]bool{},
			ins:     nix.Flake("."),
			wantErr: "nixosConfigurations.alice@styx, nixosConfigurations.alice",
		},
		{
			name:     "existing attribute wins over resolution",
			attrs:    map[string]bool{"styx": true},
			ins:      nix.Flake(".", "nixosConfigurations", "other"),
			explicit: "styx",
			wantAttr: []string{"nixosConfigurations", "other"},
		},
		{
			name:     "store references pass through",
			ins:      nix.Store("/nix/store/abc"),
			wantAttr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &fakeToolchain{attrs: tt.attrs}
			o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

			got, err := o.resolveInstallable(context.Background(), zap.NewNop(), tt.ins, tt.explicit,
				[]string{"config", "system", "build", "toplevel"})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfigurationNotFound)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAttr, got.Attribute)
		})
	}
}

func TestResolveSpecialisation(t *testing.T) {
	tc := &fakeToolchain{}
	o, fs := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	t.Run("absent marker means none", func(t *testing.T) {
		assert.Empty(t, o.resolveSpecialisation(zap.NewNop(), "", false))
	})

	require.NoError(t, util.WriteFile(fs, "/etc/specialisation", []byte("nvidia\n"), 0o644))

	tests := []struct {
		name     string
		explicit string
		disabled bool
		want     string
	}{
		{name: "marker file content", want: "nvidia"},
		{name: "explicit override wins", explicit: "minimal", want: "minimal"},
		{name: "disabled wins over everything", explicit: "minimal", disabled: true, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.resolveSpecialisation(zap.NewNop(), tt.explicit, tt.disabled))
		})
	}
}

func TestRollbackToPrevious(t *testing.T) {
	tc := &fakeToolchain{}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rollback(context.Background(), RollbackRequest{NoDiff: true})
	require.NoError(t, err)

	require.Len(t, tc.repoints, 1)
	assert.Equal(t, [2]string{"/nix/var/nix/profiles/system", "/nix/var/nix/profiles/system-2-link"}, tc.repoints[0])
	require.Len(t, tc.activations, 1)
	assert.Equal(t, "/nix/store/002-nixos-system/bin/switch-to-configuration", tc.activations[0].Program)
	assert.Equal(t, []string{"switch"}, tc.activations[0].Args)
}

func TestRollbackDiffsSpecialisedTarget(t *testing.T) {
	tc := &fakeToolchain{}
	o, fs := newTestOrchestrator(t, tc, confirmRefusingToRun(t))
	require.NoError(t, util.WriteFile(fs, "/etc/specialisation", []byte("nvidia\n"), 0o644))

	err := o.Rollback(context.Background(), RollbackRequest{})
	require.NoError(t, err)

	diffs := tc.callsNamed("diff")
	require.Len(t, diffs, 1)
	assert.Equal(t, "diff /run/current-system /nix/store/002-nixos-system/specialisation/nvidia", diffs[0],
		"the diff must cover the specialisation that will be activated")
	require.Len(t, tc.activations, 1)
	assert.Equal(t, "/nix/store/002-nixos-system/specialisation/nvidia/bin/switch-to-configuration", tc.activations[0].Program)
}

func TestRollbackRevertsProfileOnActivationFailure(t *testing.T) {
	tc := &fakeToolchain{activateErr: errActivation}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rollback(context.Background(), RollbackRequest{NoDiff: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, errActivation, "the surfaced error must be the activation failure")

	require.Len(t, tc.repoints, 2)
	assert.Equal(t, "/nix/var/nix/profiles/system-2-link", tc.repoints[0][1])
	assert.Equal(t, "/nix/var/nix/profiles/system-3-link", tc.repoints[1][1], "profile must be reverted to the recorded generation")
}

func TestRollbackRevertFailureKeepsActivationError(t *testing.T) {
	tc := &fakeToolchain{activateErr: errActivation}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	// Fail only the second repoint (the revert).
	calls := 0
	wrapped := &revertFailingToolchain{fakeToolchain: tc, failFrom: 2, calls: &calls}
	o.tc = wrapped

	err := o.Rollback(context.Background(), RollbackRequest{NoDiff: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, errActivation)
	assert.Contains(t, err.Error(), "reverting the profile to generation 3 failed")
}

type revertFailingToolchain struct {
	*fakeToolchain
	failFrom int
	calls    *int
}

func (f *revertFailingToolchain) RepointProfile(ctx context.Context, profile, target string) error {
	*f.calls++
	if *f.calls >= f.failFrom {
		return errors.New("ln exited with status 1")
	}
	return f.fakeToolchain.RepointProfile(ctx, profile, target)
}

func TestRollbackByNumberMissing(t *testing.T) {
	tc := &fakeToolchain{}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rollback(context.Background(), RollbackRequest{To: 42})
	assert.ErrorIs(t, err, generations.ErrGenerationNotFound)
	assert.Empty(t, tc.repoints)
}

func TestRollbackWithoutOlderGeneration(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/nix/var/nix/profiles", 0o755))
	require.NoError(t, fs.MkdirAll("/nix/store/only", 0o755))
	require.NoError(t, fs.Symlink("/nix/store/only", "/nix/var/nix/profiles/system-1-link"))
	require.NoError(t, fs.Symlink("system-1-link", "/nix/var/nix/profiles/system"))

	tc := &fakeToolchain{}
	logger := zap.NewNop()
	o := New(logger, Config{
		Platform:   OSPlatform(),
		Toolchain:  tc,
		Filesystem: fs,
		Registry:   generations.NewRegistry(fs, logger, 1),
		Confirm:    confirmRefusingToRun(t),
	})

	err := o.Rollback(context.Background(), RollbackRequest{})
	assert.ErrorIs(t, err, generations.ErrNoOlderGeneration)
	assert.Empty(t, tc.repoints)
}

func TestRollbackDryRunStopsBeforeRepoint(t *testing.T) {
	tc := &fakeToolchain{}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Rollback(context.Background(), RollbackRequest{Dry: true, Ask: true, NoDiff: true})
	require.NoError(t, err)
	assert.Empty(t, tc.repoints)
	assert.Empty(t, tc.activations)
}

func TestReplRejectsStoreInstallables(t *testing.T) {
	tc := &fakeToolchain{}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Repl(context.Background(), nix.Store("/nix/store/abc"), "", nil)
	assert.ErrorIs(t, err, ErrStoreRepl)

	err = o.Repl(context.Background(), nix.System("/run/current-system"), "", nil)
	assert.ErrorIs(t, err, ErrStoreRepl)
}

func TestReplResolvesWithoutBuildAttribute(t *testing.T) {
	tc := &fakeToolchain{attrs: map[string]bool{"styx": true}}
	o, _ := newTestOrchestrator(t, tc, confirmRefusingToRun(t))

	err := o.Repl(context.Background(), nix.Flake("."), "styx", nil)
	require.NoError(t, err)
	repls := tc.callsNamed("repl")
	require.Len(t, repls, 1)
	assert.Equal(t, "repl .#nixosConfigurations.styx", repls[0])
}

func TestHomeActivation(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/home/alice", 0o755))

	tc := &fakeToolchain{attrs: map[string]bool{"alice@styx": true}}
	logger := zap.NewNop()
	env := Env{Username: "alice", Home: "/home/alice", Hostname: "styx"}
	platform, err := HomePlatform(env)
	require.NoError(t, err)
	o := New(logger, Config{
		Platform:   platform,
		Toolchain:  tc,
		Filesystem: fs,
		Registry:   generations.NewRegistry(fs, logger, 1),
		Confirm:    confirmRefusingToRun(t),
		Env:        env,
	})

	err = o.Rebuild(context.Background(), VariantSwitch, RebuildRequest{
		Installable:     nix.Flake("."),
		OutLink:         "/tmp/result",
		BackupExtension: "bak",
	})
	require.NoError(t, err)

	require.Len(t, tc.activations, 1)
	act := tc.activations[0]
	assert.Equal(t, "/tmp/result/activate", act.Program)
	assert.False(t, act.Elevate, "home activation never elevates")
	assert.Equal(t, "bak", act.SetEnv["HOME_MANAGER_BACKUP_EXT"])
	assert.Empty(t, tc.callsNamed("register"), "home-manager manages its own profile")
}

func TestHomePlatformRequiresIdentity(t *testing.T) {
	_, err := HomePlatform(Env{Home: "/home/alice"})
	assert.ErrorIs(t, err, ErrMissingEnv)

	_, err = HomePlatform(Env{Username: "alice"})
	assert.ErrorIs(t, err, ErrMissingEnv)
}

func TestDarwinElevationProbe(t *testing.T) {
	fs := memfs.New()
	tc := &fakeToolchain{}
	logger := zap.NewNop()
	o := New(logger, Config{
		Platform:   DarwinPlatform(),
		Toolchain:  tc,
		Filesystem: fs,
		Registry:   generations.NewRegistry(fs, logger, 1),
		Confirm:    confirmRefusingToRun(t),
	})

	assert.True(t, o.darwinNeedsElevation(zap.NewNop(), "/tmp/result"), "missing script elevates")

	require.NoError(t, util.WriteFile(fs, "/tmp/result/activate-user", []byte("#!/bin/sh\necho ok\n"), 0o755))
	assert.False(t, o.darwinNeedsElevation(zap.NewNop(), "/tmp/result"))

	require.NoError(t, util.WriteFile(fs, "/tmp/result/activate-user", []byte("# This script is deprecated\n"), 0o755))
	assert.True(t, o.darwinNeedsElevation(zap.NewNop(), "/tmp/result"))
}

func TestOutputPath(t *testing.T) {
	t.Run("explicit path is never cleaned up", func(t *testing.T) {
		p, err := NewOutputPath("/tmp/my-result")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/my-result", p.Path())
		assert.NoError(t, p.Cleanup())
	})

	t.Run("ephemeral path owns its directory", func(t *testing.T) {
		p, err := NewOutputPath("")
		require.NoError(t, err)
		assert.Contains(t, p.Path(), "nixup-")
		assert.True(t, strings.HasSuffix(p.Path(), "/result"))
		require.NoError(t, p.Cleanup())
	})
}
