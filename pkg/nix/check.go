package nix

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
)

// Minimum supported versions. Lix forked before the nix-command
// stabilization work landed, so it carries its own floor.
const (
	minNixVersion = "2.26.1"
	minLixVersion = "2.91.0"
)

// Environment variables supplying a default installable per platform, in
// "reference#attribute" syntax. The platform-specific variable wins over
// the generic one.
const (
	EnvFlake       = "NIXUP_FLAKE"
	EnvOSFlake     = "NIXUP_OS_FLAKE"
	EnvHomeFlake   = "NIXUP_HOME_FLAKE"
	EnvDarwinFlake = "NIXUP_DARWIN_FLAKE"
	envLegacyFlake = "FLAKE"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// CaptureFunc runs a command and returns its trimmed stdout. It is the
// only capability the preflight checks need from the process runner.
type CaptureFunc func(ctx context.Context, name string, args ...string) (string, error)

// VersionInfo describes the installed nix binary.
type VersionInfo struct {
	Version string
	Lix     bool
}

// InspectVersion runs "nix --version" and extracts the version from the
// first output line. Lix identifies itself in the version banner.
func InspectVersion(ctx context.Context, capture CaptureFunc) (VersionInfo, error) {
	out, err := capture(ctx, "nix", "--version")
	if err != nil {
		return VersionInfo{}, fmt.Errorf("running nix --version: %w", err)
	}
	line, _, _ := strings.Cut(out, "\n")
	version := versionPattern.FindString(line)
	if version == "" {
		return VersionInfo{}, fmt.Errorf("%w: %q", ErrVersionNotFound, line)
	}
	return VersionInfo{
		Version: version,
		Lix:     strings.Contains(strings.ToLower(out), "lix"),
	}, nil
}

// CheckVersion verifies the installed binary meets the minimum supported
// version for its flavor.
func CheckVersion(ctx context.Context, capture CaptureFunc) error {
	info, err := InspectVersion(ctx, capture)
	if err != nil {
		return err
	}
	name, minVersion := "nix", minNixVersion
	if info.Lix {
		name, minVersion = "lix", minLixVersion
	}
	if semver.Compare("v"+info.Version, "v"+minVersion) < 0 {
		return fmt.Errorf("%w: %s %s, minimum supported is %s",
			ErrOutdatedVersion, name, info.Version, minVersion)
	}
	return nil
}

// CheckFeatures verifies the experimental features the deployment flow
// depends on are enabled. Lix still ships repl-flake, which current Nix
// removed.
func CheckFeatures(ctx context.Context, capture CaptureFunc) error {
	info, err := InspectVersion(ctx, capture)
	if err != nil {
		return err
	}
	required := []string{"nix-command", "flakes"}
	if info.Lix {
		required = append(required, "repl-flake")
	}

	out, err := capture(ctx, "nix", "config", "show", "experimental-features")
	if err != nil {
		return fmt.Errorf("reading experimental features: %w", err)
	}
	enabled := make(map[string]struct{})
	for _, f := range strings.Fields(out) {
		enabled[f] = struct{}{}
	}
	for _, f := range required {
		if _, ok := enabled[f]; !ok {
			return fmt.Errorf("%w: enable %s", ErrMissingFeatures, strings.Join(required, ", "))
		}
	}
	return nil
}

// Verify runs the version and feature preflight checks concurrently and
// fails on the first check that does.
func Verify(ctx context.Context, capture CaptureFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return CheckVersion(ctx, capture) })
	g.Go(func() error { return CheckFeatures(ctx, capture) })
	return g.Wait()
}

// MigrateFlakeEnv seeds NIXUP_FLAKE from the legacy FLAKE variable when
// only the latter is set. It reports whether a deprecation warning should
// be shown: the legacy variable drove the value and no platform-specific
// override would shadow it anyway.
func MigrateFlakeEnv(lookup func(string) (string, bool), set func(string, string) error) (bool, error) {
	legacy, ok := lookup(envLegacyFlake)
	if !ok || legacy == "" {
		return false, nil
	}
	if _, ok := lookup(EnvFlake); ok {
		return false, nil
	}
	if err := set(EnvFlake, legacy); err != nil {
		return false, fmt.Errorf("setting %s: %w", EnvFlake, err)
	}
	for _, v := range []string{EnvOSFlake, EnvHomeFlake, EnvDarwinFlake} {
		if _, ok := lookup(v); ok {
			return false, nil
		}
	}
	return true, nil
}
