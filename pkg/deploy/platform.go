package deploy

import "fmt"

// Variant selects how far a rebuild goes: build-only variants end after
// the diff, test activates without touching the boot default, boot only
// registers the boot default, and switch does both.
type Variant int

const (
	VariantSwitch Variant = iota
	VariantBoot
	VariantTest
	VariantBuild
	VariantBuildVM
)

func (v Variant) String() string {
	switch v {
	case VariantSwitch:
		return "switch"
	case VariantBoot:
		return "boot"
	case VariantTest:
		return "test"
	case VariantBuild:
		return "build"
	case VariantBuildVM:
		return "build-vm"
	}
	return "unknown"
}

// buildOnly reports whether the pipeline terminates after the diff step.
func (v Variant) buildOnly() bool {
	return v == VariantBuild || v == VariantBuildVM
}

// Platform describes one deployment flavor: where its configurations
// live in the evaluation tree, which profile records its generations,
// and how strict its diff step is. The activation mechanics that do not
// fit in data (program location, elevation rules) are selected by Name
// in the orchestrator.
type Platform struct {
	Name string
	// ConfigAttribute is the root of the configuration tree, e.g.
	// nixosConfigurations.
	ConfigAttribute string
	// SystemProfile is the profile recording this platform's
	// generations; empty when the activation program manages its own
	// profile (home-manager does).
	SystemProfile string
	// CurrentSystems are candidate paths of the currently active
	// configuration, probed in order for the diff baseline.
	CurrentSystems []string
	// SpecMarker is the file naming the active specialisation; empty
	// when the platform has no specialisations.
	SpecMarker string
	// LenientDiff downgrades diff-tool failures to a logged warning.
	LenientDiff bool
	// RootCheck refuses to run the pipeline as root.
	RootCheck bool
	// RemoteSupported allows --target-host and --build-host.
	RemoteSupported bool

	buildAttr func(v Variant, withBootloader bool) []string
}

// BuildAttribute returns the attribute path from a named configuration
// down to the derivation the variant builds.
func (p Platform) BuildAttribute(v Variant, withBootloader bool) []string {
	return p.buildAttr(v, withBootloader)
}

func OSPlatform() Platform {
	return Platform{
		Name:            "os",
		ConfigAttribute: "nixosConfigurations",
		SystemProfile:   "/nix/var/nix/profiles/system",
		CurrentSystems:  []string{"/run/current-system"},
		SpecMarker:      "/etc/specialisation",
		RootCheck:       true,
		RemoteSupported: true,
		buildAttr: func(v Variant, withBootloader bool) []string {
			attr := "toplevel"
			if v == VariantBuildVM {
				attr = "vm"
				if withBootloader {
					attr = "vmWithBootLoader"
				}
			}
			return []string{"config", "system", "build", attr}
		},
	}
}

// HomePlatform needs the invoking user's identity: home-manager records
// generations in per-user profiles and keeps its specialisation marker
// under the user's home.
func HomePlatform(env Env) (Platform, error) {
	user, err := env.user()
	if err != nil {
		return Platform{}, err
	}
	home, err := env.home()
	if err != nil {
		return Platform{}, err
	}
	return Platform{
		Name:            "home",
		ConfigAttribute: "homeConfigurations",
		CurrentSystems: []string{
			fmt.Sprintf("/nix/var/nix/profiles/per-user/%s/home-manager", user),
			home + "/.local/state/nix/profiles/home-manager",
		},
		SpecMarker:  home + "/.local/share/home-manager/specialisation",
		LenientDiff: true,
		buildAttr: func(Variant, bool) []string {
			return []string{"config", "home", "activationPackage"}
		},
	}, nil
}

func DarwinPlatform() Platform {
	return Platform{
		Name:            "darwin",
		ConfigAttribute: "darwinConfigurations",
		SystemProfile:   "/nix/var/nix/profiles/system",
		CurrentSystems:  []string{"/run/current-system"},
		buildAttr: func(Variant, bool) []string {
			return []string{"toplevel"}
		},
	}
}
