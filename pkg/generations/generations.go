// Package generations discovers and orders the immutable configuration
// snapshots recorded beside a profile symlink. Generations are created by
// the external builder when it links a new profile entry; this package
// only ever reads the profile directory.
package generations

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	linkSuffix = "-link"
	// Deep symlink chains beneath a profile indicate a cycle.
	maxLinkDepth = 40
)

// Generation is one numbered snapshot recorded for a profile. Path is the
// fully resolved snapshot location while Link is the profile-relative
// symlink the snapshot was discovered through; the profile is repointed
// at Link, never at Path, so the generation numbering stays visible in
// the pointer itself.
type Generation struct {
	Number      uint64    `json:"number"`
	Path        string    `json:"path"`
	Link        string    `json:"link"`
	Current     bool      `json:"current"`
	Created     time.Time `json:"created"`
	Description string    `json:"description,omitempty"`
	Kernel      string    `json:"kernel,omitempty"`
}

// LinkPath returns the symlink name the profile's naming convention
// assigns to generation n, e.g. /nix/var/nix/profiles/system-42-link.
func LinkPath(profile string, n uint64) string {
	return fmt.Sprintf("%s-%d%s", profile, n, linkSuffix)
}

// Registry reads generations from the directory holding a profile
// symlink. It never mutates anything.
type Registry struct {
	fs      billy.Filesystem
	logger  *zap.Logger
	workers int
}

func NewRegistry(fs billy.Filesystem, logger *zap.Logger, workers int) *Registry {
	if workers < 1 {
		workers = 1
	}
	return &Registry{fs: fs, logger: logger, workers: workers}
}

// List scans the profile's directory for entries matching the
// {name}-{number}-link convention and returns them in discovery order.
// Callers that need an ordering must sort by Number themselves. The
// entry whose resolved target equals the profile's own resolved target
// is flagged current. Metadata beyond the link itself (creation time,
// description, kernel version) is enriched best-effort and never fails
// the listing.
func (r *Registry) List(ctx context.Context, profile string) ([]Generation, error) {
	fi, err := r.fs.Lstat(profile)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return nil, fmt.Errorf("%w: %q is not a profile symlink", ErrProfileNotFound, profile)
	}
	currentTarget, err := r.resolve(profile)
	if err != nil {
		return nil, fmt.Errorf("resolving profile %q: %w", profile, err)
	}

	dir, name := path.Dir(profile), path.Base(profile)
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile directory %q: %w", dir, err)
	}

	var gens []Generation
	for _, entry := range entries {
		number, ok := parseLinkName(name, entry.Name())
		if !ok {
			continue
		}
		link := path.Join(dir, entry.Name())
		target, err := r.resolve(link)
		if err != nil {
			r.logger.Debug("skipping unresolvable generation link",
				zap.String("link", link), zap.Error(err))
			continue
		}
		gens = append(gens, Generation{
			Number:  number,
			Path:    target,
			Link:    link,
			Current: target == currentTarget,
			Created: entry.ModTime(),
		})
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range gens {
		g.Go(func() error {
			r.describe(&gens[i])
			return nil
		})
	}
	g.Wait()
	return gens, nil
}

// Previous returns the generation immediately preceding the current one
// in number order.
func (r *Registry) Previous(ctx context.Context, profile string) (Generation, error) {
	gens, err := r.List(ctx, profile)
	if err != nil {
		return Generation{}, err
	}
	if len(gens) == 0 {
		return Generation{}, fmt.Errorf("%w for profile %q", ErrNoGenerations, profile)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].Number < gens[j].Number })
	current := -1
	for i, gen := range gens {
		if gen.Current {
			current = i
			break
		}
	}
	if current < 0 {
		return Generation{}, fmt.Errorf("%w for profile %q", ErrCurrentNotFound, profile)
	}
	if current == 0 {
		return Generation{}, ErrNoOlderGeneration
	}
	return gens[current-1], nil
}

// ByNumber returns the generation with the exact number n.
func (r *Registry) ByNumber(ctx context.Context, profile string, n uint64) (Generation, error) {
	gens, err := r.List(ctx, profile)
	if err != nil {
		return Generation{}, err
	}
	for _, gen := range gens {
		if gen.Number == n {
			return gen, nil
		}
	}
	return Generation{}, fmt.Errorf("%w: generation %d", ErrGenerationNotFound, n)
}

// CurrentNumber returns the number of the generation flagged current.
func (r *Registry) CurrentNumber(ctx context.Context, profile string) (uint64, error) {
	gens, err := r.List(ctx, profile)
	if err != nil {
		return 0, err
	}
	for _, gen := range gens {
		if gen.Current {
			return gen.Number, nil
		}
	}
	return 0, fmt.Errorf("%w for profile %q", ErrCurrentNotFound, profile)
}

// describe fills in the optional metadata read from the snapshot itself:
// the version marker file and the kernel module tree a NixOS toplevel
// carries. Both are absent for other platforms and that is fine.
func (r *Registry) describe(gen *Generation) {
	if raw, err := util.ReadFile(r.fs, path.Join(gen.Path, "nixos-version")); err == nil {
		gen.Description = strings.TrimSpace(string(raw))
	}
	modules, err := r.fs.ReadDir(path.Join(gen.Path, "kernel-modules", "lib", "modules"))
	if err == nil && len(modules) > 0 {
		gen.Kernel = modules[0].Name()
	}
}

// resolve follows symlinks until a non-link is reached, interpreting
// relative targets against the link's own directory.
func (r *Registry) resolve(p string) (string, error) {
	for range maxLinkDepth {
		fi, err := r.fs.Lstat(p)
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return p, nil
		}
		target, err := r.fs.Readlink(p)
		if err != nil {
			return "", err
		}
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(p), target)
		}
		p = target
	}
	return "", fmt.Errorf("too many levels of symbolic links: %q", p)
}

// parseLinkName extracts the generation number from an entry named
// {profile}-{number}-link. Anything else in the directory is skipped.
func parseLinkName(profile, entry string) (uint64, bool) {
	rest, ok := strings.CutPrefix(entry, profile+"-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, linkSuffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
