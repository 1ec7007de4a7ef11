// Package fleet holds the static robot identity table and the mapping between
// transport topics and robot identities.
package fleet

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// DefaultSuffix is the mDNS suffix robots usually carry in configured hostnames.
const DefaultSuffix = ".local"

var (
	// ErrEmptyFleet is returned when no robots are configured.
	ErrEmptyFleet = errors.New("fleet: no robots configured")
	// ErrOutOfRange is returned for a robot index outside the configured fleet.
	ErrOutOfRange = errors.New("fleet: robot index out of range")
)

// Identity is the stable logical identity of one configured robot.
type Identity struct {
	Index          int    `json:"index"`
	CanonicalName  string `json:"name"`
	TransportAlias string `json:"alias"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s#%d", id.CanonicalName, id.Index)
}

// Registry is the immutable, ordered table of configured robots.
type Registry struct {
	suffix     string
	identities []Identity
}

// NewRegistry builds a registry from the configured hostnames in order.
// The suffix is stripped from hostnames to form transport aliases.
func NewRegistry(hostnames []string, suffix string) (*Registry, error) {
	if len(hostnames) == 0 {
		return nil, ErrEmptyFleet
	}
	seen := make(map[string]int, len(hostnames))
	r := &Registry{suffix: suffix, identities: make([]Identity, 0, len(hostnames))}
	for i, h := range hostnames {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("fleet: robot %d has an empty hostname", i)
		}
		if prev, ok := seen[h]; ok {
			return nil, fmt.Errorf("fleet: hostname %q configured twice (robots %d and %d)", h, prev, i)
		}
		seen[h] = i
		r.identities = append(r.identities, Identity{
			Index:          i,
			CanonicalName:  h,
			TransportAlias: stripSuffix(h, suffix),
		})
	}
	return r, nil
}

// Len returns the number of configured robots.
func (r *Registry) Len() int { return len(r.identities) }

// Suffix returns the environment suffix used for alias derivation.
func (r *Registry) Suffix() string { return r.suffix }

// ResolveByIndex returns the identity at position i.
func (r *Registry) ResolveByIndex(i int) (Identity, error) {
	if i < 0 || i >= len(r.identities) {
		return Identity{}, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, len(r.identities))
	}
	return r.identities[i], nil
}

// All yields every identity in configuration order.
func (r *Registry) All() iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		for _, id := range r.identities {
			if !yield(id) {
				return
			}
		}
	}
}

// Contains reports whether id is the identity registered at id.Index.
func (r *Registry) Contains(id Identity) bool {
	if id.Index < 0 || id.Index >= len(r.identities) {
		return false
	}
	return r.identities[id.Index] == id
}

func stripSuffix(name, suffix string) string {
	if suffix == "" {
		return name
	}
	return strings.TrimSuffix(name, suffix)
}
