package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xtrntr/swappool/internal/pool"
)

var _ pool.AccessControl = (*Roles)(nil)

// State is the persisted role assignment
type State struct {
	Administrator string
	Spare         string
	Oracles       map[string]string // identity -> label
}

// Persister stores role changes. Writes happen before the in-memory update,
// so a failed write leaves the roles untouched.
type Persister interface {
	SaveAdministrator(ctx context.Context, identity string) error
	SaveOracles(ctx context.Context, oracles map[string]string) error
	DeleteOracles(ctx context.Context, identities []string) error
}

// Roles is the pool's access control. The spare authority may replace the
// administrator; the administrator manages the oracle set.
type Roles struct {
	mu            sync.RWMutex
	administrator string
	spare         string
	oracles       map[string]string
	persist       Persister
}

// NewRoles creates Roles from a loaded state. persist may be nil.
func NewRoles(state State, persist Persister) *Roles {
	oracles := make(map[string]string, len(state.Oracles))
	for id, label := range state.Oracles {
		if id = strings.TrimSpace(id); id != "" {
			oracles[id] = label
		}
	}
	return &Roles{
		administrator: strings.TrimSpace(state.Administrator),
		spare:         strings.TrimSpace(state.Spare),
		oracles:       oracles,
		persist:       persist,
	}
}

func (r *Roles) IsOracle(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.oracles[identity]
	return ok
}

func (r *Roles) IsAdministrator(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return identity != "" && identity == r.administrator
}

func (r *Roles) IsSpare(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return identity != "" && identity == r.spare
}

// Administrator returns the current administrator identity
func (r *Roles) Administrator() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.administrator
}

// Oracle is a registered oracle identity and its label
type Oracle struct {
	Identity string `json:"identity"`
	Label    string `json:"label"`
}

// Oracles lists the registered oracles sorted by identity
func (r *Roles) Oracles() []Oracle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Oracle, 0, len(r.oracles))
	for id, label := range r.oracles {
		out = append(out, Oracle{Identity: id, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// SetAdministrator replaces the administrator. Only the spare authority may
// call it.
func (r *Roles) SetAdministrator(ctx context.Context, caller, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller == "" || caller != r.spare {
		return fmt.Errorf("%q is not the spare authority: %w", caller, pool.ErrUnauthorized)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("administrator: %w", pool.ErrInvalidIdentity)
	}
	if r.persist != nil {
		if err := r.persist.SaveAdministrator(ctx, identity); err != nil {
			return fmt.Errorf("failed to save administrator: %w", err)
		}
	}
	r.administrator = identity
	return nil
}

// RegisterOracles adds or relabels oracles. Only the administrator may call it.
func (r *Roles) RegisterOracles(ctx context.Context, caller string, oracles map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller == "" || caller != r.administrator {
		return fmt.Errorf("%q is not the administrator: %w", caller, pool.ErrUnauthorized)
	}
	clean := make(map[string]string, len(oracles))
	for id, label := range oracles {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("oracle: %w", pool.ErrInvalidIdentity)
		}
		clean[id] = label
	}
	if len(clean) == 0 {
		return nil
	}
	if r.persist != nil {
		if err := r.persist.SaveOracles(ctx, clean); err != nil {
			return fmt.Errorf("failed to save oracles: %w", err)
		}
	}
	for id, label := range clean {
		r.oracles[id] = label
	}
	return nil
}

// UnregisterOracles removes oracles. Unknown identities are ignored.
func (r *Roles) UnregisterOracles(ctx context.Context, caller string, identities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller == "" || caller != r.administrator {
		return fmt.Errorf("%q is not the administrator: %w", caller, pool.ErrUnauthorized)
	}
	known := make([]string, 0, len(identities))
	for _, id := range identities {
		if _, ok := r.oracles[id]; ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if r.persist != nil {
		if err := r.persist.DeleteOracles(ctx, known); err != nil {
			return fmt.Errorf("failed to delete oracles: %w", err)
		}
	}
	for _, id := range known {
		delete(r.oracles, id)
	}
	return nil
}
