package supmcu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

// ModuleRegistry owns the modules known on one bus. byAddress is the
// canonical set; byName and byCmdName are rebuilt from it on every
// mutation so the three views can never disagree.
type ModuleRegistry struct {
	mu        sync.RWMutex
	byAddress map[uint16]*types.ModuleDefinition
	byName    map[string]*types.ModuleDefinition
	byCmdName map[string]*types.ModuleDefinition
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byAddress: make(map[uint16]*types.ModuleDefinition),
		byName:    make(map[string]*types.ModuleDefinition),
		byCmdName: make(map[string]*types.ModuleDefinition),
	}
}

func nameKey(s string) string { return strings.ToLower(s) }

// conflicts reports a module other than the one at skip that shares an
// identity field with def.
func (r *ModuleRegistry) conflicts(def *types.ModuleDefinition, skip *types.ModuleDefinition) error {
	if other, ok := r.byAddress[def.Address]; ok && other != skip {
		return fmt.Errorf("%w: address 0x%02X already used by %s", ErrDuplicateModule, def.Address, other.CmdName)
	}
	if other, ok := r.byName[nameKey(def.Name)]; ok && other != skip {
		return fmt.Errorf("%w: name %q already used at 0x%02X", ErrDuplicateModule, def.Name, other.Address)
	}
	if other, ok := r.byCmdName[nameKey(def.CmdName)]; ok && other != skip {
		return fmt.Errorf("%w: cmd_name %q already used at 0x%02X", ErrDuplicateModule, def.CmdName, other.Address)
	}
	return nil
}

func (r *ModuleRegistry) reindex() {
	r.byName = make(map[string]*types.ModuleDefinition, len(r.byAddress))
	r.byCmdName = make(map[string]*types.ModuleDefinition, len(r.byAddress))
	for _, def := range r.byAddress {
		r.byName[nameKey(def.Name)] = def
		r.byCmdName[nameKey(def.CmdName)] = def
	}
}

// Register adds a new module. Address, name and cmd_name must all be free.
func (r *ModuleRegistry) Register(def *types.ModuleDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conflicts(def, nil); err != nil {
		return err
	}
	r.byAddress[def.Address] = def
	r.reindex()
	return nil
}

// Replace swaps the module at def.Address, e.g. after re-discovery.
// Clashes with other modules are still rejected.
func (r *ModuleRegistry) Replace(def *types.ModuleDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conflicts(def, r.byAddress[def.Address]); err != nil {
		return err
	}
	r.byAddress[def.Address] = def
	r.reindex()
	return nil
}

func (r *ModuleRegistry) Remove(addr uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byAddress[addr]; !ok {
		return false
	}
	delete(r.byAddress, addr)
	r.reindex()
	return true
}

// Resolve finds a module by cmd_name, then by name, then by address
// ("0x52" or "82").
func (r *ModuleRegistry) Resolve(ref string) (*types.ModuleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := nameKey(strings.TrimSpace(ref))
	if def, ok := r.byCmdName[key]; ok {
		return def, nil
	}
	if def, ok := r.byName[key]; ok {
		return def, nil
	}
	if addr, err := strconv.ParseUint(key, 0, 16); err == nil {
		if def, ok := r.byAddress[uint16(addr)]; ok {
			return def, nil
		}
	}
	return nil, &UnknownModuleError{Ref: ref}
}

func (r *ModuleRegistry) ByAddress(addr uint16) (*types.ModuleDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byAddress[addr]
	return def, ok
}

// List returns all modules ordered by address.
func (r *ModuleRegistry) List() []*types.ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.ModuleDefinition, 0, len(r.byAddress))
	for _, def := range r.byAddress {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}
