package systems

import (
	"slices"

	"github.com/spaghettifunk/anima-rt/engine/assets"
)

/**
 * @brief Records which assets each composed asset read during its last
 * extraction. Touching a dependency marks its dependents for re-extraction.
 * Main thread only.
 */
type DependencyIndex struct {
	dependents   map[assets.Handle]map[assets.Handle]struct{}
	dependencies map[assets.Handle][]assets.Handle
	pending      map[assets.Handle]struct{}
}

func NewDependencyIndex() *DependencyIndex {
	return &DependencyIndex{
		dependents:   map[assets.Handle]map[assets.Handle]struct{}{},
		dependencies: map[assets.Handle][]assets.Handle{},
		pending:      map[assets.Handle]struct{}{},
	}
}

// Track replaces the dependencies recorded for dependent.
func (d *DependencyIndex) Track(dependent assets.Handle, deps []assets.Handle) {
	d.Forget(dependent)
	if len(deps) == 0 {
		return
	}
	d.dependencies[dependent] = slices.Clone(deps)
	for _, dep := range deps {
		set, ok := d.dependents[dep]
		if !ok {
			set = map[assets.Handle]struct{}{}
			d.dependents[dep] = set
		}
		set[dependent] = struct{}{}
	}
}

func (d *DependencyIndex) Forget(dependent assets.Handle) {
	for _, dep := range d.dependencies[dependent] {
		set := d.dependents[dep]
		delete(set, dependent)
		if len(set) == 0 {
			delete(d.dependents, dep)
		}
	}
	delete(d.dependencies, dependent)
}

// Dependents lists the assets that read dep, in handle order.
func (d *DependencyIndex) Dependents(dep assets.Handle) []assets.Handle {
	out := make([]assets.Handle, 0, len(d.dependents[dep]))
	for h := range d.dependents[dep] {
		out = append(out, h)
	}
	slices.SortFunc(out, assets.Handle.Compare)
	return out
}

// Touch marks every dependent of dep as changed and returns how many there are.
func (d *DependencyIndex) Touch(dep assets.Handle) int {
	for h := range d.dependents[dep] {
		d.pending[h] = struct{}{}
	}
	return len(d.dependents[dep])
}

// Take returns the dependents marked since the last call, in handle order.
func (d *DependencyIndex) Take() []assets.Handle {
	if len(d.pending) == 0 {
		return nil
	}
	out := make([]assets.Handle, 0, len(d.pending))
	for h := range d.pending {
		out = append(out, h)
	}
	clear(d.pending)
	slices.SortFunc(out, assets.Handle.Compare)
	return out
}
