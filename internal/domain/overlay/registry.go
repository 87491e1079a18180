package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

// Registry stores overlay definitions and enforces one active overlay per kind.
// It outlives recording sessions.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Def
	order     []string // registration order
	rendering map[string]Rendering
	active    map[Kind]string // kind -> id
	seq       map[string]uint64
	nextSeq   uint64
	log       logger.Logger
	onChange  func([]ActiveOverlay)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		defs:      make(map[string]Def),
		rendering: make(map[string]Rendering),
		active:    make(map[Kind]string),
		seq:       make(map[string]uint64),
		log:       logger.Named("overlay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a definition.
func (r *Registry) Register(def Def) error {
	d, err := def.normalize()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}
	r.defs[d.ID] = d
	r.order = append(r.order, d.ID)
	r.rendering[d.ID] = d.DefaultRendering
	r.log.Debug(context.Background(), "overlay registered",
		logger.String("id", d.ID),
		logger.String("kind", string(d.Kind)))
	return nil
}

// Activate enables an overlay, replacing any active overlay of the same kind.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	def, ok := r.defs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur := r.active[def.Kind]; cur == id {
		r.mu.Unlock()
		return nil
	} else if cur != "" {
		delete(r.seq, cur)
		r.log.Info(context.Background(), "overlay replaced",
			logger.String("kind", string(def.Kind)),
			logger.String("previous", cur),
			logger.String("id", id))
	}
	r.nextSeq++
	r.active[def.Kind] = id
	r.seq[id] = r.nextSeq
	snapshot := r.activeLocked()
	r.mu.Unlock()

	r.changed(snapshot)
	return nil
}

// Deactivate disables an overlay. Deactivating an inactive overlay is a no-op.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	def, ok := r.defs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.active[def.Kind] != id {
		r.mu.Unlock()
		return nil
	}
	delete(r.active, def.Kind)
	delete(r.seq, id)
	snapshot := r.activeLocked()
	r.mu.Unlock()

	r.changed(snapshot)
	return nil
}

// SetRendering applies a rendering patch. Values are clamped.
func (r *Registry) SetRendering(id string, patch RenderingPatch) (Rendering, error) {
	r.mu.Lock()
	cur, ok := r.rendering[id]
	if !ok {
		r.mu.Unlock()
		return Rendering{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := patch.Apply(cur)
	r.rendering[id] = next
	_, isActive := r.seq[id]
	var snapshot []ActiveOverlay
	if isActive {
		snapshot = r.activeLocked()
	}
	r.mu.Unlock()

	if isActive {
		r.changed(snapshot)
	}
	return next, nil
}

// Get returns a copy of a definition and its current rendering.
func (r *Registry) Get(id string) (ActiveOverlay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return ActiveOverlay{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	seq, enabled := r.seq[id]
	return ActiveOverlay{
		Def:          def.Clone(),
		Enabled:      enabled,
		Rendering:    r.rendering[id],
		ActivatedSeq: seq,
	}, nil
}

// Definitions returns every registered overlay in registration order.
func (r *Registry) Definitions() []ActiveOverlay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActiveOverlay, 0, len(r.order))
	for _, id := range r.order {
		seq, enabled := r.seq[id]
		out = append(out, ActiveOverlay{
			Def:          r.defs[id].Clone(),
			Enabled:      enabled,
			Rendering:    r.rendering[id],
			ActivatedSeq: seq,
		})
	}
	return out
}

// Active returns the active overlays ordered by ascending ZIndex, then by
// activation order.
func (r *Registry) Active() []ActiveOverlay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

// ActiveByKind returns the active overlay of a kind, if any.
func (r *Registry) ActiveByKind(k Kind) (ActiveOverlay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[k]
	if !ok {
		return ActiveOverlay{}, false
	}
	return ActiveOverlay{
		Def:          r.defs[id].Clone(),
		Enabled:      true,
		Rendering:    r.rendering[id],
		ActivatedSeq: r.seq[id],
	}, true
}

func (r *Registry) activeLocked() []ActiveOverlay {
	out := make([]ActiveOverlay, 0, len(r.active))
	for _, id := range r.active {
		out = append(out, ActiveOverlay{
			Def:          r.defs[id].Clone(),
			Enabled:      true,
			Rendering:    r.rendering[id],
			ActivatedSeq: r.seq[id],
		})
	}
	SortByZIndex(out)
	return out
}

func (r *Registry) changed(active []ActiveOverlay) {
	metrics.UpdateActiveOverlays(len(active))
	if r.onChange != nil {
		r.onChange(active)
	}
}

// SortByZIndex orders overlays by ascending ZIndex, then activation order.
func SortByZIndex(list []ActiveOverlay) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Def.ZIndex != list[j].Def.ZIndex {
			return list[i].Def.ZIndex < list[j].Def.ZIndex
		}
		return list[i].ActivatedSeq < list[j].ActivatedSeq
	})
}
