package control

import (
	"errors"
	"fmt"
	"sync"

	"github.com/san-kum/diffmpm/internal/mpm"
)

var (
	ErrUnknownControl   = errors.New("control: unknown control variable")
	ErrDuplicateControl = errors.New("control: control variable already defined")
)

// Values maps control ids to flat control vectors.
type Values map[string][]float64

func (v Values) Clone() Values {
	out := make(Values, len(v))
	for id, x := range v {
		out[id] = append([]float64(nil), x...)
	}
	return out
}

type entry struct {
	binding Binding
	value   []float64
}

// Store owns the control variables of one simulation. It is safe for
// concurrent use; Apply reads a consistent snapshot.
type Store struct {
	mu      sync.RWMutex
	n       int
	ids     []string
	entries map[string]*entry
}

func NewStore(n int) *Store {
	return &Store{n: n, entries: make(map[string]*entry)}
}

// Define registers id with its binding. A nil initial value means zeros.
func (s *Store) Define(id string, b Binding, initial []float64) error {
	if id == "" {
		return fmt.Errorf("%w: empty control id", mpm.ErrConfiguration)
	}
	if err := b.Check(s.n); err != nil {
		return fmt.Errorf("control %q: %w", id, err)
	}
	if initial == nil {
		initial = make([]float64, b.Size())
	}
	if len(initial) != b.Size() {
		return fmt.Errorf("control %q: %w: value has %d entries, want %d", id, mpm.ErrShapeMismatch, len(initial), b.Size())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateControl, id)
	}
	s.ids = append(s.ids, id)
	s.entries[id] = &entry{binding: b, value: append([]float64(nil), initial...)}
	return nil
}

func (s *Store) Set(id string, v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownControl, id)
	}
	if len(v) != len(e.value) {
		return fmt.Errorf("control %q: %w: value has %d entries, want %d", id, mpm.ErrShapeMismatch, len(v), len(e.value))
	}
	copy(e.value, v)
	return nil
}

// SetAll updates every id present in vals.
func (s *Store) SetAll(vals Values) error {
	for _, id := range s.IDs() {
		if v, ok := vals[id]; ok {
			if err := s.Set(id, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns a copy of the current value of id.
func (s *Store) Get(id string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, id)
	}
	return append([]float64(nil), e.value...), nil
}

func (s *Store) Binding(id string) (Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnknownControl, id)
	}
	return e.binding, nil
}

// IDs returns the control ids in definition order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ids...)
}

func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Values, len(s.ids))
	for _, id := range s.ids {
		out[id] = append([]float64(nil), s.entries[id].value...)
	}
	return out
}

// Resolve overlays vals onto the current values. Unknown ids and wrongly
// sized vectors are rejected.
func (s *Store) Resolve(vals Values) (Values, error) {
	out := s.Snapshot()
	for id, v := range vals {
		cur, ok := out[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownControl, id)
		}
		if len(v) != len(cur) {
			return nil, fmt.Errorf("control %q: %w: value has %d entries, want %d", id, mpm.ErrShapeMismatch, len(v), len(cur))
		}
		out[id] = append([]float64(nil), v...)
	}
	return out, nil
}

// Apply returns a copy of base with every control added in definition order.
// vals overrides the stored values for the ids it contains.
func (s *Store) Apply(base mpm.State, vals Values) (mpm.State, error) {
	if err := base.Validate(s.n); err != nil {
		return mpm.State{}, err
	}
	resolved, err := s.Resolve(vals)
	if err != nil {
		return mpm.State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := base.Clone()
	for _, id := range s.ids {
		s.entries[id].binding.apply(resolved[id], out)
	}
	return out, nil
}

// Pullback returns the gradient of id given the cotangent of the initial
// state produced by Apply.
func (s *Store) Pullback(id string, g mpm.State) ([]float64, error) {
	b, err := s.Binding(id)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(s.n); err != nil {
		return nil, err
	}
	return b.Pullback(g), nil
}

// Size returns the combined length of ids.
func (s *Store) Size(ids []string) (int, error) {
	total := 0
	for _, id := range ids {
		b, err := s.Binding(id)
		if err != nil {
			return 0, err
		}
		total += b.Size()
	}
	return total, nil
}

// Flatten concatenates vals[id] for ids, in order.
func (s *Store) Flatten(ids []string, vals Values) ([]float64, error) {
	var out []float64
	for _, id := range ids {
		b, err := s.Binding(id)
		if err != nil {
			return nil, err
		}
		v, ok := vals[id]
		if !ok || len(v) != b.Size() {
			return nil, fmt.Errorf("control %q: %w: missing or wrongly sized value", id, mpm.ErrShapeMismatch)
		}
		out = append(out, v...)
	}
	return out, nil
}

// Unflatten is the inverse of Flatten.
func (s *Store) Unflatten(ids []string, x []float64) (Values, error) {
	size, err := s.Size(ids)
	if err != nil {
		return nil, err
	}
	if len(x) != size {
		return nil, fmt.Errorf("%w: flat control vector has %d entries, want %d", mpm.ErrShapeMismatch, len(x), size)
	}
	out := make(Values, len(ids))
	off := 0
	for _, id := range ids {
		b, _ := s.Binding(id)
		out[id] = append([]float64(nil), x[off:off+b.Size()]...)
		off += b.Size()
	}
	return out, nil
}
