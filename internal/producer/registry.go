package producer

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownProducer = errors.New("unknown producer")

// Registry holds every configured producer, ordered by id.
type Registry struct {
	producers []*Producer
	byID      map[int]*Producer
}

// NewRegistry builds a registry, rejecting duplicate producers.
func NewRegistry(cfgs []Config) (*Registry, error) {
	r := &Registry{byID: make(map[int]*Producer, len(cfgs))}
	seen := make(map[string]bool, len(cfgs))

	for _, cfg := range cfgs {
		p, err := New(cfg)
		if err != nil {
			return nil, err
		}
		if _, ok := r.byID[p.ID()]; ok || seen[p.Key()] {
			return nil, fmt.Errorf("duplicate producer %s", p)
		}
		seen[p.Key()] = true
		r.byID[p.ID()] = p
		r.producers = append(r.producers, p)
	}

	sort.Slice(r.producers, func(i, j int) bool {
		return r.producers[i].ID() < r.producers[j].ID()
	})
	return r, nil
}

// Get returns the producer with the given id.
func (r *Registry) Get(id int) (*Producer, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProducer, id)
	}
	return p, nil
}

// All returns every producer ordered by id.
func (r *Registry) All() []*Producer {
	out := make([]*Producer, len(r.producers))
	copy(out, r.producers)
	return out
}

// Active returns available, enabled producers.
func (r *Registry) Active() []*Producer {
	var out []*Producer
	for _, p := range r.producers {
		if p.IsAvailable() && !p.IsDisabled() {
			out = append(out, p)
		}
	}
	return out
}

// Disable stops recovery tracking for a producer.
func (r *Registry) Disable(id int) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	p.SetDisabled(true)
	return nil
}

// Enable re-enables a producer previously disabled.
func (r *Registry) Enable(id int) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	p.SetDisabled(false)
	return nil
}
