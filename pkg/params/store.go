package params

import (
	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Store holds the parameters discovered during a resolution pass, in
// registration order.
type Store struct {
	order  []string
	params map[string]*Parameter
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{params: make(map[string]*Parameter)}
}

// Declare registers a parameter declared by unit. A fully qualified name can
// only be declared once across all layers.
func (s *Store) Declare(name string, data interface{}, unit engine.Unit) (*Parameter, error) {
	p, err := NewParameter(name, data, unit)
	if err != nil {
		return nil, err
	}
	if err := s.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeclareAll declares every entry of a config section in order.
func (s *Store) DeclareAll(section engine.OrderedMap, unit engine.Unit) error {
	for _, e := range section {
		if _, err := s.Declare(e.Key, e.Value, unit); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a built parameter.
func (s *Store) Register(p *Parameter) error {
	if existing, ok := s.params[p.Name]; ok {
		return engine.Hardf(engine.KindDuplicateParameter,
			"parameter name '%s' defined in both '%s' and '%s'", p.Name, p.DefinedBy, existing.DefinedBy).
			WithParam(p.Name).WithUnit(p.DefinedBy).WithDefinedBy(existing.DefinedBy)
	}
	s.params[p.Name] = p
	s.order = append(s.order, p.Name)
	return nil
}

// Get returns the parameter with the given fully qualified name.
func (s *Store) Get(name string) (*Parameter, bool) {
	p, ok := s.params[name]
	return p, ok
}

// Len returns the number of parameters.
func (s *Store) Len() int {
	return len(s.order)
}

// All returns the parameters in registration order.
func (s *Store) All() []*Parameter {
	out := make([]*Parameter, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.params[name])
	}
	return out
}

// WithValues returns the parameters that have a value, in registration order.
func (s *Store) WithValues() []*Parameter {
	out := make([]*Parameter, 0, len(s.order))
	for _, name := range s.order {
		if p := s.params[name]; p.HasValue() {
			out = append(out, p)
		}
	}
	return out
}

// CheckRequired fails on the first required parameter without a value.
func (s *Store) CheckRequired() error {
	for _, name := range s.order {
		p := s.params[name]
		if p.Required && !p.HasValue() {
			return engine.Hardf(engine.KindMissingRequiredParameter,
				"required parameter '%s' defined by '%s' doesn't have a value", p.Name, p.DefinedBy).
				WithParam(p.Name).WithDefinedBy(p.DefinedBy)
		}
	}
	return nil
}

// Values returns the value of every parameter keyed by name.
func (s *Store) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(s.order))
	for _, name := range s.order {
		out[name] = s.params[name].Value
	}
	return out
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	c := NewStore()
	for _, name := range s.order {
		c.params[name] = s.params[name].Clone()
		c.order = append(c.order, name)
	}
	return c
}
