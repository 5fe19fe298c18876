package counter

import (
	"sort"
	"sync"
)

// RelationKind distinguishes the two sides of a foreign key.
type RelationKind int

const (
	// HasMany relations point from an owner to the rows referencing it.
	HasMany RelationKind = iota
	// BelongsTo relations point from a row to the owner it references.
	BelongsTo
)

// Relation describes an association declared on an entity type.
type Relation struct {
	Kind RelationKind

	// Target is the entity type on the other side of the relation.
	Target string

	// ForeignKey is the field holding the owner id. For HasMany it lives on
	// Target, for BelongsTo it lives on the declaring entity.
	ForeignKey string

	// Inverse names the BelongsTo relation on Target that points back to the
	// declaring entity. Required for every link of a through chain.
	Inverse string

	// Through names a relation on the declaring entity; when set this relation
	// reaches Target by following Through and then Source.
	Through string

	// Source names the relation on the Through target. Defaults to the
	// relation's own name.
	Source string

	// Count counts the related rows of a single owner. Optional; counters may
	// supply their own query.
	Count AssociationQuery
}

// Entity describes one entity type: its named scopes, its relations and how to
// load a row by id.
type Entity struct {
	Name      string
	Scopes    map[string]Query
	Relations map[string]Relation
	Load      LoadFunc
}

// Schema is the set of entity types counters can be declared on.
type Schema struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewSchema builds a schema from the given entities.
func NewSchema(entities ...Entity) (*Schema, error) {
	s := &Schema{entities: make(map[string]*Entity)}
	for _, e := range entities {
		if err := s.Define(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Define registers an entity type.
func (s *Schema) Define(e Entity) error {
	if e.Name == "" {
		return &ConfigError{Message: "entity name is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entities == nil {
		s.entities = make(map[string]*Entity)
	}
	if _, exists := s.entities[e.Name]; exists {
		return &ConfigError{Entity: e.Name, Message: "entity already defined"}
	}

	for name, rel := range e.Relations {
		if rel.Target == "" {
			return &ConfigError{Entity: e.Name, Name: name, Message: "relation target is required"}
		}
	}

	entity := e
	s.entities[e.Name] = &entity
	return nil
}

// Entity looks up an entity type by name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[name]
	return e, ok
}

// Names returns the defined entity names in sorted order.
func (s *Schema) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entities))
	for name := range s.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
