package countercache

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/goliatone/go-cached-counts/counter"
)

// maxChainDepth bounds through-relation expansion so a cyclic schema fails at
// setup instead of recursing forever.
const maxChainDepth = 8

// link is one has-many relation of a flattened association, from the owning
// side to the target side.
type link struct {
	from *counter.Entity
	name string
	rel  counter.Relation
	to   *counter.Entity
}

// hop reads field from the current row. When load is set the value is an id of
// entity and the next hop reads from the loaded row; otherwise the value is
// the owner id.
type hop struct {
	field  string
	entity string
	load   counter.LoadFunc
}

// ownerChain resolves the owner id of a counted row. It is built once, at
// declaration time, and only iterated at runtime.
type ownerChain struct {
	counted string
	hops    []hop
}

// buildOwnerChain flattens owner.relation into has-many links and turns them
// into the hops leading from a counted row back to an owner id.
func buildOwnerChain(schema *counter.Schema, owner *counter.Entity, relation string) (*ownerChain, error) {
	links, err := flattenRelation(schema, owner, relation, 0)
	if err != nil {
		return nil, err
	}

	chain := &ownerChain{counted: links[len(links)-1].to.Name}

	for i := len(links) - 1; i > 0; i-- {
		l := links[i]
		if l.rel.Inverse == "" {
			return nil, &counter.ConfigError{
				Entity:  l.from.Name,
				Name:    l.name,
				Message: "chained associations require an inverse relation",
			}
		}
		inverse, ok := l.to.Relations[l.rel.Inverse]
		if !ok {
			return nil, &counter.ConfigError{
				Entity:  l.to.Name,
				Name:    l.rel.Inverse,
				Message: "inverse relation is not defined",
			}
		}
		if inverse.Kind != counter.BelongsTo || inverse.Target != l.from.Name {
			return nil, &counter.ConfigError{
				Entity:  l.to.Name,
				Name:    l.rel.Inverse,
				Message: fmt.Sprintf("inverse relation must belong to %s", l.from.Name),
			}
		}
		if inverse.ForeignKey == "" {
			return nil, &counter.ConfigError{Entity: l.to.Name, Name: l.rel.Inverse, Message: "foreign key is required"}
		}
		if l.from.Load == nil {
			return nil, &counter.ConfigError{Entity: l.from.Name, Message: "chained associations require a load func"}
		}
		chain.hops = append(chain.hops, hop{field: inverse.ForeignKey, entity: l.from.Name, load: l.from.Load})
	}

	first := links[0]
	field, err := ownerField(first)
	if err != nil {
		return nil, err
	}
	chain.hops = append(chain.hops, hop{field: field})

	return chain, nil
}

// ownerField returns the field on the target of l holding the owner id.
func ownerField(l link) (string, error) {
	if l.rel.ForeignKey != "" {
		return l.rel.ForeignKey, nil
	}
	if l.rel.Inverse != "" {
		if inverse, ok := l.to.Relations[l.rel.Inverse]; ok && inverse.Kind == counter.BelongsTo && inverse.ForeignKey != "" {
			return inverse.ForeignKey, nil
		}
	}
	return "", &counter.ConfigError{Entity: l.from.Name, Name: l.name, Message: "foreign key is required"}
}

func flattenRelation(schema *counter.Schema, from *counter.Entity, name string, depth int) ([]link, error) {
	if depth > maxChainDepth {
		return nil, &counter.ConfigError{Entity: from.Name, Name: name, Message: "association chain is too deep"}
	}

	rel, ok := from.Relations[name]
	if !ok {
		return nil, &counter.ConfigError{
			Entity:  from.Name,
			Name:    name,
			Message: fmt.Sprintf("%s does not have an association named %s", from.Name, name),
		}
	}
	if rel.Kind != counter.HasMany {
		return nil, &counter.ConfigError{Entity: from.Name, Name: name, Message: "only has-many associations can be counted"}
	}

	to, ok := schema.Entity(rel.Target)
	if !ok {
		return nil, &counter.ConfigError{Entity: from.Name, Name: name, Message: "unknown target entity " + rel.Target}
	}

	if rel.Through == "" {
		return []link{{from: from, name: name, rel: rel, to: to}}, nil
	}

	through, err := flattenRelation(schema, from, rel.Through, depth+1)
	if err != nil {
		return nil, err
	}

	source := rel.Source
	if source == "" {
		source = name
	}
	rest, err := flattenRelation(schema, through[len(through)-1].to, source, depth+1)
	if err != nil {
		return nil, err
	}

	if counted := rest[len(rest)-1].to.Name; counted != rel.Target {
		return nil, &counter.ConfigError{
			Entity:  from.Name,
			Name:    name,
			Message: fmt.Sprintf("through chain reaches %s, not %s", counted, rel.Target),
		}
	}

	return append(through, rest...), nil
}

// resolve walks the chain from row. A nil value or a missing row anywhere on
// the way means there is no owner.
func (c *ownerChain) resolve(ctx context.Context, row counter.Row) (any, error) {
	current := row
	for _, h := range c.hops {
		if current == nil {
			return nil, nil
		}
		v := current.Get(h.field)
		if isNil(v) {
			return nil, nil
		}
		if h.load == nil {
			return v, nil
		}
		next, err := h.load(ctx, v)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s %v", h.entity, v)
		}
		if isNil(next) {
			return nil, nil
		}
		current = next
	}
	return nil, nil
}

// touches reports whether changes include the field read from the counted row,
// i.e. whether the owner may have changed.
func (c *ownerChain) touches(changes counter.Changes) bool {
	if len(c.hops) == 0 {
		return false
	}
	_, ok := changes[c.hops[0].field]
	return ok
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
