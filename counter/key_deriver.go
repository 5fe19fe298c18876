package counter

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = ":"

// DefaultMaxKeyLength is the longest key memcached accepts.
const DefaultMaxKeyLength = 250

const countSuffix = "_count"

// KeyDeriver builds the cache key of a counter. Implementations must be pure:
// the same inputs always produce the same key, across processes and restarts.
type KeyDeriver interface {
	ScopeKey(entity, attribute string, version int) string
	// AssociationKey returns false when ownerID is absent.
	AssociationKey(entity string, ownerID any, attribute string, version int) (string, bool)
}

// KeyOption customizes the default KeyDeriver.
type KeyOption func(*defaultKeyDeriver)

// WithKeyPrefix namespaces every key with prefix.
func WithKeyPrefix(prefix string) KeyOption {
	return func(d *defaultKeyDeriver) {
		d.prefix = prefix
	}
}

// WithMaxKeyLength sets the length above which keys are shortened with a digest.
// Zero disables shortening.
func WithMaxKeyLength(n int) KeyOption {
	return func(d *defaultKeyDeriver) {
		d.maxLength = n
	}
}

// defaultKeyDeriver produces keys of the form
//
//	Entity:attribute_count:version
//	Entity:ownerID:attribute_count:version
//
// Segments are escaped so that no two inputs share a key.
type defaultKeyDeriver struct {
	prefix    string
	maxLength int
}

// NewDefaultKeyDeriver creates the default key deriver.
func NewDefaultKeyDeriver(opts ...KeyOption) KeyDeriver {
	d := &defaultKeyDeriver{maxLength: DefaultMaxKeyLength}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ScopeKey builds the key of a scope counter.
func (d *defaultKeyDeriver) ScopeKey(entity, attribute string, version int) string {
	return d.join(escapeSegment(entity), escapeSegment(attribute)+countSuffix, strconv.Itoa(version))
}

// AssociationKey builds the key of an association counter for one owner.
func (d *defaultKeyDeriver) AssociationKey(entity string, ownerID any, attribute string, version int) (string, bool) {
	id, ok := serializeOwnerID(ownerID)
	if !ok {
		return "", false
	}
	return d.join(escapeSegment(entity), escapeSegment(id), escapeSegment(attribute)+countSuffix, strconv.Itoa(version)), true
}

func (d *defaultKeyDeriver) join(parts ...string) string {
	if d.prefix != "" {
		parts = append([]string{escapeSegment(d.prefix)}, parts...)
	}
	return d.shorten(strings.Join(parts, KeySeparator))
}

// shorten keeps keys within the backend limit. The digest covers the whole key,
// so shortened keys stay distinct.
func (d *defaultKeyDeriver) shorten(key string) string {
	if d.maxLength <= 0 || len(key) <= d.maxLength {
		return key
	}
	digest := fmt.Sprintf("#%016x", xxhash.Sum64String(key))
	keep := d.maxLength - len(digest)
	if keep < 0 {
		keep = 0
	}
	return key[:keep] + digest
}

var segmentEscaper = strings.NewReplacer("%", "%25", KeySeparator, "%3A", "#", "%23")

func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// serializeOwnerID renders an owner id. Nil values and nil pointers are
// treated as absent.
func serializeOwnerID(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	if s, ok := v.(fmt.Stringer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return "", false
		}
		return s.String(), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		return serializeOwnerID(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Slice:
		if b, ok := v.([]byte); ok {
			if b == nil {
				return "", false
			}
			return string(b), true
		}
	}

	return fmt.Sprintf("%v", v), true
}
