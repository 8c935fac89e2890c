// Package surrogate turns detected values into stable replacement
// identifiers. The same (value, category) pair maps to the same version-5
// UUID in every run and every process, so anonymised records stay
// correlatable without being reversible.
package surrogate

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultNamespace seeds the application namespace UUID.
const DefaultNamespace = "document-anonymization"

// Binding is one (original, category) → UUID assignment. Original keeps the
// casing of the first occurrence seen; identity is case-insensitive.
type Binding struct {
	Original string
	Category string
	UUID     string
}

type bindingKey struct {
	value    string // lowercased
	category string
}

// Mapper caches deterministic surrogate assignments. It is the only state
// shared across documents in one process and is safe for concurrent use.
type Mapper struct {
	namespace uuid.UUID
	bindings  sync.Map // bindingKey → Binding
}

// NewMapper creates a mapper with the application namespace.
func NewMapper() *Mapper {
	return &Mapper{
		namespace: uuid.NewSHA1(uuid.NameSpaceDNS, []byte(DefaultNamespace)),
	}
}

// UUIDFor returns the canonical hyphenated v5 UUID for the given value and
// category. The name is lower(original) + "_" + category, so occurrences
// differing only in case share one surrogate.
func (m *Mapper) UUIDFor(original, category string) string {
	key := bindingKey{value: strings.ToLower(original), category: category}
	if v, ok := m.bindings.Load(key); ok {
		return v.(Binding).UUID
	}

	id := uuid.NewSHA1(m.namespace, []byte(key.value+"_"+category)).String()
	actual, _ := m.bindings.LoadOrStore(key, Binding{
		Original: original,
		Category: category,
		UUID:     id,
	})
	return actual.(Binding).UUID
}

// Lookup returns the binding for a value, if one was assigned this run.
func (m *Mapper) Lookup(original, category string) (Binding, bool) {
	v, ok := m.bindings.Load(bindingKey{value: strings.ToLower(original), category: category})
	if !ok {
		return Binding{}, false
	}
	return v.(Binding), true
}

// Bindings snapshots every assignment made so far.
func (m *Mapper) Bindings() []Binding {
	var out []Binding
	m.bindings.Range(func(_, v any) bool {
		out = append(out, v.(Binding))
		return true
	})
	return out
}

// Len reports the number of cached assignments.
func (m *Mapper) Len() int {
	n := 0
	m.bindings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
