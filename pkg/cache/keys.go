package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateKey checks if a cache key is acceptable.
//
// Rules:
// - non-empty
// - at most 250 characters
// - no control characters
// - no leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > 250 {
		return fmt.Errorf("%w: key too long (max 250 characters)", ErrInvalidKey)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// KeyBuilder produces namespaced cache keys with a consistent separator.
// Domain namespaces (user, application, letter) hang off a shared prefix so
// that tag and pattern invalidation can address them uniformly.
type KeyBuilder struct {
	prefix    string
	separator string
}

// NewKeyBuilder creates a key builder. An empty separator defaults to ":".
func NewKeyBuilder(prefix, separator string) *KeyBuilder {
	if separator == "" {
		separator = ":"
	}
	return &KeyBuilder{prefix: prefix, separator: separator}
}

// Build joins the prefix and parts: Build("user", "42") -> "user:42".
func (kb *KeyBuilder) Build(parts ...string) string {
	if len(parts) == 0 {
		return kb.prefix
	}

	var b strings.Builder
	b.WriteString(kb.prefix)
	for i, part := range parts {
		if i > 0 || kb.prefix != "" {
			b.WriteString(kb.separator)
		}
		b.WriteString(part)
	}
	return b.String()
}

// EntityKey builds the canonical key for an entity instance, e.g.
// EntityKey("user", "42") -> "user:42".
func EntityKey(entity, id string) string {
	return entity + ":" + id
}

// EntityTag builds the canonical tag for an entity instance. Tags and keys
// share the "entity:id" shape on purpose: a key is usually tagged with its
// own identity plus the entity-wide collection tag.
func EntityTag(entity, id string) string {
	return entity + ":" + id
}

// CollectionTag builds the entity-wide tag, e.g. "users".
func CollectionTag(entity string) string {
	return entity + "s"
}
