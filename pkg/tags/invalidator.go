package tags

import (
	"context"
	"strings"
	"time"

	"cache-orchestrator/pkg/logging"
	"cache-orchestrator/pkg/metrics"

	"go.uber.org/zap"
)

// Resolver computes one generation of keys related to an invalidated key.
// It drives the bounded cascade: after each generation is invalidated, the
// resolver produces the next, up to the configured depth.
type Resolver interface {
	Related(key string) []string
}

// Rule maps a single-wildcard key pattern to related-key templates. The
// substring captured by '*' is substituted into each template's '*'.
//
// Example: Rule{Pattern: "user:*", Related: []string{"user:*:profile",
// "applications:student:*"}} relates "user:42" to "user:42:profile" and
// "applications:student:42".
type Rule struct {
	Pattern string
	Related []string
}

// RuleResolver resolves related keys from a fixed rule table.
type RuleResolver struct {
	rules []Rule
}

// NewRuleResolver creates a resolver over the given rules.
func NewRuleResolver(rules ...Rule) *RuleResolver {
	return &RuleResolver{rules: rules}
}

// Related implements Resolver.
func (r *RuleResolver) Related(key string) []string {
	var out []string
	for _, rule := range r.rules {
		capture, ok := matchCapture(rule.Pattern, key)
		if !ok {
			continue
		}
		for _, tmpl := range rule.Related {
			out = append(out, strings.ReplaceAll(tmpl, "*", capture))
		}
	}
	return out
}

// matchCapture matches key against a pattern containing exactly one '*' and
// returns the captured substring. Patterns without '*' match literally with
// an empty capture.
func matchCapture(pattern, key string) (string, bool) {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return "", pattern == key
	}

	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(key) < len(prefix)+len(suffix) {
		return "", false
	}
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}

// DeleteFunc removes a key from every cache level. Supplied by the
// orchestrator; failures are expected to be logged there and not propagated.
type DeleteFunc func(ctx context.Context, key string) error

// Invalidator resolves tags and patterns to keys, deletes those keys across
// all levels, clears their index associations, and cascades to related keys
// breadth-first up to CascadeDepth generations.
type Invalidator struct {
	index     *Index
	deleteKey DeleteFunc
	resolver  Resolver

	// cascadeDepth bounds follow-on generations. Zero invalidates only
	// directly targeted keys.
	cascadeDepth int

	metrics metrics.Collector
	logger  *logging.Logger
}

// InvalidatorConfig configures an Invalidator.
type InvalidatorConfig struct {
	CascadeDepth int
	Resolver     Resolver
	Metrics      metrics.Collector
}

// NewInvalidator creates an invalidator over the given index and deleter.
func NewInvalidator(index *Index, deleteKey DeleteFunc, config InvalidatorConfig) *Invalidator {
	collector := config.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &Invalidator{
		index:        index,
		deleteKey:    deleteKey,
		resolver:     config.Resolver,
		cascadeDepth: config.CascadeDepth,
		metrics:      collector,
		logger:       logging.L().Named("invalidation"),
	}
}

// InvalidateByTags removes every key under the given tags from all levels,
// then cascades. Returns the total number of keys invalidated.
func (inv *Invalidator) InvalidateByTags(ctx context.Context, tagList []string) int {
	keys := inv.index.KeysForTags(tagList)
	n := inv.invalidate(ctx, keys)
	inv.metrics.RecordInvalidation("tags", n)

	inv.logger.Info("invalidated by tags",
		zap.Strings("tags", tagList),
		zap.Int("keys", n),
	)
	return n
}

// InvalidateByPattern removes every *indexed* key matching the glob. Only
// tagged keys participate; untagged keys are invisible to pattern matching.
func (inv *Invalidator) InvalidateByPattern(ctx context.Context, pattern string) int {
	keys := inv.index.KeysMatching(pattern)
	n := inv.invalidate(ctx, keys)
	inv.metrics.RecordInvalidation("pattern", n)

	inv.logger.Info("invalidated by pattern",
		zap.String("pattern", pattern),
		zap.Int("keys", n),
	)
	return n
}

// HandleEvents is the drain handler for the event queue: each grouped event
// invalidates its tag set.
func (inv *Invalidator) HandleEvents(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ev := range batch {
		if len(ev.Tags) == 0 {
			continue
		}
		inv.InvalidateByTags(ctx, ev.Tags)
	}
}

// invalidate deletes the seed generation, then walks related keys
// breadth-first. Each generation is fully deleted before the next is
// resolved, and no key is visited twice, so the blast radius is bounded by
// cascadeDepth regardless of how cyclic the rules are.
func (inv *Invalidator) invalidate(ctx context.Context, seed []string) int {
	if len(seed) == 0 {
		return 0
	}

	visited := make(map[string]struct{}, len(seed))
	generation := seed
	total := 0

	for depth := 0; depth <= inv.cascadeDepth && len(generation) > 0; depth++ {
		var next []string

		for _, key := range generation {
			if _, ok := visited[key]; ok {
				continue
			}
			visited[key] = struct{}{}

			if err := inv.deleteKey(ctx, key); err != nil {
				// Deletion is best effort; a level failure or an
				// already-expired key must not stop the sweep.
				inv.logger.Warn("cascade delete failed",
					zap.String("key", key),
					zap.Error(err),
				)
			}
			inv.index.Remove(key)
			total++

			if inv.resolver != nil && depth < inv.cascadeDepth {
				next = append(next, inv.resolver.Related(key)...)
			}
		}

		generation = next
	}

	return total
}
