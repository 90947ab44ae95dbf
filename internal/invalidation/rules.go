package invalidation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// Rule maps one kind of mutation to the cache keys it makes stale.
// KeyPattern and DependencyPatterns may reference fields of the mutated
// record as {field}; dependency patterns may also contain one '*'.
type Rule struct {
	Collection         string
	EventType          model.EventType
	KeyPattern         string
	DependencyPatterns []string
}

func (r Rule) String() string {
	return r.Collection + "/" + string(r.EventType) + " -> " + r.KeyPattern
}

type ruleKey struct {
	collection string
	eventType  model.EventType
}

// RuleTable is keyed by (collection, eventType). It is built once at
// startup and read-only afterwards.
type RuleTable struct {
	rules map[ruleKey][]Rule
}

func NewRuleTable(rules ...Rule) *RuleTable {
	t := &RuleTable{rules: make(map[ruleKey][]Rule)}
	for _, r := range rules {
		k := ruleKey{collection: r.Collection, eventType: r.EventType}
		t.rules[k] = append(t.rules[k], r)
	}
	return t
}

// RulesFromConfig converts the configured rule table.
func RulesFromConfig(cfg []config.RuleConfig) []Rule {
	out := make([]Rule, 0, len(cfg))
	for _, rc := range cfg {
		out = append(out, Rule{
			Collection:         rc.Collection,
			EventType:          model.EventType(rc.EventType),
			KeyPattern:         rc.KeyPattern,
			DependencyPatterns: append([]string(nil), rc.DependencyPatterns...),
		})
	}
	return out
}

// Lookup returns the rules for a mutation. A batchUpdate without rules of
// its own uses the collection's update rules.
func (t *RuleTable) Lookup(collection string, eventType model.EventType) []Rule {
	if rules, ok := t.rules[ruleKey{collection, eventType}]; ok {
		return rules
	}
	if eventType == model.EventBatchUpdate {
		return t.rules[ruleKey{collection, model.EventUpdate}]
	}
	return nil
}

func (t *RuleTable) Len() int {
	n := 0
	for _, rs := range t.rules {
		n += len(rs)
	}
	return n
}

// Resolve substitutes every {field} placeholder in template from the
// event's new record, then its old record. {documentId} and {id} fall back
// to the event's document id. An unresolvable placeholder fails with
// ErrInvalidation.
func Resolve(template string, ev model.MutationEvent) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		field := m[1 : len(m)-1]
		if v, ok := lookupField(field, ev); ok {
			return v
		}
		missing = append(missing, field)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q: no value for %s in %s/%s event",
			apperrors.ErrInvalidation, template, strings.Join(missing, ", "), ev.Collection, ev.EventType)
	}
	return out, nil
}

func lookupField(field string, ev model.MutationEvent) (string, bool) {
	for _, rec := range []map[string]any{ev.NewData, ev.OldData} {
		if v, ok := nested(rec, field); ok {
			return v, true
		}
	}
	if (field == "documentId" || field == "id") && ev.DocumentID != "" {
		return ev.DocumentID, true
	}
	return "", false
}

// nested reads a dotted path such as "author.id" from rec.
func nested(rec map[string]any, path string) (string, bool) {
	if rec == nil {
		return "", false
	}
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[part]; !ok || cur == nil {
			return "", false
		}
	}
	s := formatField(cur)
	if s == "" {
		return "", false
	}
	return s, true
}

// formatField renders a record value the way it appears in cache keys.
// JSON numbers decode as float64 and must not be printed in exponent form.
func formatField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	default:
		return fmt.Sprint(v)
	}
}
