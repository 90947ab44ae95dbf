package enhancer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LexicalRelations is an optional general-purpose thesaurus consulted after
// the curated domain table.
type LexicalRelations interface {
	Synonyms(ctx context.Context, word string) ([]string, error)
}

// Expander appends synonyms to query tokens. Originals always come first and
// duplicates are dropped while preserving order.
type Expander struct {
	synonyms   map[string][]string
	maxDomain  int
	maxRelated int
	relations  LexicalRelations
}

func NewExpander(synonyms map[string][]string, maxDomain, maxRelated int, relations LexicalRelations) *Expander {
	if synonyms == nil {
		synonyms = DomainSynonyms
	}
	if maxDomain < 0 {
		maxDomain = 0
	}
	if maxRelated < 0 {
		maxRelated = 0
	}
	return &Expander{
		synonyms:   synonyms,
		maxDomain:  maxDomain,
		maxRelated: maxRelated,
		relations:  relations,
	}
}

// Expand returns tokens followed by their synonyms. Failures of the lexical
// relation service are returned joined, alongside the expansion obtained
// without them.
func (x *Expander) Expand(ctx context.Context, tokens []string) ([]string, error) {
	seen := make(map[string]bool, len(tokens)*2)
	expanded := make([]string, 0, len(tokens)*3)
	add := func(t string) bool {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			return false
		}
		seen[t] = true
		expanded = append(expanded, t)
		return true
	}

	for _, t := range tokens {
		add(t)
	}

	var errs []error
	for _, t := range tokens {
		added := 0
		for _, syn := range x.synonyms[t] {
			if added >= x.maxDomain {
				break
			}
			if add(syn) {
				added++
			}
		}

		if x.relations == nil || len(t) <= 3 || x.maxRelated == 0 {
			continue
		}
		related, err := x.relations.Synonyms(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("lexical relations for %q: %w", t, err))
			continue
		}
		added = 0
		for _, syn := range related {
			if added >= x.maxRelated {
				break
			}
			if add(syn) {
				added++
			}
		}
	}
	return expanded, errors.Join(errs...)
}
