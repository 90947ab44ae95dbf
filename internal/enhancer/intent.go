package enhancer

import (
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
)

const (
	patternWeight     = 2.0
	keywordWeight     = 1.0
	defaultConfidence = 0.5
	tieEpsilon        = 1e-9
)

type intentRule struct {
	intent   model.Intent
	patterns []*regexp.Regexp
	keywords map[string]struct{}
	boost    float64
	// raw score at which confidence reaches 1 before the boost
	saturation float64
}

// IntentClassifier scores every intent by pattern and keyword matches and
// picks the strongest.
type IntentClassifier struct {
	rules []intentRule
}

func keywordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{rules: []intentRule{
		{
			intent: model.IntentFactual,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)^(what|who|when|where|which)\b`),
				regexp.MustCompile(`(?i)\b(what is|what are|define|definition of|meaning of)\b`),
			},
			keywords:   keywordSet("define", "definition", "meaning", "fact", "date", "who", "when", "where"),
			boost:      1.0,
			saturation: 3,
		},
		{
			intent: model.IntentProcedural,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)^how (do|does|to|can|should|would)\b`),
				regexp.MustCompile(`(?i)\b(steps? to|guide to|tutorial|walk ?through|instructions for)\b`),
			},
			keywords:   keywordSet("install", "configure", "setup", "create", "build", "deploy", "implement", "steps", "guide", "tutorial", "process", "run"),
			boost:      1.1,
			saturation: 3,
		},
		{
			intent: model.IntentComparative,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(vs\.?|versus|compared? (to|with)|comparison)\b`),
				regexp.MustCompile(`(?i)\bdifferences? between\b`),
				regexp.MustCompile(`(?i)\b(better|worse|faster|slower) than\b`),
			},
			keywords:   keywordSet("compare", "comparison", "difference", "differences", "versus", "vs", "better", "pros", "cons", "tradeoffs", "alternative", "alternatives"),
			boost:      1.2,
			saturation: 3,
		},
		{
			intent: model.IntentExploratory,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)^(tell me about|explore|overview of|introduction to)\b`),
				regexp.MustCompile(`(?i)\b(ideas|options|possibilities|examples) (for|of)\b`),
			},
			keywords:   keywordSet("overview", "introduction", "explore", "ideas", "examples", "options", "topics", "related", "general"),
			boost:      0.9,
			saturation: 3,
		},
		{
			intent: model.IntentSpecific,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Z]{2,}[-_]?\d+\b`),
				regexp.MustCompile(`"[^"]+"`),
				regexp.MustCompile(`(?i)\b(error|code|version|id|section|page)\s*[:#]?\s*\d+`),
			},
			keywords:   keywordSet("exact", "exactly", "specific", "error", "version", "code", "id", "number", "section", "page"),
			boost:      1.1,
			saturation: 3,
		},
		{
			intent: model.IntentAnalytical,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)^(why|how come)\b`),
				regexp.MustCompile(`(?i)\b(analy[sz]e|evaluate|assess|impact of|implications of|cause of|reasons? for)\b`),
			},
			keywords:   keywordSet("why", "analyze", "analyse", "analysis", "evaluate", "impact", "cause", "effect", "reason", "implications", "trend", "trends"),
			boost:      1.0,
			saturation: 3,
		},
	}}
}

// Classify returns the winning intent and its confidence in [0,1]. Ties and
// queries matching nothing fall back to exploratory at 0.5.
func (c *IntentClassifier) Classify(query string) (model.Intent, float64) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.IntentExploratory, defaultConfidence
	}
	words := splitWords(query)

	best, second := -1.0, -1.0
	var winner model.Intent
	for _, rule := range c.rules {
		score := c.score(rule, query, words)
		switch {
		case score > best:
			second = best
			best = score
			winner = rule.intent
		case score > second:
			second = score
		}
	}
	if best <= 0 || best-second < tieEpsilon {
		return model.IntentExploratory, defaultConfidence
	}
	return winner, clamp01(best)
}

// Keywords returns every keyword the classifier listens for. They are
// treated as correctly spelled.
func (c *IntentClassifier) Keywords() []string {
	var out []string
	for _, rule := range c.rules {
		for k := range rule.keywords {
			out = append(out, k)
		}
	}
	return out
}

// Scores returns the normalised score of every intent.
func (c *IntentClassifier) Scores(query string) map[model.Intent]float64 {
	words := splitWords(query)
	out := make(map[model.Intent]float64, len(c.rules))
	for _, rule := range c.rules {
		out[rule.intent] = clamp01(c.score(rule, query, words))
	}
	return out
}

func (c *IntentClassifier) score(rule intentRule, query string, words []string) float64 {
	raw := 0.0
	for _, p := range rule.patterns {
		if p.MatchString(query) {
			raw += patternWeight
		}
	}
	for _, w := range words {
		if _, ok := rule.keywords[w]; ok {
			raw += keywordWeight
		}
	}
	return raw * rule.boost / rule.saturation
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
