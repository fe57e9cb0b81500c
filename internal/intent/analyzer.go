package intent

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"go.uber.org/zap"
)

const (
	MinTextLength = 3
	MaxTextLength = 5000

	maxKeywords     = 20
	maxRequirements = 10
)

// ErrInvalidInput is returned for empty or oversized request text.
var ErrInvalidInput = errors.New("invalid input")

// Intent is the structured reading of a request. It is never mutated after Analyze returns.
type Intent struct {
	Type              capability.Action      `json:"type"`
	Domain            capability.Domain      `json:"domain"`
	Complexity        capability.Complexity  `json:"complexity"`
	Requirements      []string               `json:"requirements"`
	Confidence        float64                `json:"confidence"`
	EstimatedDuration time.Duration          `json:"estimated_duration"`
	CandidateAgents   []capability.AgentType `json:"candidate_agents"`
	Description       string                 `json:"description"`
}

// EntityKind classifies an extracted entity.
type EntityKind string

const (
	EntityURL        EntityKind = "url"
	EntityFile       EntityKind = "file"
	EntityQuoted     EntityKind = "quoted"
	EntityTechnology EntityKind = "technology"
)

// Entity is a concrete reference found in the request text.
type Entity struct {
	Kind  EntityKind `json:"kind"`
	Value string     `json:"value"`
}

// Analysis bundles the intent with the tokens it was derived from.
type Analysis struct {
	Intent   Intent   `json:"intent"`
	Keywords []string `json:"keywords"`
	Entities []Entity `json:"entities"`
}

// Analyzer classifies free text with fixed pattern and keyword tables.
type Analyzer struct {
	catalog *capability.Catalog
	logger  *zap.Logger
}

// NewAnalyzer creates an analyzer that fills candidate agents from catalog.
func NewAnalyzer(catalog *capability.Catalog, logger *zap.Logger) *Analyzer {
	return &Analyzer{catalog: catalog, logger: logger}
}

// Analyze classifies text into an Intent.
func (a *Analyzer) Analyze(text string) (*Analysis, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < MinTextLength || n > MaxTextLength {
		return nil, fmt.Errorf("%w: text length %d outside [%d, %d]", ErrInvalidInput, n, MinTextLength, MaxTextLength)
	}

	lower := strings.ToLower(text)
	keywords := ExtractKeywords(text)

	action, actionHit := classifyAction(lower, keywords)
	domain, domainHit := classifyDomain(keywords)
	complexity := classifyComplexity(lower, len(strings.Fields(text)), len(keywords))

	confidence := 0.6
	if actionHit {
		confidence += 0.15
	}
	if domainHit {
		confidence += 0.15
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	in := Intent{
		Type:              action,
		Domain:            domain,
		Complexity:        complexity,
		Requirements:      extractRequirements(text, keywords),
		Confidence:        confidence,
		EstimatedDuration: baseDuration[complexity],
		Description:       text,
	}
	if a.catalog != nil {
		in.CandidateAgents = a.catalog.Compatible(domain, action, complexity)
	}

	a.logger.Debug("analyzed intent",
		zap.String("type", string(in.Type)),
		zap.String("domain", string(in.Domain)),
		zap.String("complexity", in.Complexity.String()),
		zap.Float64("confidence", in.Confidence),
		zap.Int("candidates", len(in.CandidateAgents)))

	return &Analysis{
		Intent:   in,
		Keywords: keywords,
		Entities: extractEntities(text, keywords),
	}, nil
}

func classifyAction(lower string, keywords []string) (capability.Action, bool) {
	present := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		present[k] = true
	}

	best, bestScore, tied := capability.ActionCreate, 0, false
	for _, rule := range actionRules {
		score := 0
		for _, re := range rule.patterns {
			if re.MatchString(lower) {
				score += 10
			}
		}
		for _, k := range rule.keywords {
			if present[k] {
				score += 5
			}
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = rule.action, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return capability.ActionCreate, false
	}
	return best, best != capability.ActionCreate
}

func classifyDomain(keywords []string) (capability.Domain, bool) {
	best, bestCount, tied := capability.DomainCode, 0, false
	for _, d := range capability.Domains() {
		vocab := make(map[string]bool, len(domainKeywords[d]))
		for _, w := range domainKeywords[d] {
			vocab[w] = true
		}
		count := 0
		for _, k := range keywords {
			if overlaps(k, vocab) {
				count++
			}
		}
		switch {
		case count > bestCount:
			best, bestCount, tied = d, count, false
		case count == bestCount && count > 0:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return capability.DomainCode, false
	}
	return best, best != capability.DomainCode
}

// overlaps matches a keyword, or any part of a hyphenated keyword, against vocab.
func overlaps(k string, vocab map[string]bool) bool {
	if vocab[k] {
		return true
	}
	if !strings.ContainsAny(k, "-_") {
		return false
	}
	for _, part := range strings.FieldsFunc(k, func(r rune) bool { return r == '-' || r == '_' }) {
		if vocab[part] {
			return true
		}
	}
	return false
}

func classifyComplexity(lower string, wordCount, keywordCount int) capability.Complexity {
	for _, rule := range complexityRules {
		for _, re := range rule.indicators {
			if re.MatchString(lower) {
				return rule.level
			}
		}
	}
	switch {
	case wordCount <= 8 && keywordCount <= 5:
		return capability.Simple
	case wordCount <= 20 && keywordCount <= 12:
		return capability.Medium
	case wordCount <= 50 && keywordCount <= 25:
		return capability.Complex
	default:
		return capability.Expert
	}
}

func extractRequirements(text string, keywords []string) []string {
	var reqs []string
	for _, m := range requirementRe.FindAllStringSubmatch(text, -1) {
		r := strings.TrimSpace(m[1])
		if r == "" {
			continue
		}
		reqs = append(reqs, r)
		if len(reqs) == maxRequirements {
			break
		}
	}
	if len(reqs) > 0 {
		return reqs
	}
	top := keywords
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) == 0 {
		return []string{"Handle request"}
	}
	return []string{"Handle " + strings.Join(top, " ")}
}

func extractEntities(text string, keywords []string) []Entity {
	seen := make(map[Entity]bool)
	var out []Entity
	add := func(kind EntityKind, v string) {
		e := Entity{Kind: kind, Value: v}
		if v == "" || seen[e] {
			return
		}
		seen[e] = true
		out = append(out, e)
	}

	for _, u := range urlRe.FindAllString(text, -1) {
		add(EntityURL, strings.TrimRight(u, ".,;)"))
	}
	for _, f := range fileRe.FindAllString(text, -1) {
		add(EntityFile, f)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(EntityQuoted, m[1])
		} else {
			add(EntityQuoted, m[2])
		}
	}
	for _, k := range keywords {
		if technologies[k] {
			add(EntityTechnology, k)
		}
	}
	return out
}

// ExtractKeywords splits text into lowercase tokens, dropping short words and
// stopwords, and keeps the first occurrences up to a fixed limit.
func ExtractKeywords(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
	})

	seen := make(map[string]bool)
	var result []string
	for _, w := range tokens {
		lower := strings.Trim(strings.ToLower(w), "-_")
		if utf8.RuneCountInString(lower) < 3 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		result = append(result, lower)
		if len(result) >= maxKeywords {
			break
		}
	}
	return result
}
