package detect

import (
	"fmt"
	"regexp"
	"sort"

	"ProcessMCP/internal/protocol"
)

// HandlerMatch is a scored candidate handler for a request.
type HandlerMatch struct {
	Handler protocol.HandlerMetadata
	Score   float64
	Reasons []string
}

const (
	scoreActionFull   = 0.6
	scoreActionPart   = 0.3
	scoreParamMention = 0.1
	scoreParamCap     = 0.2
	scoreVerbAgree    = 0.2
	scoreNumeric      = 0.1
)

var hasNumber = regexp.MustCompile(`\d`)

// MatchHandlers scores every handler against text, best first. Handlers
// that share nothing with the request are omitted.
func (d *Detector) MatchHandlers(text string, handlers []protocol.HandlerMetadata) []HandlerMatch {
	return d.matchHandlers(text, protocol.Words(text), handlers)
}

func (d *Detector) matchHandlers(text string, tokens []string, handlers []protocol.HandlerMetadata) []HandlerMatch {
	present := make(map[string]bool, len(tokens)*2)
	for _, token := range tokens {
		for _, s := range stems(token) {
			present[s] = true
		}
	}
	intent, hasIntent := d.strongestFromTokens(tokens)
	numeric := hasNumber.MatchString(text)

	var matches []HandlerMatch
	for _, h := range handlers {
		if h.Action == "" {
			continue
		}
		var (
			score   float64
			reasons []string
		)

		words := protocol.Words(h.Action)
		hits := 0
		for _, w := range words {
			if present[w] {
				hits++
			}
		}
		switch {
		case hits > 0 && hits == len(words):
			score += scoreActionFull
			reasons = append(reasons, fmt.Sprintf("action %s named in request", h.Action))
		case hits > 0:
			score += scoreActionPart
			reasons = append(reasons, fmt.Sprintf("action %s partially named", h.Action))
		}

		mention := 0.0
		for _, p := range h.Parameters {
			for _, w := range protocol.Words(p.Name) {
				if present[w] {
					mention += scoreParamMention
					reasons = append(reasons, fmt.Sprintf("parameter %s mentioned", p.Name))
					break
				}
			}
		}
		if mention > scoreParamCap {
			mention = scoreParamCap
		}
		score += mention

		if score == 0 {
			continue
		}

		if hasIntent && (intent.Kind == OperationWrite) == h.IsWrite {
			score += scoreVerbAgree
			reasons = append(reasons, fmt.Sprintf("verb %q agrees with handler kind", intent.Verb))
		}
		if numeric {
			for _, p := range h.Parameters {
				if p.AmountLike() {
					score += scoreNumeric
					reasons = append(reasons, "request carries a number for "+p.Name)
					break
				}
			}
		}
		if score > 1 {
			score = 1
		}
		matches = append(matches, HandlerMatch{Handler: h, Score: score, Reasons: reasons})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func (d *Detector) strongestFromTokens(tokens []string) (IntentRule, bool) {
	var best IntentRule
	for _, token := range tokens {
		if rule, ok := d.rules.lookup(token); ok && rule.Strength > best.Strength {
			best = rule
		}
	}
	return best, best.Strength > 0
}
