package detector

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// heuristicRule inspects the text (and optional source URL) for one
// criterion and returns the points it contributes. Positive points lean
// REAL, negative points lean FAKE.
type heuristicRule struct {
	name  string
	check func(text, sourceURL string) int
}

// Heuristic is the deterministic rule-based detector. Its output depends
// only on the current input; it is stateless per call and never corrected.
type Heuristic struct {
	rules []heuristicRule
}

// NewHeuristic returns a Heuristic loaded with the default criteria:
// excessive capitals, sensational wording, trusted-source mentions,
// factual statement shape, and excessive punctuation.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		rules: []heuristicRule{
			{"excessive_caps", checkExcessiveCaps},
			{"emotional_words", checkEmotionalWords},
			{"trusted_source", checkTrustedSource},
			{"factual_pattern", checkFactualPattern},
			{"excessive_punctuation", checkExcessivePunctuation},
		},
	}
}

// Name implements Detector.
func (h *Heuristic) Name() string { return "heuristic" }

// Predict implements Detector. The score is the sum of all criteria;
// a non-negative score maps to REAL, a negative one to FAKE, with
// confidence growing with the score's magnitude and capped at 0.95.
func (h *Heuristic) Predict(_ context.Context, text, sourceURL string) (*Prediction, error) {
	details := make(map[string]int, len(h.rules))
	score := 0
	for _, r := range h.rules {
		pts := r.check(text, sourceURL)
		details[r.name] = pts
		score += pts
	}

	var label Label
	var confidence float64
	if score >= 0 {
		label = LabelReal
		confidence = math.Min(0.5+float64(score)*0.12, 0.95)
	} else {
		label = LabelFake
		confidence = math.Min(0.5+float64(-score)*0.1, 0.95)
	}

	return &Prediction{
		Label:      label,
		Confidence: round4(confidence),
		Score:      score,
		Details:    details,
		Method:     "heuristic rules",
	}, nil
}

// ── Criteria ─────────────────────────────────────────────────────────────────

// trustedSources are publications and fact-checkers whose mention in the
// text or source URL counts in favour of the item.
var trustedSources = []string{
	"bbc.com", "reuters.com", "apnews.com", "nytimes.com",
	"theguardian.com", "washingtonpost.com", "cnn.com",
	"npr.org", "politifact.com", "snopes.com", "factcheck.org",
	"bbc", "reuters", "associated press", "ap news",
}

// sensationalWords are emotionally loaded terms typical of fabricated or
// clickbait items. Matched as whole words.
var sensationalWords = []string{
	"shocking", "unbelievable", "amazing", "incredible", "outrageous",
	"scandal", "bombshell", "explosive", "stunning", "breaking",
	"urgent", "alert", "danger", "exposed", "revealed",
	"hate", "furious", "terrified", "horrified", "disgusted",
	"ecstatic", "devastated", "outraged", "warning",
}

var sensationalPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(sensationalWords))
	for i, w := range sensationalWords {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}()

var factualPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bis\s+(?:a|an|the)\s+`),
	regexp.MustCompile(`\bare\s+(?:a|an|the)\s+`),
	regexp.MustCompile(`\b(?:located|situated)\s+in\b`),
	regexp.MustCompile(`\b(?:country|continent|capital|city)\b`),
	regexp.MustCompile(`\b(?:percent|%\s*of)\b`),
}

func checkExcessiveCaps(text, _ string) int {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	upper := 0
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	ratio := float64(upper) / float64(len(runes))
	switch {
	case ratio > 0.25:
		return -2
	case ratio > 0.15:
		return -1
	}
	return 0
}

func checkEmotionalWords(text, _ string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, p := range sensationalPatterns {
		if p.MatchString(lower) {
			count++
		}
	}
	switch {
	case count >= 4:
		return -3
	case count >= 2:
		return -2
	case count >= 1:
		return -1
	}
	return 0
}

func checkTrustedSource(text, sourceURL string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, s := range trustedSources {
		if strings.Contains(lower, s) {
			count++
		}
	}
	if sourceURL != "" {
		urlLower := strings.ToLower(sourceURL)
		urlCount := 0
		for _, s := range trustedSources {
			if strings.Contains(urlLower, s) {
				urlCount++
			}
		}
		if urlCount > count {
			count = urlCount
		}
	}
	switch {
	case count >= 2:
		return 2
	case count >= 1:
		return 1
	}
	return 0
}

// checkFactualPattern rewards short, neutral, declarative statements
// ("Nigeria is an African country") that carry no sensational wording.
func checkFactualPattern(text, _ string) int {
	clean := strings.TrimSpace(text)
	if len(clean) < 15 {
		return 0
	}
	lower := strings.ToLower(clean)

	factual := false
	for _, p := range factualPatterns {
		if p.MatchString(lower) {
			factual = true
			break
		}
	}
	if !factual {
		return 0
	}

	for _, w := range sensationalWords[:15] {
		if strings.Contains(lower, w) {
			return 0
		}
	}
	if strings.Contains(clean, "!!!") || strings.Contains(clean, "???") || strings.Count(clean, "!") > 2 {
		return 0
	}

	words := len(strings.Fields(clean))
	switch {
	case words <= 15:
		return 2
	case words <= 50:
		return 1
	}
	return 0
}

func checkExcessivePunctuation(text, _ string) int {
	if strings.Contains(text, "!!!") || strings.Contains(text, "???") {
		return -2
	}
	if strings.Count(text, "!") > 3 || strings.Count(text, "?") > 3 {
		return -1
	}
	return 0
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
