package scanner

import (
	"regexp"
	"strconv"
	"strings"
)

// ErrorClass buckets provider errors into the three behaviors the adaptive
// scanner distinguishes.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassRateLimited
	ClassRangeExceeded
)

// Classification is the outcome of classifying one provider error.
// RangeLimit is the provider-reported maximum block span when it could be
// parsed out of the message, 0 otherwise.
type Classification struct {
	Class      ErrorClass
	RangeLimit uint64
}

// Rule matches one provider error shape. Rules run in order; the first
// match wins.
type Rule struct {
	Name  string
	Match func(msg string) (Classification, bool)
}

// Classifier turns free-text provider errors into typed classes through a
// pluggable rule table, so provider-specific quirks stay in data rather
// than scattered substring checks.
type Classifier struct {
	rules []Rule
}

func NewClassifier(extra ...Rule) *Classifier {
	c := &Classifier{}
	c.rules = append(c.rules, extra...)
	c.rules = append(c.rules, defaultRules()...)
	return c
}

// AddRule prepends a provider-specific rule.
func (c *Classifier) AddRule(r Rule) {
	c.rules = append([]Rule{r}, c.rules...)
}

func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassTransient}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		if cls, ok := r.Match(msg); ok {
			return cls
		}
	}
	return Classification{Class: ClassTransient}
}

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate-limit",
	"too many requests",
	"compute units",
	"throughput",
	"request quota",
	"capacity exceeded",
}

var rangeMarkers = []string{
	"block range",
	"range too large",
	"range is too large",
	"too many blocks",
	"block limit",
	"exceed maximum block",
	"logs are limited",
}

var rangeLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\d,]+)\s*block(?:s)?\s*range`),
	regexp.MustCompile(`up to a?\s*([\d,]+)\s*block`),
	regexp.MustCompile(`limited to\s*(?:a\s*)?([\d,]+)`),
	regexp.MustCompile(`max(?:imum)?(?:\s*is)?[:\s]+([\d,]+)`),
	regexp.MustCompile(`exceed(?:s)?\s*([\d,]+)`),
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name: "rate-limited",
			Match: func(msg string) (Classification, bool) {
				for _, marker := range rateLimitMarkers {
					if strings.Contains(msg, marker) {
						return Classification{Class: ClassRateLimited}, true
					}
				}
				return Classification{}, false
			},
		},
		{
			Name: "block-range-exceeded",
			Match: func(msg string) (Classification, bool) {
				for _, marker := range rangeMarkers {
					if strings.Contains(msg, marker) {
						return Classification{
							Class:      ClassRangeExceeded,
							RangeLimit: parseRangeLimit(msg),
						}, true
					}
				}
				return Classification{}, false
			},
		},
	}
}

func parseRangeLimit(msg string) uint64 {
	for _, re := range rangeLimitPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		digits := strings.ReplaceAll(m[1], ",", "")
		n, err := strconv.ParseUint(digits, 10, 64)
		if err == nil && n > 0 {
			return n
		}
	}
	return 0
}
