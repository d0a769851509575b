package scanner

import (
	"errors"
	"testing"
)

func TestClassifyRateLimited(t *testing.T) {
	c := NewClassifier()
	cases := []string{
		"429 Too Many Requests",
		"exceeded its compute units per second capacity",
		"rate limit reached, please retry",
		"Your app has exceeded its throughput",
	}
	for _, msg := range cases {
		if got := c.Classify(errors.New(msg)); got.Class != ClassRateLimited {
			t.Errorf("%q: got class %v, want rate-limited", msg, got.Class)
		}
	}
}

func TestClassifyRangeExceededWithLimit(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		msg   string
		limit uint64
	}{
		{"eth_getLogs is limited to a 10 block range", 10},
		{"block range is too large, maximum is 2048", 2048},
		{"query exceeds max block range 100,000", 0}, // marker "block range" w/ parsable number
		{"you can make eth_getLogs requests with up to a 2,000 block range", 2000},
	}
	for _, tc := range cases {
		got := c.Classify(errors.New(tc.msg))
		if got.Class != ClassRangeExceeded {
			t.Errorf("%q: got class %v, want range-exceeded", tc.msg, got.Class)
			continue
		}
		if tc.limit != 0 && got.RangeLimit != tc.limit {
			t.Errorf("%q: got limit %d, want %d", tc.msg, got.RangeLimit, tc.limit)
		}
	}
}

func TestClassifyTransientFallback(t *testing.T) {
	c := NewClassifier()
	for _, msg := range []string{"connection refused", "EOF", "i/o timeout"} {
		if got := c.Classify(errors.New(msg)); got.Class != ClassTransient {
			t.Errorf("%q: got class %v, want transient", msg, got.Class)
		}
	}
	if got := c.Classify(nil); got.Class != ClassTransient {
		t.Errorf("nil error should classify transient")
	}
}

func TestProviderSpecificRuleWins(t *testing.T) {
	c := NewClassifier()
	c.AddRule(Rule{
		Name: "quirky-provider",
		Match: func(msg string) (Classification, bool) {
			if msg == "whoa there partner" {
				return Classification{Class: ClassRateLimited}, true
			}
			return Classification{}, false
		},
	})
	if got := c.Classify(errors.New("whoa there partner")); got.Class != ClassRateLimited {
		t.Fatalf("custom rule should classify, got %v", got.Class)
	}
}

func TestParseRangeLimitStripsCommas(t *testing.T) {
	if got := parseRangeLimit("limited to 10,000"); got != 10000 {
		t.Fatalf("got %d want 10000", got)
	}
}
