// SPDX-License-Identifier: Apache-2.0
package guardrails

import (
	"context"
	"regexp"
	"strings"
)

// PIIFilter masks common personally identifiable patterns.
type PIIFilter struct {
	patterns []piiPattern
}

type piiPattern struct {
	kind string
	re   *regexp.Regexp
	mask string
}

// NewPIIFilter builds a filter covering email addresses, phone numbers,
// credit card numbers and US social security numbers.
func NewPIIFilter() *PIIFilter {
	return &PIIFilter{patterns: []piiPattern{
		{
			kind: "pii:email",
			re:   regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			mask: "[EMAIL]",
		},
		{
			kind: "pii:phone",
			re:   regexp.MustCompile(`\+?\d{1,3}[\s\-.]?\(?\d{2,4}\)?[\s\-.]?\d{3,4}[\s\-.]?\d{3,4}`),
			mask: "[PHONE]",
		},
		{
			kind: "pii:credit_card",
			re:   regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
			mask: "[CARD]",
		},
		{
			kind: "pii:ssn",
			re:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			mask: "[SSN]",
		},
	}}
}

func (f *PIIFilter) ID() string { return "pii" }

func (f *PIIFilter) Filter(_ context.Context, content string) FilterResult {
	out := FilterResult{Content: content}
	for _, p := range f.patterns {
		if !p.re.MatchString(out.Content) {
			continue
		}
		out.Content = p.re.ReplaceAllString(out.Content, p.mask)
		out.Modified = true
		out.Redactions = append(out.Redactions, Redaction{Type: p.kind, Replacement: p.mask})
	}
	return out
}

// InjectionDetector blocks inputs carrying common prompt-injection phrasing.
type InjectionDetector struct {
	patterns []*regexp.Regexp
}

var defaultInjectionPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`,
	`(?i)disregard\s+(your|the|all)\s+(instructions|rules|guidelines)`,
	`(?i)you\s+are\s+now\s+(a|an|in)\s+.*(mode|character|persona)`,
	`(?i)reveal\s+(your\s+)?(system\s+prompt|instructions|initial\s+prompt)`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)\bDAN\b.*mode`,
}

// NewInjectionDetector builds a detector with the default pattern set plus
// any extra patterns.
func NewInjectionDetector(extra ...string) *InjectionDetector {
	d := &InjectionDetector{}
	for _, p := range append(append([]string{}, defaultInjectionPatterns...), extra...) {
		if re, err := regexp.Compile(p); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	return d
}

func (d *InjectionDetector) ID() string { return "prompt_injection" }

func (d *InjectionDetector) CheckInput(_ context.Context, input string) CheckResult {
	for _, re := range d.patterns {
		if re.MatchString(input) {
			return CheckResult{
				Blocked: true,
				Reason:  "input matches prompt injection pattern",
			}
		}
	}
	return CheckResult{}
}

// KeywordChecker blocks inputs containing any of the configured keywords.
// Matching is case-insensitive on whole words.
type KeywordChecker struct {
	category string
	words    []string
}

// NewKeywordChecker builds a checker for one content category.
func NewKeywordChecker(category string, words ...string) *KeywordChecker {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		lowered = append(lowered, strings.ToLower(w))
	}
	return &KeywordChecker{category: category, words: lowered}
}

func (c *KeywordChecker) ID() string { return "content:" + c.category }

func (c *KeywordChecker) CheckInput(_ context.Context, input string) CheckResult {
	fields := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, field := range fields {
		for _, w := range c.words {
			if field == w {
				return CheckResult{
					Blocked: true,
					Reason:  "input contains forbidden term",
				}
			}
		}
	}
	return CheckResult{}
}
