// Package redact scrubs personally identifiable information from text
// before it reaches the embedding pipeline or the vector index.
//
// Detection is pattern based and best-effort: false negatives are
// acceptable, but placeholders use a reserved format that is never
// re-matched, so redaction is idempotent and no raw PII survives a pass
// for the patterns the policy covers.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Category identifies a class of sensitive data.
type Category string

// Built-in redaction categories.
const (
	CategoryEmail   Category = "email"
	CategoryPhone   Category = "phone"
	CategoryName    Category = "name"
	CategoryAccount Category = "account"
)

// Rule pairs a category with the pattern that detects it.
// Rules are applied in order; earlier rules win on overlapping spans.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Policy is an ordered list of redaction rules. The detected categories
// and their precision/recall trade-offs are policy, not algorithm: callers
// may supply their own.
type Policy []Rule

// Pattern ordering matters: URL-encoded and mailto emails must be caught
// before the bare email pattern, and account numbers before phone numbers
// (an SSN-style span would otherwise match as a phone).
var (
	urlEmailPattern = regexp.MustCompile(`(?i)(?:email|mail|to)=[a-zA-Z0-9._%+\-]+(?:%40|@)[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	mailtoPattern   = regexp.MustCompile(`mailto:[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	accountPattern  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern    = regexp.MustCompile(`\+?\d[\d\s\-().]{7,14}\d`)
	namePattern     = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)
)

// placeholderPattern matches the reserved placeholder format. Text inside
// a placeholder is never scanned again, which makes Redact idempotent.
var placeholderPattern = regexp.MustCompile(`\[REDACTED:[a-z]+:\d+\]`)

// DefaultPolicy returns the built-in rule set covering emails (including
// URL-encoded and mailto forms), account numbers, phone numbers, and
// honorific-prefixed person names.
func DefaultPolicy() Policy {
	return Policy{
		{Category: CategoryEmail, Pattern: urlEmailPattern},
		{Category: CategoryEmail, Pattern: mailtoPattern},
		{Category: CategoryEmail, Pattern: emailPattern},
		{Category: CategoryAccount, Pattern: accountPattern},
		{Category: CategoryPhone, Pattern: phonePattern},
		{Category: CategoryName, Pattern: namePattern},
	}
}

// Redactor applies a redaction policy to text.
// Redactor is stateless and safe for concurrent use.
type Redactor struct {
	policy Policy
}

// New creates a Redactor with the given policy.
// A nil policy selects DefaultPolicy.
func New(policy Policy) *Redactor {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Redactor{policy: policy}
}

// Redact returns an anonymized copy of text plus the number of redactions
// per category. It is a pure function: no side effects, never fails, and
// treats unparseable spans as plain text. Placeholder indexes are stable
// per category within one call.
func (r *Redactor) Redact(text string) (string, map[Category]int) {
	counts := make(map[Category]int)
	out := text
	for _, rule := range r.policy {
		out = replaceOutsidePlaceholders(out, rule, counts)
	}
	return out, counts
}

// replaceOutsidePlaceholders applies one rule to every span of text that
// is not already a placeholder. This keeps earlier replacements (and any
// pre-anonymized input) untouched by later rules.
func replaceOutsidePlaceholders(text string, rule Rule, counts map[Category]int) string {
	locs := placeholderPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return applyRule(text, rule, counts)
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locs {
		b.WriteString(applyRule(text[last:loc[0]], rule, counts))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(applyRule(text[last:], rule, counts))
	return b.String()
}

func applyRule(segment string, rule Rule, counts map[Category]int) string {
	return rule.Pattern.ReplaceAllStringFunc(segment, func(string) string {
		idx := counts[rule.Category]
		counts[rule.Category]++
		return fmt.Sprintf("[REDACTED:%s:%d]", rule.Category, idx)
	})
}
