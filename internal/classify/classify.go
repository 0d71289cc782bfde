// Package classify holds the stateless report heuristics: task-type
// labelling, low-effort detection and the text normalization shared with
// repeat detection.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type TaskType string

const (
	Accounts  TaskType = "accounts"
	Chat      TaskType = "chat"
	Transfers TaskType = "transfers"
	Skip      TaskType = "skip"
	Other     TaskType = "other"
)

type rule struct {
	label   TaskType
	pattern *regexp.Regexp
}

// rules are evaluated top to bottom and the first match wins. Keep the order.
var rules = []rule{
	{Accounts, regexp.MustCompile(`аккаунт|happn|созда`)},
	{Chat, regexp.MustCompile(`чат|писал|ответ|чатинг`)},
	{Transfers, regexp.MustCompile(`перевел|инста|insta|instagram`)},
	{Skip, regexp.MustCompile(`ничего|нет`)},
}

// Labels returns every label Classify can produce, in rule order.
func Labels() []TaskType {
	out := make([]TaskType, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.label)
	}
	return append(out, Other)
}

// Classify maps report text to a task type. Matching is case-insensitive;
// empty text is Other.
func Classify(text string) TaskType {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Other
	}
	for _, r := range rules {
		if r.pattern.MatchString(lower) {
			return r.label
		}
	}
	return Other
}

// DefaultMinLength is the minimum-effort threshold in characters.
const DefaultMinLength = 15

var boilerplate = regexp.MustCompile(`делал аккаунты|проверял|писал людям`)

// IsSuspicious applies Suspicious with DefaultMinLength.
func IsSuspicious(text string) bool {
	return Suspicious(text, DefaultMinLength)
}

// Suspicious flags text that is shorter than minLength characters after
// trimming, or that contains a known boilerplate phrase.
func Suspicious(text string, minLength int) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minLength {
		return true
	}
	return boilerplate.MatchString(strings.ToLower(trimmed))
}

// Length is the character count stored with a report and fed into the
// running average.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Normalize lowercases, collapses whitespace runs to one space and trims.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
