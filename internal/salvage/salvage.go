// Package salvage recovers structured JSON from LLM text output that may be
// wrapped in markdown fences, preceded by commentary, or otherwise not a
// clean JSON document. A bare encoding/json.Unmarshal call only handles the
// easy case; this package runs an ordered four-strategy fallback. Balanced
// JSON spans are located by a small hand-written bracket scanner that skips
// string literals, and tidwall/gjson validates every candidate.
package salvage

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Nothing is the sentinel string returned by Extract when no strategy
// recovers a valid JSON document. Chosen instead of an error return because
// callers treat salvage failure as "nothing found", never as exceptional
// (never throws).
const Nothing = ""

// Extract runs the four ordered strategies against text and returns the
// first valid JSON document found, or Nothing. The returned string is
// always either Nothing or a document gjson.Valid would accept.
func Extract(text string) string {
	if doc := directParse(text); doc != Nothing {
		return doc
	}
	if doc := fencedBlock(text); doc != Nothing {
		return doc
	}
	if doc := balancedBlock(text); doc != Nothing {
		return doc
	}
	if doc := forgivingFixups(text); doc != Nothing {
		return doc
	}
	return Nothing
}

// ExtractInto runs Extract and unmarshals the result into v. It returns
// false, leaving v untouched, if no strategy recovered a document or the
// recovered document doesn't match v's shape.
func ExtractInto(text string, v any) bool {
	doc := Extract(text)
	if doc == Nothing {
		return false
	}
	return json.Unmarshal([]byte(doc), v) == nil
}

// directParse succeeds when text, trimmed, is already valid JSON.
func directParse(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Nothing
	}
	if gjson.Valid(trimmed) {
		return trimmed
	}
	return Nothing
}

// fencedBlock looks for a ```json ... ``` or bare ``` ... ``` block and
// validates its contents as JSON.
func fencedBlock(text string) string {
	for _, fence := range []string{"```json", "```JSON", "```"} {
		start := strings.Index(text, fence)
		if start == -1 {
			continue
		}
		rest := text[start+len(fence):]
		end := strings.Index(rest, "```")
		if end == -1 {
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if candidate != "" && gjson.Valid(candidate) {
			return candidate
		}
	}
	return Nothing
}

// balancedBlock scans for the first '{' or '[' and extracts the
// bracket-balanced span starting there, ignoring braces inside string
// literals, then validates it with gjson.
func balancedBlock(text string) string {
	for i, r := range text {
		if r != '{' && r != '[' {
			continue
		}
		if span := extractBalancedSpan(text, i); span != "" && gjson.Valid(span) {
			return span
		}
	}
	return Nothing
}

// extractBalancedSpan returns the substring of text starting at open that
// is bracket-balanced, accounting for string literals and escapes, or ""
// if the brackets never close.
func extractBalancedSpan(text string, open int) string {
	openCh := text[open]
	closeCh := byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[open : i+1]
			}
		}
	}
	return ""
}

// forgivingFixups applies a small set of common LLM JSON mistakes —
// trailing commas and single-quoted strings in place of double-quoted ones
// — to the best balanced-block candidate, then re-validates.
func forgivingFixups(text string) string {
	for i, r := range text {
		if r != '{' && r != '[' {
			continue
		}
		span := extractBalancedSpan(text, i)
		if span == "" {
			continue
		}
		fixed := stripTrailingCommas(substituteSingleQuotes(span))
		if gjson.Valid(fixed) {
			return fixed
		}
	}
	return Nothing
}

// substituteSingleQuotes rewrites ' as " when s has no double quotes of its
// own but does use single quotes, recovering JSON-ish output like
// {'title': 'setup'} that a model produced instead of proper JSON. Left
// untouched when s already contains a double quote, since blindly swapping
// quote characters would corrupt any string that itself contains an
// apostrophe.
func substituteSingleQuotes(s string) string {
	if strings.ContainsRune(s, '"') || !strings.ContainsRune(s, '\'') {
		return s
	}
	return strings.ReplaceAll(s, "'", "\"")
}

// stripTrailingCommas removes commas that immediately precede a closing
// brace or bracket, a frequent LLM JSON error.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
