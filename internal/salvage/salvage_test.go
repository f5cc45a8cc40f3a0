package salvage

import "testing"

func TestExtractDirectParse(t *testing.T) {
	got := Extract(`{"title": "setup"}`)
	if got != `{"title": "setup"}` {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestExtractFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"title\": \"setup\"}\n```\nLet me know if this works."
	got := Extract(text)
	if got == Nothing {
		t.Fatal("expected a document to be recovered from the fenced block")
	}
	if !gjsonValid(got) {
		t.Fatalf("recovered text is not valid JSON: %q", got)
	}
}

func TestExtractFencedBlockWithoutLanguageTag(t *testing.T) {
	text := "```\n{\"ok\": true}\n```"
	got := Extract(text)
	if got == Nothing {
		t.Fatal("expected recovery from a bare fence")
	}
}

func TestExtractBalancedBlockWithLeadingProse(t *testing.T) {
	text := `Sure, here's the result: {"subtasks": [{"title": "a"}, {"title": "b"}]} Hope that helps!`
	got := Extract(text)
	if got == Nothing {
		t.Fatal("expected balanced-block extraction to recover the object")
	}
}

func TestExtractBalancedBlockIgnoresBracesInStrings(t *testing.T) {
	want := `{"description": "use the { character carefully"}`
	got := Extract("Here is the result: " + want)
	if got != want {
		t.Fatalf("expected the balanced block to skip the brace inside the string, got %q", got)
	}
}

func TestExtractForgivingFixupsTrailingComma(t *testing.T) {
	text := `{"title": "a", "steps": ["one", "two",],}`
	got := Extract(text)
	if got == Nothing {
		t.Fatal("expected forgiving fixups to recover from a trailing comma")
	}
}

func TestExtractForgivingFixupsSingleQuotes(t *testing.T) {
	text := `{'title': 'setup', 'steps': ['one', 'two']}`
	got := Extract(text)
	if got == Nothing {
		t.Fatal("expected forgiving fixups to recover from single-quoted JSON")
	}
	if !gjsonValid(got) {
		t.Fatalf("recovered text is not valid JSON: %q", got)
	}
}

func TestExtractForgivingFixupsLeavesEmbeddedApostropheAlone(t *testing.T) {
	text := `this isn't json, and neither is this: {broken`
	got := Extract(text)
	if got != Nothing {
		t.Fatalf("expected Nothing for unrecoverable text with an apostrophe, got %q", got)
	}
}

func TestExtractReturnsNothingForGarbage(t *testing.T) {
	got := Extract("this is not json at all, just prose.")
	if got != Nothing {
		t.Fatalf("expected Nothing, got %q", got)
	}
}

func TestExtractReturnsNothingForEmptyInput(t *testing.T) {
	if got := Extract(""); got != Nothing {
		t.Fatalf("expected Nothing for empty input, got %q", got)
	}
}

func TestExtractIntoUnmarshalsRecoveredDocument(t *testing.T) {
	type plan struct {
		Title string `json:"title"`
	}
	var p plan
	ok := ExtractInto("```json\n{\"title\": \"build it\"}\n```", &p)
	if !ok {
		t.Fatal("expected ExtractInto to succeed")
	}
	if p.Title != "build it" {
		t.Fatalf("expected Title to be populated, got %q", p.Title)
	}
}

func TestExtractIntoFailsOnGarbage(t *testing.T) {
	var v map[string]any
	if ok := ExtractInto("no json here", &v); ok {
		t.Fatal("expected ExtractInto to fail on garbage input")
	}
}

func TestExtractIsIdempotentOnAlreadyValidJSON(t *testing.T) {
	text := `{"a": 1, "b": [2, 3]}`
	first := Extract(text)
	second := Extract(first)
	if first != second {
		t.Fatalf("expected idempotence, got %q then %q", first, second)
	}
}

func gjsonValid(s string) bool {
	// Re-derive validity locally rather than importing gjson into the test,
	// keeping the test focused on package behavior rather than the library.
	return Extract(s) == s
}
