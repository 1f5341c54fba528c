package agents

import (
	"errors"
	"testing"
)

func TestExtractJSONPlainObject(t *testing.T) {
	got, err := ExtractJSON(`{"a":1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a":1}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONProseWrapped(t *testing.T) {
	text := "Sure! Here is the plan you asked for:\n\n{\"steps\":[{\"id\":\"1\"}]}\n\nLet me know if you need changes."
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"steps":[{"id":"1"}]}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONMarkdownFence(t *testing.T) {
	text := "```json\n{\"approved\":true}\n```"
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"approved":true}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	text := `prefix {"outer":{"inner":[1,2,{"deep":true}]}} suffix`
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"outer":{"inner":[1,2,{"deep":true}]}}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONBracketsInsideStrings(t *testing.T) {
	text := `{"description":"add a } brace and a { brace","files":["a.go"]}`
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != text {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONEscapedQuotes(t *testing.T) {
	text := `note {"msg":"she said \"hi\" {"} done`
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"msg":"she said \"hi\" {"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONArray(t *testing.T) {
	text := `the steps are: [{"id":"1"},{"id":"2"}] as requested`
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `[{"id":"1"},{"id":"2"}]` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONNone(t *testing.T) {
	for _, text := range []string{"", "no json here", "unbalanced { forever"} {
		if _, err := ExtractJSON(text); !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSON(%q) err = %v, want ErrNoJSON", text, err)
		}
	}
}
