package revise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviseEnforcesTermCasing(t *testing.T) {
	r := New(nil)
	vocab := map[string][]string{
		"databases": {"PostgreSQL", "SQLite"},
		"mobile":    {"iPhone"},
	}

	got := r.Revise("we moved from sqlite to postgresql. iphone users noticed.", vocab)

	assert.Equal(t, "We moved from SQLite to PostgreSQL. iPhone users noticed.", got)
}

func TestReviseWholeWordsOnly(t *testing.T) {
	got := New(nil).Revise("the goroutine runs go code", map[string][]string{"lang": {"Go"}})

	assert.Equal(t, "The goroutine runs Go code", got)
}

func TestReviseSymbolTerms(t *testing.T) {
	got := New(nil).Revise("i write c++ and c# daily", map[string][]string{"lang": {"C++", "C#"}})

	assert.Equal(t, "I write C++ and C# daily", got)
}

func TestReviseLongestTermFirst(t *testing.T) {
	vocab := map[string][]string{
		"a": {"Kafka"},
		"b": {"Apache KAFKA"},
	}

	got := New(nil).Revise("apache kafka and kafka streams", vocab)

	assert.Equal(t, "Apache KAFKA and Kafka streams", got)
}

func TestReviseNormalizesWhitespace(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "only_spaces", input: "   \t ", expected: ""},
		{name: "collapse", input: "  hello    world  ", expected: "Hello world"},
		{name: "space_before_punctuation", input: "hello , world .", expected: "Hello, world."},
		{name: "blank_lines", input: "one.\n\n\n\ntwo.", expected: "One.\n\nTwo."},
		{name: "crlf", input: "one.\r\ntwo.", expected: "One.\nTwo."},
	}

	r := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Revise(tt.input, nil))
		})
	}
}

func TestReviseCapitalizesSentences(t *testing.T) {
	got := New(nil).Revise("first point. second point! third? yes", nil)

	assert.Equal(t, "First point. Second point! Third? Yes", got)
}

func TestReviseIgnoresBlankTerms(t *testing.T) {
	got := New(nil).Revise("plain text", map[string][]string{"x": {"", "  "}})

	assert.Equal(t, "Plain text", got)
}

func TestSplitSentences(t *testing.T) {
	assert.Nil(t, SplitSentences("  "))
	assert.Equal(t, []string{"One.", "Two!", "Three"}, SplitSentences("One. Two! Three"))
	assert.Equal(t, []string{"Why?", "Because."}, SplitSentences("Why?\nBecause."))
}
