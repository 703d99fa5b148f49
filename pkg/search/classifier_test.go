package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		query string
		want  QueryType
	}{
		{"What is the capital of France?", Factual},
		{"Why does this design favor simplicity?", Conceptual},
		{"Can you help me please?", Conversational},
		{"asdf qwer", Unknown},
		{"", Unknown},
		{"How many moons does Mars have", Factual},
		{"Explain the difference between TCP and UDP", Conceptual},
		{"They said this was fine", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.query))
		})
	}
}

func TestClassify_TieRules(t *testing.T) {
	// One factual ("what is") and one conceptual ("concept") keyword: neither
	// count is strictly higher.
	assert.Equal(t, Unknown, Classify("what is the concept"))

	// Two against two is still a tie.
	assert.Equal(t, Unknown, Classify("what is the capital, and why this design"))

	// Conversational wins on any positive count, even when outnumbered.
	assert.Equal(t, Conversational, Classify("thanks! what is the capital and population of France"))
	assert.Equal(t, Conversational, Classify("please explain why the design principle matters"))
}

func TestParseQueryType(t *testing.T) {
	for in, want := range map[string]QueryType{
		"":               "",
		"factual":        Factual,
		" Conceptual ":   Conceptual,
		"CONVERSATIONAL": Conversational,
		"unknown":        Unknown,
	} {
		got, ok := ParseQueryType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseQueryType("poetic")
	assert.False(t, ok)
}

func TestQueryType_Concrete(t *testing.T) {
	assert.True(t, Factual.Concrete())
	assert.True(t, Conversational.Concrete())
	assert.False(t, Unknown.Concrete())
	assert.False(t, QueryType("").Concrete())
}
