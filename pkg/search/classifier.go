package search

import "strings"

// QueryType is the inferred intent of a search query.
type QueryType string

const (
	Factual        QueryType = "factual"
	Conceptual     QueryType = "conceptual"
	Conversational QueryType = "conversational"
	Unknown        QueryType = "unknown"
)

// ParseQueryType maps a name to a QueryType. The empty string maps to "",
// meaning the type is inferred from the query.
func ParseQueryType(s string) (QueryType, bool) {
	switch QueryType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", true
	case Factual:
		return Factual, true
	case Conceptual:
		return Conceptual, true
	case Conversational:
		return Conversational, true
	case Unknown:
		return Unknown, true
	default:
		return "", false
	}
}

// Concrete reports whether t selects type-specific weight boosts.
func (t QueryType) Concrete() bool {
	return t == Factual || t == Conceptual || t == Conversational
}

// Keyword lists are matched as substrings of the lower-cased query, so short
// words that occur inside common words ("hi" in "this") are left out.
var (
	factualKeywords = []string{
		"what is", "what are", "what was", "who is", "who was", "who are",
		"when did", "when was", "when is", "where is", "where was", "where are",
		"which", "how many", "how much", "how old", "define", "definition",
		"capital", "date of", "population", "number of", "list of", "name of",
	}

	conceptualKeywords = []string{
		"why", "how does", "how do", "how can", "explain", "concept",
		"design", "principle", "theory", "compare", "comparison",
		"difference between", "relationship", "understand", "meaning of",
		"implication", "trade-off", "tradeoff", "approach", "philosophy",
	}

	conversationalKeywords = []string{
		"hello", "hey there", "good morning", "good evening", "thanks",
		"thank you", "please", "can you", "could you", "would you",
		"help me", "how are you", "i think", "i feel", "let's", "nice to",
	}
)

// Classify infers the query type from keyword counts. Any conversational
// keyword wins outright. Otherwise the strictly larger of the factual and
// conceptual counts wins, and a tie between them (including two equal
// non-zero counts) yields Unknown.
func Classify(query string) QueryType {
	q := strings.ToLower(query)

	if count(q, conversationalKeywords) > 0 {
		return Conversational
	}

	factual := count(q, factualKeywords)
	conceptual := count(q, conceptualKeywords)
	switch {
	case factual > conceptual:
		return Factual
	case conceptual > factual:
		return Conceptual
	default:
		return Unknown
	}
}

func count(q string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			n++
		}
	}
	return n
}
