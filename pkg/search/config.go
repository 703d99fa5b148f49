package search

import (
	"errors"
	"fmt"
	"time"
)

// Fusion methods.
const (
	FusionWeightedSum = "weighted_sum"
	FusionRRF         = "reciprocal_rank_fusion"
)

// Boost multiplies the base branch weights for one query type.
type Boost struct {
	Keyword  float64 `json:"keyword" mapstructure:"keyword"`
	Semantic float64 `json:"semantic" mapstructure:"semantic"`
}

// Config holds the hybrid search settings.
type Config struct {
	KeywordWeight    float64             `json:"keyword_weight" mapstructure:"keyword_weight"`
	SemanticWeight   float64             `json:"semantic_weight" mapstructure:"semantic_weight"`
	FusionMethod     string              `json:"fusion_method" mapstructure:"fusion_method"`
	RRFK             int                 `json:"rrf_k" mapstructure:"rrf_k"`
	MinKeywordScore  float64             `json:"min_keyword_score" mapstructure:"min_keyword_score"`
	MinSemanticScore float64             `json:"min_semantic_score" mapstructure:"min_semantic_score"`
	KeywordTimeout   time.Duration       `json:"keyword_timeout" mapstructure:"keyword_timeout"`
	SemanticTimeout  time.Duration       `json:"semantic_timeout" mapstructure:"semantic_timeout"`
	DefaultLimit     int                 `json:"default_limit" mapstructure:"default_limit"`
	Boosts           map[QueryType]Boost `json:"boosts" mapstructure:"boosts"`
}

// DefaultConfig returns the default hybrid search settings.
func DefaultConfig() Config {
	return Config{
		KeywordWeight:   0.3,
		SemanticWeight:  0.7,
		FusionMethod:    FusionWeightedSum,
		RRFK:            60,
		KeywordTimeout:  3 * time.Second,
		SemanticTimeout: 5 * time.Second,
		DefaultLimit:    10,
		Boosts: map[QueryType]Boost{
			Factual:        {Keyword: 1.5, Semantic: 0.8},
			Conceptual:     {Keyword: 0.8, Semantic: 1.5},
			Conversational: {Keyword: 1.0, Semantic: 1.2},
		},
	}
}

// Validate checks the settings for values the engine cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.KeywordWeight < 0 || c.SemanticWeight < 0 {
		errs = append(errs, errors.New("weights must be non-negative"))
	}
	if c.FusionMethod != FusionWeightedSum && c.FusionMethod != FusionRRF {
		errs = append(errs, fmt.Errorf("unknown fusion method %q", c.FusionMethod))
	}
	if c.RRFK < 0 {
		errs = append(errs, errors.New("rrf_k must be non-negative"))
	}
	if c.KeywordTimeout <= 0 || c.SemanticTimeout <= 0 {
		errs = append(errs, errors.New("branch timeouts must be positive"))
	}
	if c.DefaultLimit <= 0 {
		errs = append(errs, errors.New("default_limit must be positive"))
	}
	for qt, b := range c.Boosts {
		if !qt.Concrete() {
			errs = append(errs, fmt.Errorf("boost for unsupported query type %q", qt))
		}
		if b.Keyword < 0 || b.Semantic < 0 {
			errs = append(errs, fmt.Errorf("boost for %q must be non-negative", qt))
		}
	}
	return errors.Join(errs...)
}

// Weights returns the effective keyword and semantic weights for qt. Boosts
// apply only to a concrete query type; a missing boost entry multiplies by 1.
func (c Config) Weights(qt QueryType) (keyword, semantic float64) {
	keyword, semantic = c.KeywordWeight, c.SemanticWeight
	if !qt.Concrete() {
		return keyword, semantic
	}
	if b, ok := c.Boosts[qt]; ok {
		keyword *= b.Keyword
		semantic *= b.Semantic
	}
	return keyword, semantic
}

func (c Config) clone() Config {
	out := c
	if c.Boosts != nil {
		out.Boosts = make(map[QueryType]Boost, len(c.Boosts))
		for k, v := range c.Boosts {
			out.Boosts[k] = v
		}
	}
	return out
}
