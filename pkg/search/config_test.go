package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0.3, cfg.KeywordWeight)
	assert.Equal(t, 0.7, cfg.SemanticWeight)
	assert.Equal(t, FusionWeightedSum, cfg.FusionMethod)
	assert.Equal(t, 60, cfg.RRFK)
	assert.Equal(t, 3*time.Second, cfg.KeywordTimeout)
	assert.Equal(t, 5*time.Second, cfg.SemanticTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative weight", func(c *Config) { c.KeywordWeight = -1 }},
		{"unknown fusion", func(c *Config) { c.FusionMethod = "borda" }},
		{"negative rrf k", func(c *Config) { c.RRFK = -1 }},
		{"zero timeout", func(c *Config) { c.SemanticTimeout = 0 }},
		{"zero limit", func(c *Config) { c.DefaultLimit = 0 }},
		{"boost for unknown", func(c *Config) { c.Boosts[Unknown] = Boost{Keyword: 1, Semantic: 1} }},
		{"negative boost", func(c *Config) { c.Boosts[Factual] = Boost{Keyword: -1, Semantic: 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Weights(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		qt           QueryType
		wantKeyword  float64
		wantSemantic float64
	}{
		{Factual, 0.3 * 1.5, 0.7 * 0.8},
		{Conceptual, 0.3 * 0.8, 0.7 * 1.5},
		{Conversational, 0.3, 0.7 * 1.2},
		{Unknown, 0.3, 0.7},
		{"", 0.3, 0.7},
	}

	for _, tt := range tests {
		t.Run(string(tt.qt), func(t *testing.T) {
			kw, sem := cfg.Weights(tt.qt)
			assert.InDelta(t, tt.wantKeyword, kw, 1e-9)
			assert.InDelta(t, tt.wantSemantic, sem, 1e-9)
		})
	}

	delete(cfg.Boosts, Factual)
	kw, sem := cfg.Weights(Factual)
	assert.Equal(t, 0.3, kw)
	assert.Equal(t, 0.7, sem)
}
