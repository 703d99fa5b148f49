package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "minimal",
			doc:  `{}`,
		},
		{
			name: "full",
			doc: `{
				"logging": {"level": "debug", "max_size": 10},
				"memory": {
					"hierarchy": [
						{"name": "short_term", "backend": "redis", "url": "redis://localhost:6379", "namespace": "st"},
						{"name": "long_term", "backend": "sqlite", "path": "memory.db", "purge_schedule": "@every 5m"}
					],
					"extra": [{"name": "semantic", "backend": "vector", "path": "vectors.db"}],
					"embedding": {"provider": "openai", "model": "text-embedding-3-small"}
				},
				"search": {
					"fusion_method": "reciprocal_rank_fusion",
					"keyword_timeout": "1500ms",
					"semantic_timeout": 2000000000,
					"boosts": {"factual": {"keyword": 2, "semantic": 0.5}}
				},
				"tracing": {"enabled": true, "sample_ratio": 0.25}
			}`,
		},
		{
			name:    "unknown backend",
			doc:     `{"memory": {"hierarchy": [{"name": "a", "backend": "postgres"}]}}`,
			wantErr: "backend",
		},
		{
			name:    "layer without name",
			doc:     `{"memory": {"extra": [{"backend": "memory"}]}}`,
			wantErr: "name",
		},
		{
			name:    "unknown layer field",
			doc:     `{"memory": {"extra": [{"name": "a", "backend": "memory", "ttl": 5}]}}`,
			wantErr: "ttl",
		},
		{
			name:    "bad duration",
			doc:     `{"search": {"keyword_timeout": "soon"}}`,
			wantErr: "keyword_timeout",
		},
		{
			name:    "bad fusion",
			doc:     `{"search": {"fusion_method": "max"}}`,
			wantErr: "fusion_method",
		},
		{
			name:    "bad boost type",
			doc:     `{"search": {"boosts": {"unknown": {"keyword": 1}}}}`,
			wantErr: "boosts",
		},
		{
			name:    "not json",
			doc:     `{`,
			wantErr: "schema validation error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema([]byte(tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
