package qdrant

import (
	"errors"
	"testing"
)

func TestResolveConfigFromEnvValid(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "trace_it")
	t.Setenv("QDRANT_NAMESPACE_PREFIX", "tr")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")
	t.Setenv("QDRANT_CREATE_COLLECTION", "true")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.URL != "http://qdrant:6333" {
		t.Fatalf("URL: want=%q got=%q", "http://qdrant:6333", cfg.URL)
	}
	if cfg.Collection != "trace_it" {
		t.Fatalf("Collection: want=%q got=%q", "trace_it", cfg.Collection)
	}
	if cfg.NamespacePrefix != "tr" {
		t.Fatalf("NamespacePrefix: want=%q got=%q", "tr", cfg.NamespacePrefix)
	}
	if cfg.VectorDim != 1536 {
		t.Fatalf("VectorDim: want=%d got=%d", 1536, cfg.VectorDim)
	}
	if !cfg.CreateCollection {
		t.Fatalf("CreateCollection: want=true got=false")
	}
}

func TestResolveConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("QDRANT_NAMESPACE_PREFIX", "")
	t.Setenv("QDRANT_VECTOR_DIM", "1536")
	t.Setenv("QDRANT_CREATE_COLLECTION", "")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Collection != "trace_content" {
		t.Fatalf("Collection: want=%q got=%q", "trace_content", cfg.Collection)
	}
	if cfg.NamespacePrefix != "trace" {
		t.Fatalf("NamespacePrefix: want=%q got=%q", "trace", cfg.NamespacePrefix)
	}
	if cfg.CreateCollection {
		t.Fatalf("CreateCollection: want=false got=true")
	}
}

func TestResolveConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name string
		url  string
		dim  string
		want ConfigErrorCode
	}{
		{"missing url", "", "1536", ConfigErrorMissingURL},
		{"invalid url", "qdrant:6333", "1536", ConfigErrorInvalidURL},
		{"missing dim", "http://qdrant:6333", "", ConfigErrorMissingVectorDim},
		{"zero dim", "http://qdrant:6333", "0", ConfigErrorInvalidVectorDim},
		{"garbage dim", "http://qdrant:6333", "abc", ConfigErrorInvalidVectorDim},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("QDRANT_URL", tc.url)
			t.Setenv("QDRANT_VECTOR_DIM", tc.dim)

			_, err := ResolveConfigFromEnv()
			if err == nil {
				t.Fatalf("ResolveConfigFromEnv: expected error, got nil")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got=%T", err)
			}
			if cfgErr.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, cfgErr.Code)
			}
		})
	}
}
