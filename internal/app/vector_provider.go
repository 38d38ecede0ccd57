package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/trace-backend/internal/index"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
)

type VectorProvider string

const (
	VectorProviderQdrant VectorProvider = "qdrant"
	VectorProviderMemory VectorProvider = "memory"
)

type VectorStoreBootstrapErrorCode string

const (
	VectorStoreBootstrapErrorMissingURL       VectorStoreBootstrapErrorCode = "missing_qdrant_url"
	VectorStoreBootstrapErrorInvalidURL       VectorStoreBootstrapErrorCode = "invalid_qdrant_url"
	VectorStoreBootstrapErrorMissingColl      VectorStoreBootstrapErrorCode = "missing_qdrant_collection"
	VectorStoreBootstrapErrorMissingVector    VectorStoreBootstrapErrorCode = "missing_qdrant_vector_dim"
	VectorStoreBootstrapErrorInvalidVector    VectorStoreBootstrapErrorCode = "invalid_qdrant_vector_dim"
	VectorStoreBootstrapErrorConnectFailed    VectorStoreBootstrapErrorCode = "connect_failed"
	VectorStoreBootstrapErrorProviderInitFail VectorStoreBootstrapErrorCode = "provider_init_failed"
)

type VectorStoreBootstrapError struct {
	Code     VectorStoreBootstrapErrorCode
	Provider VectorProvider
	Cause    error
}

func (e *VectorStoreBootstrapError) Error() string {
	if e == nil {
		return "vector store bootstrap failed"
	}
	return fmt.Sprintf("vector store bootstrap failed (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *VectorStoreBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// classifyVectorStoreError tags a qdrant construction failure with a bootstrap code.
func classifyVectorStoreError(err error) error {
	if err == nil {
		return nil
	}
	code := VectorStoreBootstrapErrorProviderInitFail
	var cerr *qdrant.ConfigError
	var operr *qdrant.OperationError
	switch {
	case errors.As(err, &cerr):
		switch cerr.Code {
		case qdrant.ConfigErrorMissingURL:
			code = VectorStoreBootstrapErrorMissingURL
		case qdrant.ConfigErrorInvalidURL:
			code = VectorStoreBootstrapErrorInvalidURL
		case qdrant.ConfigErrorMissingCollection:
			code = VectorStoreBootstrapErrorMissingColl
		case qdrant.ConfigErrorMissingVectorDim:
			code = VectorStoreBootstrapErrorMissingVector
		case qdrant.ConfigErrorInvalidVectorDim:
			code = VectorStoreBootstrapErrorInvalidVector
		}
	case errors.As(err, &operr):
		code = VectorStoreBootstrapErrorConnectFailed
	}
	return &VectorStoreBootstrapError{Code: code, Provider: VectorProviderQdrant, Cause: err}
}

// resolveVectorStore picks Qdrant when configured and the in-process store otherwise.
func resolveVectorStore(log *logger.Logger, q *qdrant.Store) (index.VectorStore, VectorProvider) {
	if q != nil {
		log.Info("Selecting vector store provider", "provider", VectorProviderQdrant)
		return instrumentVectorStore(VectorProviderQdrant, q), VectorProviderQdrant
	}
	log.Warn("QDRANT_URL not set; using in-memory vector store", "provider", VectorProviderMemory)
	return instrumentVectorStore(VectorProviderMemory, index.NewMemoryStore()), VectorProviderMemory
}
