package dex

import (
	"context"

	"go.uber.org/zap"

	"poolPricer/internal/chain"
	"poolPricer/internal/model"
)

// Decoder defines a pool log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (model.PoolEvent, error)
}

// DecodeContext provides shared dependencies for decoders.
type DecodeContext struct {
	Context        context.Context
	Chain          *chain.Client
	PoolMetaCache  *PoolMetaCache
	TokenMetaCache *TokenMetaCache
	Logger         *zap.Logger
}
