package model

// PoolMeta captures immutable pool metadata.
type PoolMeta struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`
}

// TokenMeta captures ERC20 metadata for one side of a pool's pair.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// PoolState is a point-in-time read of the pool's mutable state, used to
// seed a book when no event history is available.
type PoolState struct {
	Liquidity    string `json:"liquidity"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
	Block        uint64 `json:"block"`
}
