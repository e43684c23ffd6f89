package model

// SnapshotTick is one tick boundary in a recovered pool snapshot.
type SnapshotTick struct {
	TickIndex    int32  `json:"tick_index"`
	LiquidityNet string `json:"liquidity_net"`
	Upper        bool   `json:"upper"`
}

// Snapshot is a fully-specified pool state at a block, as supplied by a
// trusted snapshot source or emitted after projection. Ticks must be strictly
// ascending with unique indices; the consumer validates before accepting.
type Snapshot struct {
	ChainID      uint64         `json:"chain_id"`
	PoolAddress  string         `json:"pool_address"`
	Token0       string         `json:"token0"`
	Token1       string         `json:"token1"`
	FeePips      uint32         `json:"fee_pips"`
	CurrentTick  int32          `json:"current_tick"`
	Liquidity    string         `json:"liquidity"`
	SqrtPriceX96 string         `json:"sqrt_price_x96,omitempty"`
	Block        uint64         `json:"block"`
	Ticks        []SnapshotTick `json:"ticks"`
}
