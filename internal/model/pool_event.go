package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ErrMalformedEvent signals an event payload that failed validation. The
// affected pool keeps its previous snapshot and is flagged stale.
var ErrMalformedEvent = errors.New("malformed event")

// EventMeta carries the on-chain ordering of a pool event.
type EventMeta struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   uint64
}

// Meta returns the event's on-chain ordering metadata.
func (m EventMeta) Meta() EventMeta { return m }

// PoolEvent is the closed set of decoded pool events a projector can apply:
// Initialize, Mint, Burn, Swap, ChangeFee. The variants are plain structs so
// the projector's switch is exhaustive by construction.
type PoolEvent interface {
	Meta() EventMeta
	Name() string
}

// InitializeEvent sets the starting tick, price, and fee of a pool. Valid only
// as a pool's first event.
type InitializeEvent struct {
	EventMeta
	Tick         int32
	SqrtPriceX96 *big.Int
	FeePips      uint32
}

// MintEvent adds liquidity between two tick boundaries.
type MintEvent struct {
	EventMeta
	BottomTick int32
	TopTick    int32
	Amount     *big.Int
}

// BurnEvent removes liquidity between two tick boundaries.
type BurnEvent struct {
	EventMeta
	BottomTick int32
	TopTick    int32
	Amount     *big.Int
}

// SwapEvent carries authoritative post-trade pool state; the chain already
// folded in every tick crossing of the trade.
type SwapEvent struct {
	EventMeta
	Tick         int32
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
}

// ChangeFeeEvent replaces the pool's swap fee rate.
type ChangeFeeEvent struct {
	EventMeta
	FeePips uint32
}

func (InitializeEvent) Name() string { return "Initialize" }
func (MintEvent) Name() string       { return "Mint" }
func (BurnEvent) Name() string       { return "Burn" }
func (SwapEvent) Name() string       { return "Swap" }
func (ChangeFeeEvent) Name() string  { return "ChangeFee" }

// EventRecord is the JSONL representation of a decoded pool event.
type EventRecord struct {
	ChainID     uint64          `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     string          `json:"address"`
	EventName   string          `json:"event_name"`
	Timestamp   uint64          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

type initializePayload struct {
	Tick         int32  `json:"tick"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	FeePips      uint32 `json:"fee_pips"`
}

type mintPayload struct {
	BottomTick int32  `json:"bottom_tick"`
	TopTick    int32  `json:"top_tick"`
	Amount     string `json:"amount"`
}

type swapPayload struct {
	Tick         int32  `json:"tick"`
	Liquidity    string `json:"liquidity"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
}

type changeFeePayload struct {
	FeePips uint32 `json:"fee_pips"`
}

// Event decodes the record's payload into its typed variant. Unknown event
// names and invalid payloads are ErrMalformedEvent.
func (r EventRecord) Event() (PoolEvent, error) {
	meta := EventMeta{
		BlockNumber: r.BlockNumber,
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
		Timestamp:   r.Timestamp,
	}

	switch r.EventName {
	case "Initialize":
		var p initializePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: initialize payload: %v", ErrMalformedEvent, err)
		}
		price, err := parseUnsigned(p.SqrtPriceX96, "sqrt_price_x96")
		if err != nil {
			return nil, err
		}
		return InitializeEvent{EventMeta: meta, Tick: p.Tick, SqrtPriceX96: price, FeePips: p.FeePips}, nil
	case "Mint", "Burn":
		var p mintPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, r.EventName, err)
		}
		if p.BottomTick >= p.TopTick {
			return nil, fmt.Errorf("%w: tick range [%d, %d)", ErrMalformedEvent, p.BottomTick, p.TopTick)
		}
		amount, err := parseUnsigned(p.Amount, "amount")
		if err != nil {
			return nil, err
		}
		if r.EventName == "Mint" {
			return MintEvent{EventMeta: meta, BottomTick: p.BottomTick, TopTick: p.TopTick, Amount: amount}, nil
		}
		return BurnEvent{EventMeta: meta, BottomTick: p.BottomTick, TopTick: p.TopTick, Amount: amount}, nil
	case "Swap":
		var p swapPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: swap payload: %v", ErrMalformedEvent, err)
		}
		liquidity, err := parseUnsigned(p.Liquidity, "liquidity")
		if err != nil {
			return nil, err
		}
		price, err := parseUnsigned(p.SqrtPriceX96, "sqrt_price_x96")
		if err != nil {
			return nil, err
		}
		return SwapEvent{EventMeta: meta, Tick: p.Tick, Liquidity: liquidity, SqrtPriceX96: price}, nil
	case "ChangeFee":
		var p changeFeePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: change fee payload: %v", ErrMalformedEvent, err)
		}
		return ChangeFeeEvent{EventMeta: meta, FeePips: p.FeePips}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event name %q", ErrMalformedEvent, r.EventName)
	}
}

// RecordFromEvent is the inverse of Event, used when persisting decoded
// events to JSONL.
func RecordFromEvent(chainID uint64, address string, ev PoolEvent) (EventRecord, error) {
	var payload interface{}
	switch e := ev.(type) {
	case InitializeEvent:
		payload = initializePayload{Tick: e.Tick, SqrtPriceX96: bigString(e.SqrtPriceX96), FeePips: e.FeePips}
	case MintEvent:
		payload = mintPayload{BottomTick: e.BottomTick, TopTick: e.TopTick, Amount: bigString(e.Amount)}
	case BurnEvent:
		payload = mintPayload{BottomTick: e.BottomTick, TopTick: e.TopTick, Amount: bigString(e.Amount)}
	case SwapEvent:
		payload = swapPayload{Tick: e.Tick, Liquidity: bigString(e.Liquidity), SqrtPriceX96: bigString(e.SqrtPriceX96)}
	case ChangeFeeEvent:
		payload = changeFeePayload{FeePips: e.FeePips}
	default:
		return EventRecord{}, fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, ev)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal %s payload: %w", ev.Name(), err)
	}

	meta := ev.Meta()
	return EventRecord{
		ChainID:     chainID,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		Address:     address,
		EventName:   ev.Name(),
		Timestamp:   meta.Timestamp,
		Payload:     raw,
	}, nil
}

func parseUnsigned(value, field string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, field)
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformedEvent, field, value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %s %q", ErrMalformedEvent, field, value)
	}
	return parsed, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
