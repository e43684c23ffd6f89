package dex

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"poolPricer/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds fork-specific topic0 hashes for the supported event
	// names.
	Topic0Map map[string]string
}

// PoolDecoder decodes concentrated-liquidity pool logs into typed pool
// events.
type PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[string]string
}

// NewPoolDecoder builds a pool log decoder.
func NewPoolDecoder(cfg DecoderConfig) (*PoolDecoder, error) {
	parsed, err := PoolABI()
	if err != nil {
		return nil, err
	}

	topicToName := map[string]string{
		strings.ToLower(parsed.Events["Initialize"].ID.Hex()): "Initialize",
		strings.ToLower(parsed.Events["Swap"].ID.Hex()):       "Swap",
		strings.ToLower(parsed.Events["Mint"].ID.Hex()):       "Mint",
		strings.ToLower(parsed.Events["Burn"].ID.Hex()):       "Burn",
		strings.ToLower(parsed.Events["SetFee"].ID.Hex()):     "SetFee",
	}

	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		topicToName[strings.ToLower(topic0)] = name
	}

	return &PoolDecoder{
		poolABI:     parsed,
		topicToName: topicToName,
	}, nil
}

// TopicFilter returns the topic0 hashes this decoder understands, for use
// as a log filter.
func (d *PoolDecoder) TopicFilter() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for topic0 := range d.topicToName {
		topics = append(topics, common.HexToHash(topic0))
	}
	sort.Slice(topics, func(i, j int) bool {
		return topics[i].Hex() < topics[j].Hex()
	})
	return topics
}

// CanDecode checks if the topic0 is supported.
func (d *PoolDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a typed pool event. Payload failures are
// model.ErrMalformedEvent so the projector side can flag the pool stale.
func (d *PoolDecoder) Decode(log model.LogRecord, ctx DecodeContext) (model.PoolEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: missing topics", model.ErrMalformedEvent)
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported topic0 %s", model.ErrMalformedEvent, log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("%w: invalid pool address %s", model.ErrMalformedEvent, log.Address)
	}

	meta := model.EventMeta{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Timestamp:   log.Timestamp,
	}

	switch name {
	case "Initialize":
		return d.decodeInitialize(log, ctx, meta)
	case "Swap":
		return d.decodeSwap(log, meta)
	case "Mint":
		return d.decodeMint(log, meta)
	case "Burn":
		return d.decodeBurn(log, meta)
	case "SetFee":
		return d.decodeSetFee(log, meta)
	default:
		return nil, fmt.Errorf("%w: unsupported event name %s", model.ErrMalformedEvent, name)
	}
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "initialize":
		return "Initialize"
	case "swap":
		return "Swap"
	case "mint":
		return "Mint"
	case "burn":
		return "Burn"
	case "setfee":
		return "SetFee"
	default:
		return ""
	}
}

func (d *PoolDecoder) decodeInitialize(log model.LogRecord, ctx DecodeContext, meta model.EventMeta) (model.PoolEvent, error) {
	event := d.poolABI.Events["Initialize"]
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("%w: unexpected initialize values: %d", model.ErrMalformedEvent, len(values))
	}

	sqrtPrice, err := decodeBigInt(values[0])
	if err != nil {
		return nil, err
	}
	tickInt, err := decodeBigInt(values[1])
	if err != nil {
		return nil, err
	}
	tick, err := decodeTick(tickInt)
	if err != nil {
		return nil, err
	}

	// The event does not carry the fee; the pool's immutable metadata does.
	poolMeta, err := poolMetaFor(ctx, common.HexToAddress(log.Address))
	if err != nil {
		return nil, err
	}

	return model.InitializeEvent{
		EventMeta:    meta,
		Tick:         tick,
		SqrtPriceX96: sqrtPrice,
		FeePips:      poolMeta.Fee,
	}, nil
}

func (d *PoolDecoder) decodeSwap(log model.LogRecord, meta model.EventMeta) (model.PoolEvent, error) {
	event := d.poolABI.Events["Swap"]
	if _, err := parseIndexedTopics(event, log.Topics); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("%w: unexpected swap values: %d", model.ErrMalformedEvent, len(values))
	}

	sqrtPrice, err := decodeBigInt(values[2])
	if err != nil {
		return nil, err
	}
	liquidity, err := decodeBigInt(values[3])
	if err != nil {
		return nil, err
	}
	tickInt, err := decodeBigInt(values[4])
	if err != nil {
		return nil, err
	}
	tick, err := decodeTick(tickInt)
	if err != nil {
		return nil, err
	}

	return model.SwapEvent{
		EventMeta:    meta,
		Tick:         tick,
		Liquidity:    liquidity,
		SqrtPriceX96: sqrtPrice,
	}, nil
}

func (d *PoolDecoder) decodeMint(log model.LogRecord, meta model.EventMeta) (model.PoolEvent, error) {
	bottom, top, amount, err := d.decodePosition(d.poolABI.Events["Mint"], log, 4, 1)
	if err != nil {
		return nil, err
	}
	return model.MintEvent{EventMeta: meta, BottomTick: bottom, TopTick: top, Amount: amount}, nil
}

func (d *PoolDecoder) decodeBurn(log model.LogRecord, meta model.EventMeta) (model.PoolEvent, error) {
	bottom, top, amount, err := d.decodePosition(d.poolABI.Events["Burn"], log, 3, 0)
	if err != nil {
		return nil, err
	}
	return model.BurnEvent{EventMeta: meta, BottomTick: bottom, TopTick: top, Amount: amount}, nil
}

// decodePosition extracts the tick range and liquidity amount shared by Mint
// and Burn. The two events differ only in their non-indexed layout:
// amountPos names the position of the liquidity amount.
func (d *PoolDecoder) decodePosition(event abi.Event, log model.LogRecord, wantValues, amountPos int) (int32, int32, *big.Int, error) {
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return 0, 0, nil, err
	}

	var indexed struct {
		Owner     common.Address
		TickLower *big.Int
		TickUpper *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: parse topics: %v", model.ErrMalformedEvent, err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(values) != wantValues {
		return 0, 0, nil, fmt.Errorf("%w: unexpected %s values: %d", model.ErrMalformedEvent, event.Name, len(values))
	}

	amount, err := decodeBigInt(values[amountPos])
	if err != nil {
		return 0, 0, nil, err
	}

	bottom, err := decodeTick(indexed.TickLower)
	if err != nil {
		return 0, 0, nil, err
	}
	top, err := decodeTick(indexed.TickUpper)
	if err != nil {
		return 0, 0, nil, err
	}
	return bottom, top, amount, nil
}

func (d *PoolDecoder) decodeSetFee(log model.LogRecord, meta model.EventMeta) (model.PoolEvent, error) {
	event := d.poolABI.Events["SetFee"]
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: unexpected set fee values: %d", model.ErrMalformedEvent, len(values))
	}
	fee, err := decodeBigInt(values[0])
	if err != nil {
		return nil, err
	}
	if !fee.IsUint64() || fee.Uint64() >= 1_000_000 {
		return nil, fmt.Errorf("%w: fee %s out of range", model.ErrMalformedEvent, fee)
	}
	return model.ChangeFeeEvent{EventMeta: meta, FeePips: uint32(fee.Uint64())}, nil
}

func decodeBigInt(value interface{}) (*big.Int, error) {
	v, err := asBigInt(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	return v, nil
}

func decodeTick(value *big.Int) (int32, error) {
	tick, err := int24FromBig(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
	}
	return tick, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("%w: expected %d topics, got %d", model.ErrMalformedEvent, indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid topic: %v", model.ErrMalformedEvent, err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("%w: topic length %d", model.ErrMalformedEvent, len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid data: %v", model.ErrMalformedEvent, err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", model.ErrMalformedEvent, event.Name, err)
	}
	return values, nil
}
