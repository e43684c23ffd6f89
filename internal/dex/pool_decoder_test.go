package dex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"poolPricer/internal/model"
)

func TestPoolDecoderSwap(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	decoder, ctx := newTestDecoder(t, pool, 2500)

	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")

	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		big.NewInt(123456789),
		big.NewInt(987654321),
		big.NewInt(-15),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}

	logRecord := newTestLogRecord(pool, poolABI.Events["Swap"].ID, data, []common.Hash{
		topicFromAddress(sender),
		topicFromAddress(recipient),
	})

	event, err := decoder.Decode(logRecord, ctx)
	if err != nil {
		t.Fatalf("decode swap: %v", err)
	}

	swap, ok := event.(model.SwapEvent)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if swap.Tick != -15 {
		t.Fatalf("tick mismatch: %d", swap.Tick)
	}
	if swap.Liquidity.String() != "987654321" {
		t.Fatalf("liquidity mismatch: %s", swap.Liquidity)
	}
	if swap.SqrtPriceX96.String() != "123456789" {
		t.Fatalf("sqrt price mismatch: %s", swap.SqrtPriceX96)
	}
	if swap.Meta().BlockNumber != 12345 || swap.Meta().LogIndex != 1 {
		t.Fatalf("meta mismatch: %+v", swap.Meta())
	}
}

func TestPoolDecoderInitialize(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x4444444444444444444444444444444444444444")
	decoder, ctx := newTestDecoder(t, pool, 500)

	sqrtPrice, ok := new(big.Int).SetString("79228162514264337593543950336", 10)
	if !ok {
		t.Fatal("parse sqrt price")
	}
	data, err := poolABI.Events["Initialize"].Inputs.NonIndexed().Pack(
		sqrtPrice,
		big.NewInt(-42),
	)
	if err != nil {
		t.Fatalf("pack initialize: %v", err)
	}

	logRecord := newTestLogRecord(pool, poolABI.Events["Initialize"].ID, data, nil)

	event, err := decoder.Decode(logRecord, ctx)
	if err != nil {
		t.Fatalf("decode initialize: %v", err)
	}

	init, ok := event.(model.InitializeEvent)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if init.Tick != -42 {
		t.Fatalf("tick mismatch: %d", init.Tick)
	}
	if init.SqrtPriceX96.String() != "79228162514264337593543950336" {
		t.Fatalf("sqrt price mismatch: %s", init.SqrtPriceX96)
	}
	if init.FeePips != 500 {
		t.Fatalf("fee mismatch: %d", init.FeePips)
	}
}

func TestPoolDecoderMintBurn(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x9999999999999999999999999999999999999999")
	decoder, ctx := newTestDecoder(t, pool, 3000)

	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	sender := common.HexToAddress("0x6666666666666666666666666666666666666666")

	mintData, err := poolABI.Events["Mint"].Inputs.NonIndexed().Pack(
		sender,
		big.NewInt(5000),
		big.NewInt(100),
		big.NewInt(200),
	)
	if err != nil {
		t.Fatalf("pack mint: %v", err)
	}

	mintRecord := newTestLogRecord(pool, poolABI.Events["Mint"].ID, mintData, []common.Hash{
		topicFromAddress(owner),
		topicFromInt24(-60),
		topicFromInt24(60),
	})

	event, err := decoder.Decode(mintRecord, ctx)
	if err != nil {
		t.Fatalf("decode mint: %v", err)
	}
	mint, ok := event.(model.MintEvent)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if mint.BottomTick != -60 || mint.TopTick != 60 {
		t.Fatalf("tick range mismatch: [%d, %d]", mint.BottomTick, mint.TopTick)
	}
	if mint.Amount.String() != "5000" {
		t.Fatalf("amount mismatch: %s", mint.Amount)
	}

	burnData, err := poolABI.Events["Burn"].Inputs.NonIndexed().Pack(
		big.NewInt(1200),
		big.NewInt(10),
		big.NewInt(20),
	)
	if err != nil {
		t.Fatalf("pack burn: %v", err)
	}

	burnRecord := newTestLogRecord(pool, poolABI.Events["Burn"].ID, burnData, []common.Hash{
		topicFromAddress(owner),
		topicFromInt24(-120),
		topicFromInt24(-60),
	})

	event, err = decoder.Decode(burnRecord, ctx)
	if err != nil {
		t.Fatalf("decode burn: %v", err)
	}
	burn, ok := event.(model.BurnEvent)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if burn.BottomTick != -120 || burn.TopTick != -60 {
		t.Fatalf("tick range mismatch: [%d, %d]", burn.BottomTick, burn.TopTick)
	}
	if burn.Amount.String() != "1200" {
		t.Fatalf("amount mismatch: %s", burn.Amount)
	}
}

func TestPoolDecoderSetFee(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x7777777777777777777777777777777777777777")
	decoder, ctx := newTestDecoder(t, pool, 3000)

	data, err := poolABI.Events["SetFee"].Inputs.NonIndexed().Pack(big.NewInt(100))
	if err != nil {
		t.Fatalf("pack set fee: %v", err)
	}

	logRecord := newTestLogRecord(pool, poolABI.Events["SetFee"].ID, data, nil)

	event, err := decoder.Decode(logRecord, ctx)
	if err != nil {
		t.Fatalf("decode set fee: %v", err)
	}
	changeFee, ok := event.(model.ChangeFeeEvent)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if changeFee.FeePips != 100 {
		t.Fatalf("fee mismatch: %d", changeFee.FeePips)
	}
}

func TestPoolDecoderMalformed(t *testing.T) {
	poolABI, err := PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	pool := common.HexToAddress("0x8888888888888888888888888888888888888888")
	decoder, ctx := newTestDecoder(t, pool, 3000)

	// Swap with truncated data.
	logRecord := newTestLogRecord(pool, poolABI.Events["Swap"].ID, []byte{0x01, 0x02}, []common.Hash{
		topicFromAddress(common.HexToAddress("0x1")),
		topicFromAddress(common.HexToAddress("0x2")),
	})

	if _, err := decoder.Decode(logRecord, ctx); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}

	// Unknown topic0.
	unknown := newTestLogRecord(pool, common.HexToHash("0xdead"), nil, nil)
	if _, err := decoder.Decode(unknown, ctx); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

func TestPoolDecoderTopicFilter(t *testing.T) {
	decoder, err := NewPoolDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	topics := decoder.TopicFilter()
	if len(topics) != 5 {
		t.Fatalf("expected 5 topics, got %d", len(topics))
	}
	for _, topic := range topics {
		if !decoder.CanDecode(topic.Hex()) {
			t.Fatalf("topic filter entry not decodable: %s", topic.Hex())
		}
	}
}

func newTestDecoder(t *testing.T, pool common.Address, fee uint32) (*PoolDecoder, DecodeContext) {
	t.Helper()

	poolMetaCache := NewPoolMetaCache()
	poolMetaCache.Set(pool, model.PoolMeta{
		Token0:      "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Token1:      "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Fee:         fee,
		TickSpacing: 60,
	})

	decoder, err := NewPoolDecoder(DecoderConfig{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	ctx := DecodeContext{
		PoolMetaCache:  poolMetaCache,
		TokenMetaCache: NewTokenMetaCache(),
		Logger:         zap.NewNop(),
	}
	return decoder, ctx
}

func newTestLogRecord(pool common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     56,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      "0xdef",
		LogIndex:    1,
		Address:     pool.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicFromInt24(value int32) common.Hash {
	bigVal := big.NewInt(int64(value))
	if value < 0 {
		bigVal = new(big.Int).Add(bigVal, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(bigVal)
}
