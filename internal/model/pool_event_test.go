package model

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func testMeta() EventMeta {
	return EventMeta{BlockNumber: 1234, TxHash: "0xfeed", LogIndex: 7, Timestamp: 1700000000}
}

func TestEventRecordRoundTrip(t *testing.T) {
	price, _ := new(big.Int).SetString("79228162514264337593543950336", 10)

	events := []PoolEvent{
		InitializeEvent{EventMeta: testMeta(), Tick: -5, SqrtPriceX96: price, FeePips: 3000},
		MintEvent{EventMeta: testMeta(), BottomTick: -100, TopTick: 100, Amount: big.NewInt(42)},
		BurnEvent{EventMeta: testMeta(), BottomTick: -60, TopTick: 60, Amount: big.NewInt(7)},
		SwapEvent{EventMeta: testMeta(), Tick: 12, Liquidity: big.NewInt(999), SqrtPriceX96: price},
		ChangeFeeEvent{EventMeta: testMeta(), FeePips: 500},
	}

	for _, ev := range events {
		record, err := RecordFromEvent(1, "0xpool", ev)
		if err != nil {
			t.Fatalf("%s: record: %v", ev.Name(), err)
		}
		if record.EventName != ev.Name() || record.ChainID != 1 || record.Address != "0xpool" {
			t.Fatalf("%s: record header = %+v", ev.Name(), record)
		}
		if record.BlockNumber != 1234 || record.LogIndex != 7 || record.TxHash != "0xfeed" {
			t.Fatalf("%s: record meta = %+v", ev.Name(), record)
		}

		decoded, err := record.Event()
		if err != nil {
			t.Fatalf("%s: decode: %v", ev.Name(), err)
		}
		if decoded.Name() != ev.Name() {
			t.Fatalf("decoded %s, want %s", decoded.Name(), ev.Name())
		}
		if decoded.Meta() != ev.Meta() {
			t.Fatalf("%s: meta = %+v, want %+v", ev.Name(), decoded.Meta(), ev.Meta())
		}
	}
}

func TestEventRecordRoundTripValues(t *testing.T) {
	record, err := RecordFromEvent(1, "0xpool", MintEvent{
		EventMeta:  testMeta(),
		BottomTick: -887272,
		TopTick:    887272,
		Amount:     big.NewInt(123456789),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	decoded, err := record.Event()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mint, ok := decoded.(MintEvent)
	if !ok {
		t.Fatalf("decoded %T", decoded)
	}
	if mint.BottomTick != -887272 || mint.TopTick != 887272 {
		t.Fatalf("range = [%d, %d)", mint.BottomTick, mint.TopTick)
	}
	if mint.Amount.Cmp(big.NewInt(123456789)) != 0 {
		t.Fatalf("amount = %s", mint.Amount)
	}
}

func TestEventRecordMalformed(t *testing.T) {
	cases := []struct {
		name    string
		event   string
		payload string
	}{
		{"unknown event", "Collect", `{}`},
		{"bad json", "Swap", `{`},
		{"inverted range", "Mint", `{"bottom_tick": 100, "top_tick": -100, "amount": "1"}`},
		{"equal range", "Burn", `{"bottom_tick": 60, "top_tick": 60, "amount": "1"}`},
		{"missing amount", "Mint", `{"bottom_tick": -60, "top_tick": 60, "amount": ""}`},
		{"non-numeric amount", "Mint", `{"bottom_tick": -60, "top_tick": 60, "amount": "lots"}`},
		{"negative liquidity", "Swap", `{"tick": 0, "liquidity": "-1", "sqrt_price_x96": "1"}`},
		{"missing price", "Initialize", `{"tick": 0, "sqrt_price_x96": "", "fee_pips": 3000}`},
	}

	for _, tc := range cases {
		record := EventRecord{
			ChainID:     1,
			BlockNumber: 1,
			EventName:   tc.event,
			Payload:     json.RawMessage(tc.payload),
		}
		if _, err := record.Event(); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected ErrMalformedEvent, got %v", tc.name, err)
		}
	}
}
