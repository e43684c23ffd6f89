package book

import (
	"errors"
	"testing"

	"poolPricer/internal/curve"
	"poolPricer/internal/model"
)

func validSnapshot() model.Snapshot {
	return model.Snapshot{
		ChainID:     56,
		PoolAddress: "0x1111111111111111111111111111111111111111",
		Token0:      "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Token1:      "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		FeePips:     3000,
		CurrentTick: 0,
		Liquidity:   "1000000",
		Block:       500,
		Ticks: []model.SnapshotTick{
			{TickIndex: -100, LiquidityNet: "1000000", Upper: false},
			{TickIndex: 100, LiquidityNet: "-1000000", Upper: true},
		},
	}
}

func TestNewBookFromSnapshot(t *testing.T) {
	b, err := NewBookFromSnapshot(validSnapshot())
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}

	if b.Token0() != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("token0 not lowercased: %s", b.Token0())
	}
	if b.Liquidity().String() != "1000000" {
		t.Fatalf("liquidity = %s", b.Liquidity())
	}
	if b.TickCount() != 2 {
		t.Fatalf("tick count = %d", b.TickCount())
	}

	// No price in the snapshot: derived from the current tick.
	want, err := curve.SqrtPriceAtTick(0)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if b.SqrtPriceX96().Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", b.SqrtPriceX96(), want)
	}
}

func TestNewBookFromSnapshotDropsZeroNet(t *testing.T) {
	snap := validSnapshot()
	snap.Ticks = []model.SnapshotTick{
		{TickIndex: -100, LiquidityNet: "1000000"},
		{TickIndex: 0, LiquidityNet: "0"},
		{TickIndex: 100, LiquidityNet: "-1000000", Upper: true},
	}

	b, err := NewBookFromSnapshot(snap)
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}
	if b.TickCount() != 2 {
		t.Fatalf("zero-net tick kept: %d entries", b.TickCount())
	}
}

func TestNewBookFromSnapshotRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.Snapshot)
	}{
		{"missing liquidity", func(s *model.Snapshot) { s.Liquidity = "" }},
		{"negative liquidity", func(s *model.Snapshot) { s.Liquidity = "-5" }},
		{"garbled liquidity", func(s *model.Snapshot) { s.Liquidity = "abc" }},
		{"current tick out of bounds", func(s *model.Snapshot) { s.CurrentTick = curve.MaxTick + 1 }},
		{"tick index out of bounds", func(s *model.Snapshot) { s.Ticks[0].TickIndex = curve.MinTick - 1 }},
		{"duplicate tick", func(s *model.Snapshot) { s.Ticks[1].TickIndex = s.Ticks[0].TickIndex }},
		{"descending ticks", func(s *model.Snapshot) {
			s.Ticks[0].TickIndex = 100
			s.Ticks[1].TickIndex = -100
		}},
		{"garbled net", func(s *model.Snapshot) { s.Ticks[0].LiquidityNet = "x" }},
		{"zero price", func(s *model.Snapshot) { s.SqrtPriceX96 = "0" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := validSnapshot()
			tc.mutate(&snap)
			if _, err := NewBookFromSnapshot(snap); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestTickAtReturnsCopy(t *testing.T) {
	b, err := NewBookFromSnapshot(validSnapshot())
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}

	tk := b.TickAt(0)
	tk.LiquidityNet.SetInt64(-7)

	if got := b.TickAt(0).LiquidityNet.String(); got != "1000000" {
		t.Fatalf("stored tick mutated through accessor: %s", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	original := validSnapshot()
	original.SqrtPriceX96 = "79228162514264337593543950336"

	b, err := NewBookFromSnapshot(original)
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}

	restored := b.Snapshot(original.ChainID, original.PoolAddress)
	if restored.ChainID != original.ChainID || restored.PoolAddress != original.PoolAddress {
		t.Fatalf("identity mismatch: %+v", restored)
	}
	if restored.FeePips != original.FeePips || restored.CurrentTick != original.CurrentTick {
		t.Fatalf("state mismatch: %+v", restored)
	}
	if restored.Liquidity != original.Liquidity || restored.SqrtPriceX96 != original.SqrtPriceX96 {
		t.Fatalf("amounts mismatch: %+v", restored)
	}
	if len(restored.Ticks) != len(original.Ticks) {
		t.Fatalf("tick count mismatch: %d", len(restored.Ticks))
	}
	for i := range restored.Ticks {
		if restored.Ticks[i] != original.Ticks[i] {
			t.Fatalf("tick %d mismatch: %+v vs %+v", i, restored.Ticks[i], original.Ticks[i])
		}
	}
}
