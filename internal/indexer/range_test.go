package indexer

import (
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	cases := []struct {
		name      string
		from, to  uint64
		batchSize uint64
		want      []BlockRange
	}{
		{
			name: "even split", from: 100, to: 105, batchSize: 2,
			want: []BlockRange{{100, 101}, {102, 103}, {104, 105}},
		},
		{
			name: "ragged tail", from: 0, to: 10, batchSize: 4,
			want: []BlockRange{{0, 3}, {4, 7}, {8, 10}},
		},
		{
			name: "single block", from: 5, to: 5, batchSize: 10,
			want: []BlockRange{{5, 5}},
		},
		{
			name: "batch covers range", from: 7, to: 9, batchSize: 1000,
			want: []BlockRange{{7, 9}},
		},
	}

	for _, tc := range cases {
		got, err := SplitRange(tc.from, tc.to, tc.batchSize)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}
