package stream

import "testing"

func TestLogRangeCoversCoalescedHeads(t *testing.T) {
	tests := []struct {
		name        string
		lastFetched uint64
		head        uint64
		wantFrom    uint64
		wantTo      uint64
	}{
		{"first head after connect", 0, 100, 100, 100},
		{"sequential heads", 100, 101, 101, 101},
		{"coalesced heads reach back", 100, 105, 101, 105},
		{"long gap capped", 100, 1000, 1000 - evmCatchupMaxBlocks + 1, 1000},
		{"duplicate head refetched alone", 100, 100, 100, 100},
		{"reorged head refetched alone", 100, 98, 98, 98},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := logRange(tt.lastFetched, tt.head)
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("logRange(%d, %d) = %d-%d, want %d-%d",
					tt.lastFetched, tt.head, from, to, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestHexUint(t *testing.T) {
	if got := hexUint(0); got != "0x0" {
		t.Errorf("expected 0x0, got %s", got)
	}
	if got := hexUint(23_029_772); got != "0x15f638c" {
		t.Errorf("expected 0x15f638c, got %s", got)
	}
}
