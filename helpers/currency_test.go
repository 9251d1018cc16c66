package helpers

import "testing"

func TestFormatUSD(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{950, "$950"},
		{1250000, "$1,250,000"},
		{-42000, "-$42,000"},
		{999.6, "$1,000"},
	}
	for _, c := range cases {
		if got := FormatUSD(c.in); got != c.want {
			t.Errorf("FormatUSD(%f) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestFormatUSDCompact(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{2_500_000, "$2.50M"},
		{1_400_000_000, "$1.40B"},
		{75_500, "$75.5K"},
		{320, "$320"},
		{-3_000_000, "-$3.00M"},
	}
	for _, c := range cases {
		if got := FormatUSDCompact(c.in); got != c.want {
			t.Errorf("FormatUSDCompact(%f) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestShortenAddress(t *testing.T) {
	if got := ShortenAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"); got != "0xa0b8…eb48" {
		t.Errorf("unexpected shortened address %s", got)
	}
	if got := ShortenAddress("short"); got != "short" {
		t.Errorf("short addresses pass through, got %s", got)
	}
}
