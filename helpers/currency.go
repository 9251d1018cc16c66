package helpers

import (
	"fmt"
	"math"
)

// FormatUSD formats an amount as US dollars with thousand separators
func FormatUSD(amount float64) string {
	value := int64(math.Round(amount))

	negative := value < 0
	if negative {
		value = -value
	}

	str := fmt.Sprintf("%d", value)
	length := len(str)

	var result string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}

	if negative {
		return fmt.Sprintf("-$%s", result)
	}
	return fmt.Sprintf("$%s", result)
}

// FormatUSDCompact renders large amounts in the short form used in alert
// messages, e.g. $1.25M or $3.4B
func FormatUSDCompact(amount float64) string {
	abs := math.Abs(amount)
	sign := ""
	if amount < 0 {
		sign = "-"
	}

	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, abs/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, abs/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%s$%.1fK", sign, abs/1e3)
	}
	return fmt.Sprintf("%s$%.0f", sign, abs)
}

// ShortenAddress abbreviates a chain address for display: 0x1234…abcd
func ShortenAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
