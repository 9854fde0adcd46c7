package utils

import (
	"strconv"
	"strings"
)

// FormatBaseUnits formats an amount denominated in base units (1 token =
// 10^8 base units, satoshi-style) to a human-readable whole-token string
// with thousand separators. Fractional base units are truncated, not
// rounded.
// Examples:
//   - 100000000         -> "1"
//   - 150000000         -> "1"
//   - 100000000000      -> "1,000"
//   - 10000000000000000 -> "100,000,000"
func FormatBaseUnits(amount uint64) string {
	if amount == 0 {
		return "0"
	}

	const unitsPerToken = 100_000_000
	tokens := amount / unitsPerToken

	tokensStr := strconv.FormatUint(tokens, 10)

	var formatted strings.Builder
	length := len(tokensStr)
	for i, r := range tokensStr {
		if i > 0 && (length-i)%3 == 0 {
			formatted.WriteString(",")
		}
		formatted.WriteRune(r)
	}

	return formatted.String()
}
