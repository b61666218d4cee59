package domain

import (
	"fmt"
	"unicode/utf8"
)

// CharsPerToken is the conversion constant behind every token amount the
// product shows. Amounts are estimated from character counts, not reported by
// the model provider.
const CharsPerToken = 4

// EstimateTokens returns ceil((promptChars + completionChars) / CharsPerToken).
func EstimateTokens(promptChars, completionChars int) int64 {
	total := promptChars + completionChars
	if total <= 0 {
		return 0
	}

	return int64((total + CharsPerToken - 1) / CharsPerToken)
}

// CharCount counts characters (runes) in s.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

func CompactTokens(v int64) string {
	return compactNumber(v)
}

func compactNumber(v int64) string {
	if v < 1_000 {
		return fmt.Sprintf("%d", v)
	}

	if v < 1_000_000 {
		return fmt.Sprintf("%.1fk", float64(v)/1_000)
	}

	return fmt.Sprintf("%.1fM", float64(v)/1_000_000)
}
