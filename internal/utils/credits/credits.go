package credits

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// TokensPerCredit is how many provider tokens one credit buys.
	TokensPerCredit = 1000
	// ProfitMargin is applied on top of raw token cost.
	ProfitMargin = 1.1
	// FreeTierCredits is granted once on first sign-in.
	FreeTierCredits = 100
	// MinCreditsWarning is the inclusive low-balance threshold.
	MinCreditsWarning = 10
)

var printer = message.NewPrinter(language.English)

// CreditsFromTokens converts a token count into its credit cost:
// ceil(tokens/TokensPerCredit * ProfitMargin). Token counts at or below zero
// cost nothing; the clamp is intentional, a negative count is a caller bug,
// not a refund.
func CreditsFromTokens(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	cost := math.Ceil(float64(tokens) / TokensPerCredit * ProfitMargin)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0
	}
	return int64(cost)
}

// EstimateTokensFromText gives a rough token count for a prompt before the
// provider reports real usage. Four characters per token is the usual
// heuristic for English text.
func EstimateTokensFromText(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(text)/4) + 1
}

func HasEnough(available, required int64) bool {
	return available >= required
}

// Format renders a credit amount with locale grouping, e.g. 1234567 ->
// "1,234,567".
func Format(n int64) string {
	return printer.Sprintf("%d", n)
}

func ShouldWarnLow(available int64) bool {
	return available <= MinCreditsWarning
}
