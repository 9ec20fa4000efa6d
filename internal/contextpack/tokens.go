package contextpack

import "marginalia/internal/textutil"

// CharsPerToken is the estimation ratio used for every budget decision.
const CharsPerToken = 4

// EstimateTokens approximates the token cost of text as ceil(chars/4).
func EstimateTokens(text string) int {
	return tokensForChars(textutil.RuneLen(text))
}

func tokensForChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}
