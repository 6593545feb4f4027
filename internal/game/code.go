package game

import (
	"math/rand/v2"
	"strings"
)

// CodeAlphabet is the join-code character set. I, O, 0 and 1 are excluded
// because players read these codes aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the fixed join-code length.
const DefaultCodeLength = 6

// GenerateCode produces a random join code of n characters.
func GenerateCode(rng *rand.Rand, n int) string {
	if n <= 0 {
		n = DefaultCodeLength
	}
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(CodeAlphabet[rng.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode maps user input onto the canonical code form.
// Join codes are matched case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
