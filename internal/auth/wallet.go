package auth

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// ValidWallet reports whether addr is a lowercase 0x-prefixed 20-byte hex
// address. Stored wallets are always in this canonical form.
func ValidWallet(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, c := range addr[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ChecksumWallet returns the EIP-55 mixed-case form of a canonical address.
// Returns the input unchanged if it is not a valid canonical address.
func ChecksumWallet(addr string) string {
	if !ValidWallet(addr) {
		return addr
	}

	hex := addr[2:]
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hex))
	digest := h.Sum(nil)

	out := make([]byte, len(hex))
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		if c >= 'a' && c <= 'f' {
			// Uppercase when the corresponding hash nibble is >= 8.
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}
