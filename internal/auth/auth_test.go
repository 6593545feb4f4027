package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testSecret = "test-secret"
	testWallet = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
)

func mintTestToken(t *testing.T, secret, userID, wallet string, ttl time.Duration) string {
	t.Helper()
	tok, err := MintToken(secret, userID, wallet, ttl)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	return tok
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	tok := mintTestToken(t, testSecret, "user-1", testWallet, time.Hour)

	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != "user-1" {
		t.Errorf("UserID = %q; want user-1", p.UserID)
	}
	if p.Wallet != testWallet {
		t.Errorf("Wallet = %q; want %q", p.Wallet, testWallet)
	}
}

func TestVerifyLowercasesWallet(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	tok := mintTestToken(t, testSecret, "user-1", "0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B", time.Hour)

	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Wallet != testWallet {
		t.Errorf("Wallet = %q; want lowercase %q", p.Wallet, testWallet)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", mintTestToken(t, "other-secret", "user-1", testWallet, time.Hour)},
		{"expired", mintTestToken(t, testSecret, "user-1", testWallet, -time.Minute)},
		{"no subject", mintTestToken(t, testSecret, "", testWallet, time.Hour)},
		{"bad wallet", mintTestToken(t, testSecret, "user-1", "0x123", time.Hour)},
	}
	for _, tt := range tests {
		if _, err := v.Verify(tt.token); err == nil {
			t.Errorf("%s: Verify accepted the token", tt.name)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=abc", nil)
		tok, err := TokenFromRequest(r)
		if err != nil || tok != "abc" {
			t.Errorf("tok = %q, err = %v; want abc", tok, err)
		}
	})

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer xyz")
		tok, err := TokenFromRequest(r)
		if err != nil || tok != "xyz" {
			t.Errorf("tok = %q, err = %v; want xyz", tok, err)
		}
	})

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.AddCookie(&http.Cookie{Name: "authToken", Value: "fromcookie"})
		tok, err := TokenFromRequest(r)
		if err != nil || tok != "fromcookie" {
			t.Errorf("tok = %q, err = %v; want fromcookie", tok, err)
		}
	})

	t.Run("query wins over header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token=fromquery", nil)
		r.Header.Set("Authorization", "Bearer fromheader")
		tok, _ := TokenFromRequest(r)
		if tok != "fromquery" {
			t.Errorf("tok = %q; want fromquery", tok)
		}
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if _, err := TokenFromRequest(r); err != ErrNoToken {
			t.Errorf("err = %v; want ErrNoToken", err)
		}
	})
}

func TestValidWallet(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{testWallet, true},
		{"0x0000000000000000000000000000000000000000", true},
		{"", false},
		{"0x123", false},
		{"ab5801a7d398351b8be11c439e05c5b3259aec9b00", false},   // no prefix
		{"0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B", false},   // not canonical lowercase
		{"0xzz5801a7d398351b8be11c439e05c5b3259aec9b", false},   // non-hex
		{"0xab5801a7d398351b8be11c439e05c5b3259aec9b00", false}, // too long
	}
	for _, tt := range tests {
		if got := ValidWallet(tt.addr); got != tt.want {
			t.Errorf("ValidWallet(%q) = %v; want %v", tt.addr, got, tt.want)
		}
	}
}

func TestChecksumWallet(t *testing.T) {
	// Known EIP-55 vectors.
	tests := []struct{ in, want string }{
		{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		{"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"},
		{"0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb", "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"},
	}
	for _, tt := range tests {
		if got := ChecksumWallet(tt.in); got != tt.want {
			t.Errorf("ChecksumWallet(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}

	// Invalid input passes through untouched.
	if got := ChecksumWallet("nonsense"); got != "nonsense" {
		t.Errorf("ChecksumWallet(nonsense) = %q", got)
	}
}
