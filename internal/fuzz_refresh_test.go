package internal

import "testing"

// FuzzHashOpaqueToken feeds arbitrary strings to the token hasher. It must
// not panic, and anything it accepts must hash deterministically.
func FuzzHashOpaqueToken(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	if token, err := NewOpaqueToken(); err == nil {
		f.Add(token)
	}

	f.Fuzz(func(t *testing.T, input string) {
		h1, err := HashOpaqueToken(input)
		if err != nil {
			return
		}
		h2, _ := HashOpaqueToken(input)
		if h1 != h2 || len(h1) != 64 {
			t.Fatalf("unstable hash for %q", input)
		}
	})
}

func TestOpaqueTokensAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := NewOpaqueToken()
		if err != nil {
			t.Fatalf("NewOpaqueToken failed: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatal("duplicate token")
		}
		seen[tok] = struct{}{}
	}
}
