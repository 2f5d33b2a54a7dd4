package jwt

import (
	"testing"
	"time"
)

// FuzzJWTParseAccess feeds arbitrary strings to the parser. It must never
// panic and never return nil claims without an error.
func FuzzJWTParseAccess(f *testing.F) {
	mgr, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("fuzz-secret-fuzz-secret"),
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		f.Fatal(err)
	}

	valid, _, err := mgr.CreateAccess("uid1", []string{"user"})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := mgr.ParseAccess(input)
		if err == nil && claims == nil {
			t.Fatal("ParseAccess returned nil claims without error")
		}
	})
}
