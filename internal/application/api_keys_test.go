package application

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAPIKeyEncodesParameters(t *testing.T) {
	t.Parallel()

	encoded, err := HashAPIKey("  jobs-key\n", fastParams)
	if err != nil {
		t.Fatalf("HashAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	h, err := parseKeyHash(encoded)
	if err != nil {
		t.Fatalf("parseKeyHash failed: %v", err)
	}
	if h.params != fastParams {
		t.Fatalf("expected params %#v, got %#v", fastParams, h.params)
	}
	if h.String() != encoded {
		t.Fatalf("expected re-encoding to be stable, got %q", h.String())
	}
	if err := VerifyAPIKey(encoded, "jobs-key"); err != nil {
		t.Fatalf("expected trimmed key to verify, got %v", err)
	}

	if _, err := HashAPIKey("jobs-key", Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1}); err == nil {
		t.Fatalf("expected error for zero salt and key lengths")
	}
}

func TestParseKeyHashRejectsMalformedEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bcrypt scheme":  "$2a$10$abcdefghijklmnopqrstuv",
		"argon2i scheme": "$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"no leading $":   "argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"bad params":     "$argon2id$v=19$memory=1024$c2FsdA$aGFzaA",
		"bad salt":       "$argon2id$v=19$m=1024,t=1,p=1$!!$aGFzaA",
		"empty digest":   "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseKeyHash(encoded); !errors.Is(err, ErrInvalidKeyHash) {
				t.Fatalf("expected ErrInvalidKeyHash, got %v", err)
			}
		})
	}
}
