package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// derive computes the expected id independently of DeriveID.
func derive(secret []byte) string {
	input := append(append([]byte{}, digestSalt[:]...), secret...)
	sum := sha256.Sum256(input)
	return "__s_" + base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestSecretBound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		playerID string
		want     bool
	}{
		{name: "plain player id", playerID: "alice", want: false},
		{name: "host id", playerID: "host", want: false},
		{name: "empty id", playerID: "", want: false},
		{name: "secret-bound id", playerID: "__s_abc", want: true},
		{name: "bare prefix", playerID: "__s_", want: true},
		{name: "prefix not at start", playerID: "x__s_abc", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := SecretBound(tt.playerID); got != tt.want {
				t.Errorf("SecretBound(%q) = %v, want %v", tt.playerID, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	secret := []byte("hunter2")
	validID := derive(secret)
	proof := base64.RawURLEncoding.EncodeToString(secret)

	tests := []struct {
		name      string
		playerID  string
		rawSecret string
		wantErr   error
	}{
		{name: "plain id needs no proof", playerID: "alice", rawSecret: ""},
		{name: "plain id ignores proof", playerID: "alice", rawSecret: "garbage"},
		{name: "empty id accepted", playerID: "", rawSecret: ""},
		{name: "valid proof", playerID: validID, rawSecret: proof},
		{name: "valid padded proof", playerID: validID, rawSecret: proof + strings.Repeat("=", (4-len(proof)%4)%4)},
		{name: "missing proof", playerID: validID, rawSecret: "", wantErr: ErrMissingSecret},
		{name: "malformed proof", playerID: validID, rawSecret: "!!not-base64!!", wantErr: ErrMalformedSecret},
		{name: "mismatched proof", playerID: "__s_somebody-else", rawSecret: proof, wantErr: ErrMismatch},
		{name: "bare prefix rejected", playerID: "__s_", rawSecret: proof, wantErr: ErrMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.playerID, tt.rawSecret)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate(%q, %q) = %v, want nil", tt.playerID, tt.rawSecret, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate(%q, %q) = %v, want %v", tt.playerID, tt.rawSecret, err, tt.wantErr)
			}
		})
	}
}

func TestDeriveID(t *testing.T) {
	t.Parallel()

	secret := []byte{1, 2, 3}

	got := DeriveID(secret)
	if want := derive(secret); got != want {
		t.Errorf("DeriveID = %q, want %q", got, want)
	}

	if !strings.HasPrefix(got, "__s_") {
		t.Errorf("DeriveID = %q, want __s_ prefix", got)
	}

	// prefix + unpadded base64 of a 32-byte digest
	if len(got) != len("__s_")+43 {
		t.Errorf("len(DeriveID) = %d, want %d", len(got), len("__s_")+43)
	}

	if DeriveID(secret) != got {
		t.Error("DeriveID is not deterministic")
	}

	if DeriveID([]byte{1, 2, 4}) == got {
		t.Error("distinct secrets derived the same id")
	}
}
