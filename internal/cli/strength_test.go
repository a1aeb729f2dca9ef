package cli

import "testing"

func TestPassphraseStrength(t *testing.T) {
	tests := []struct {
		passphrase string
		want       Strength
	}{
		{"", StrengthWeak},
		{"short", StrengthWeak},
		{"eightchr", StrengthFair},
		{"fourteen-chars", StrengthGood},
		{"correct horse battery staple", StrengthStrong},
		// Counted in characters, not bytes
		{"ääääääää", StrengthFair},
		{"äääääää", StrengthWeak},
	}

	for _, tt := range tests {
		if got := PassphraseStrength([]byte(tt.passphrase)); got != tt.want {
			t.Errorf("PassphraseStrength(%q) = %v, want %v", tt.passphrase, got, tt.want)
		}
	}
}

func TestStrengthString(t *testing.T) {
	if StrengthGood.String() != "good" || Strength(99).String() != "unknown" {
		t.Error("unexpected Strength.String output")
	}
}
