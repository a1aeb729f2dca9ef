package cli

import "unicode/utf8"

// Strength grades a passphrase by length.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthFair
	StrengthGood
	StrengthStrong
)

func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "weak"
	case StrengthFair:
		return "fair"
	case StrengthGood:
		return "good"
	case StrengthStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// PassphraseStrength grades a human-chosen passphrase. Length in
// characters is the only factor; composition rules are not applied.
func PassphraseStrength(passphrase []byte) Strength {
	switch n := utf8.RuneCount(passphrase); {
	case n >= 20:
		return StrengthStrong
	case n >= 14:
		return StrengthGood
	case n >= 8:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
