// Package trust derives a user's trust level from verified document types.
package trust

import (
	"trustmint/internal/verification/models"
)

// Level is an ordinal of verified-identity strength. Level 1 is unused.
type Level int

const (
	LevelNone     Level = 0
	LevelIdentity Level = 2
	LevelAddress  Level = 3
	LevelLiveness Level = 4
)

// Compute returns the highest satisfied tier for the verified types:
// identity document gives 2, proof of address gives 3 on its own, and a
// selfie gives 4 once an identity or address tier is reached.
func Compute(verified []models.DocumentType) Level {
	var identity, address, selfie bool
	for _, t := range verified {
		switch t {
		case models.DocumentIdentityCard, models.DocumentPassport:
			identity = true
		case models.DocumentUtilityBill, models.DocumentBankStatement:
			address = true
		case models.DocumentSelfie:
			selfie = true
		}
	}

	level := LevelNone
	if identity {
		level = LevelIdentity
	}
	if address {
		level = max(level, LevelAddress)
	}
	if selfie && level >= LevelIdentity {
		level = LevelLiveness
	}
	return level
}

// AddressOnly reports whether the level comes from proof of address with no
// identity document. Such users end up labelled verified.
func AddressOnly(verified []models.DocumentType) bool {
	var identity, address bool
	for _, t := range verified {
		switch t {
		case models.DocumentIdentityCard, models.DocumentPassport:
			identity = true
		case models.DocumentUtilityBill, models.DocumentBankStatement:
			address = true
		}
	}
	return address && !identity
}

// StatusFor labels a level.
func StatusFor(level Level) models.TrustStatus {
	if level >= LevelIdentity {
		return models.TrustVerified
	}
	return models.TrustInProgress
}

// Decision is the outcome of comparing a computed level with the stored one.
type Decision struct {
	Raise  bool
	Level  Level
	Status models.TrustStatus
}

// Decide raises only when computed strictly exceeds stored. A non-raise keeps
// the stored level.
func Decide(stored, computed Level) Decision {
	if computed <= stored {
		return Decision{Level: stored}
	}
	return Decision{Raise: true, Level: computed, Status: StatusFor(computed)}
}
