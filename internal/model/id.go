package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// Base36 character set (lowercase)
const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// IDLength is the length of the random part of an ID
const IDLength = 6

// Matches: prefix-xxxxxx
var idRegex = regexp.MustCompile(`^[a-z]{2,4}-[0-9a-z]{6}$`)

// GenerateID creates a new random ID with the given prefix.
// Format: <prefix><6-char-base36>
// Example: inv-ex4j0q
func GenerateID(prefix string) (string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}

	random, err := randomBase36(IDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}

	return prefix + random, nil
}

// ValidateID checks if an ID is valid.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

func randomBase36(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(base36Chars)))

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = base36Chars[n.Int64()]
	}

	return string(result), nil
}
