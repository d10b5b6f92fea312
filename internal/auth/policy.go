package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"credstore/internal/common"
)

// Password strength requirements applied to created, changed and reset
// passwords.
const (
	MinPasswordLength = 12

	specialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// ValidatePassword checks the password against the strength policy and
// returns common.ErrWeakPassword (with detail) when it does not comply.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: minimum length is %d characters", common.ErrWeakPassword, MinPasswordLength)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		case strings.ContainsRune(specialChars, c):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return fmt.Errorf("%w: an uppercase letter is required", common.ErrWeakPassword)
	case !hasLower:
		return fmt.Errorf("%w: a lowercase letter is required", common.ErrWeakPassword)
	case !hasDigit:
		return fmt.Errorf("%w: a digit is required", common.ErrWeakPassword)
	case !hasSpecial:
		return fmt.Errorf("%w: a special character is required", common.ErrWeakPassword)
	}
	return nil
}

// GeneratePassword produces a random password of the given length that
// satisfies ValidatePassword. Lengths below MinPasswordLength are raised to
// it. Used for migrated accounts that arrive without a usable secret.
func GeneratePassword(length int) (string, error) {
	if length < MinPasswordLength {
		length = MinPasswordLength
	}

	const (
		upper  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
		lower  = "abcdefghijkmnpqrstuvwxyz"
		digits = "23456789"
	)
	all := upper + lower + digits + specialChars

	pick := func(set string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return 0, err
		}
		return set[n.Int64()], nil
	}

	// one character from each required class, the rest from the full set
	buf := make([]byte, length)
	for i, set := range []string{upper, lower, digits, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := 4; i < length; i++ {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}

	// shuffle so the class positions are not predictable
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf), nil
}
