package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// bcrypt ignores input past 72 bytes and newer versions reject it outright.
func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > 72 {
		b = b[:72]
	}
	return b
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(password)) == nil
}

// StrongPassword requires at least 8 characters with an upper case letter, a
// lower case letter and a digit.
func StrongPassword(password string) bool {
	if len([]rune(password)) < 8 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
