package auth

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailPattern    = regexp.MustCompile(`^[A-Z0-9a-z._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,64}$`)
	fullnamePattern = regexp.MustCompile(`^[\p{L}\p{N}_]{2,}( [\p{L}\p{N}_]+){0,3}$`)
	passwordPattern = regexp.MustCompile(`^[A-Za-z\d@#!$%^&*()]{8,}$`)
)

// ValidEmail reports whether the trimmed input looks like an email address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

const maxFullnameLen = 64

// ValidFullname accepts one to four words of letters, digits or underscores
// separated by single spaces. The first word has at least two characters.
func ValidFullname(name string) bool {
	name = strings.TrimSpace(name)
	return utf8.RuneCountInString(name) <= maxFullnameLen && fullnamePattern.MatchString(name)
}

// ValidPassword requires at least eight characters from the allowed set with
// at least one letter and one digit.
func ValidPassword(password string) bool {
	password = strings.TrimSpace(password)
	if !passwordPattern.MatchString(password) {
		return false
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLetter(r):
			letter = true
		}
	}
	return letter && digit
}
