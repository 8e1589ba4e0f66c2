// Package core holds the field-service ledger model: reports, publishers,
// period ledgers, the status classifier and the monthly/yearly aggregates.
//
// This file parses the free-form numeric cells found in legacy sheets.
package core

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

var ErrInvalidCount = errors.New("invalid count")

// ParseCount converts a sheet cell to a non-negative count.
//
// Empty cells yield nil. Both dot (12.5) and comma (12,5) decimal separators
// are accepted and the value is rounded half-up to a whole number, since
// older sheets recorded partial hours.
//
// Examples:
//
//	ParseCount("")     -> nil, nil
//	ParseCount("12")   -> 12, nil
//	ParseCount("12,5") -> 13, nil
//	ParseCount("-1")   -> nil, ErrInvalidCount
func ParseCount(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, ErrInvalidCount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, ErrInvalidCount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return nil, ErrInvalidCount
		}
	}
	n, err := strconv.Atoi(intPart)
	if err != nil {
		return nil, ErrInvalidCount
	}
	if fracPart != "" && fracPart[0] >= '5' {
		n++
	}
	return &n, nil
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
