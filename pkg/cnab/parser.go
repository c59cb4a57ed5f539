package cnab

import (
	"fmt"
	"strings"
	"time"
)

// LineLength is the size of one record on the wire, in bytes.
const LineLength = 80

// Field boundaries (byte offsets) within a record. The layout is positional
// over bytes, not codepoints: the wire format is ASCII.
const (
	natureStart, natureEnd         = 0, 1
	dateStart, dateEnd             = 1, 9
	amountStart, amountEnd         = 9, 19
	cpfStart, cpfEnd               = 19, 30
	cardStart, cardEnd             = 30, 42
	timeStart, timeEnd             = 42, 48
	storeOwnerStart, storeOwnerEnd = 48, 62
	storeNameStart, storeNameEnd   = 62, 80
)

// ParseError describes why a line could not be decoded. Line is the 0-based
// index of the record within its file.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Reason)
}

func parseErr(index int, format string, args ...any) *ParseError {
	return &ParseError{Line: index, Reason: fmt.Sprintf(format, args...)}
}

// ParseLine decodes one record. index is the 0-based line index, carried into
// any ParseError. Lines shorter than LineLength fail; longer lines are decoded
// from their first LineLength bytes.
func ParseLine(line []byte, index int) (*Record, error) {
	if len(line) < LineLength {
		return nil, parseErr(index, "record too short: %d bytes, want %d", len(line), LineLength)
	}
	line = line[:LineLength]

	natureDigit, err := parseDigits(line[natureStart:natureEnd])
	if err != nil {
		return nil, parseErr(index, "invalid nature: %v", err)
	}
	nature := Nature(natureDigit)
	if !nature.Valid() {
		return nil, parseErr(index, "invalid nature code %d", natureDigit)
	}

	date, err := parseDate(line[dateStart:dateEnd])
	if err != nil {
		return nil, parseErr(index, "invalid date: %v", err)
	}

	amountCents, err := parseDigits(line[amountStart:amountEnd])
	if err != nil {
		return nil, parseErr(index, "invalid amount: %v", err)
	}

	clock, err := parseTime(line[timeStart:timeEnd])
	if err != nil {
		return nil, parseErr(index, "invalid time: %v", err)
	}

	return &Record{
		Nature:      nature,
		BankCode:    string(line[natureStart:natureEnd]),
		Date:        date,
		AmountCents: amountCents,
		CPF:         trimField(line[cpfStart:cpfEnd]),
		Card:        trimField(line[cardStart:cardEnd]),
		Time:        clock,
		StoreOwner:  trimField(line[storeOwnerStart:storeOwnerEnd]),
		StoreName:   trimField(line[storeNameStart:storeNameEnd]),
	}, nil
}

// SplitLines splits raw file bytes into records, accepting \r\n, \r and \n
// terminators. Trailing empty lines are dropped; interior empty lines are kept
// and surface later as parse failures.
func SplitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	var lines [][]byte
	start := 0
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			lines = append(lines, data[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, data[start:i])
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}

	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// parseDigits decodes an unsigned decimal from a run of ASCII digits.
// Anything outside '0'..'9' (including multi-byte runes) is rejected.
func parseDigits(field []byte) (int64, error) {
	if len(field) == 0 {
		return 0, fmt.Errorf("empty numeric field")
	}
	var n int64
	for _, b := range field {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("non-digit byte %q", b)
		}
		n = n*10 + int64(b-'0')
	}
	return n, nil
}

func parseDate(field []byte) (time.Time, error) {
	if _, err := parseDigits(field); err != nil {
		return time.Time{}, err
	}
	// time.ParseInLocation rejects impossible calendar dates (month 13,
	// February 30th and the like).
	return time.ParseInLocation("20060102", string(field), time.UTC)
}

func parseTime(field []byte) (string, error) {
	if _, err := parseDigits(field); err != nil {
		return "", err
	}
	s := string(field)
	if _, err := time.Parse("150405", s); err != nil {
		return "", fmt.Errorf("out-of-range clock time %q", s)
	}
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6], nil
}

func trimField(field []byte) string {
	return strings.TrimSpace(string(field))
}
