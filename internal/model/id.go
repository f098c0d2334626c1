package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// IDType is the prefix that tells session ids and exchange ids apart.
type IDType string

const (
	IDTypeSession  IDType = "ses"
	IDTypeExchange IDType = "exch"
)

// Identifiers look like ses_1700000000_cafe0042: type prefix, ten
// digit unix timestamp, four random bytes in hex.
var idPattern = regexp.MustCompile(`^(ses|exch)_([0-9]{10})_[0-9a-f]{8}$`)

// GenerateID mints a fresh identifier of the given type.
func GenerateID(idType IDType) (string, error) {
	switch idType {
	case IDTypeSession, IDTypeExchange:
	default:
		return "", fmt.Errorf("unknown id type %q", idType)
	}

	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), hex.EncodeToString(suffix[:])), nil
}

// ValidateID reports whether id matches the generated format.
func ValidateID(id string) bool {
	return idPattern.MatchString(id)
}

// ParseIDType returns the type prefix of a well-formed id.
func ParseIDType(id string) (IDType, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("malformed id %q", id)
	}
	return IDType(m[1]), nil
}

// ParseIDTimestamp recovers the creation time embedded in a
// well-formed id.
func ParseIDTimestamp(id string) (time.Time, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, fmt.Errorf("malformed id %q", id)
	}
	sec, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp in id %q: %w", id, err)
	}
	return time.Unix(sec, 0), nil
}
