package vc

import (
	"crypto/sha256"
	"math"
	"math/big"
	"strconv"
)

// EncodeValue encodes the raw credential attribute value. Strings which are
// 32 bit integers encode to themselves, everything else to the decimal form
// of the SHA-256 of the raw value.
func EncodeValue(raw string) string {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil &&
		i >= math.MinInt32 && i <= math.MaxInt32 {
		return strconv.FormatInt(i, 10)
	}
	if raw == "" {
		raw = "None"
	}
	sum := sha256.Sum256([]byte(raw))
	return new(big.Int).SetBytes(sum[:]).String()
}

// EncodeValues encodes the raw name-value map.
func EncodeValues(values map[string]string) map[string]AttributeValue {
	m := make(map[string]AttributeValue, len(values))
	for name, raw := range values {
		m[name] = AttributeValue{Raw: raw, Encoded: EncodeValue(raw)}
	}
	return m
}

// CheckPredicate tells if the encoded value satisfies the predicate.
func CheckPredicate(encoded string, pType string, pValue int64) bool {
	v, err := strconv.ParseInt(encoded, 10, 64)
	if err != nil {
		return false
	}
	switch pType {
	case ">=":
		return v >= pValue
	case ">":
		return v > pValue
	case "<=":
		return v <= pValue
	case "<":
		return v < pValue
	}
	return false
}
