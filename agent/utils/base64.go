package utils

import "encoding/base64"

// DecodeB64 decodes base64url data with or without padding. If that fails it
// tries the standard alphabet, which some agents use in attachments.
func DecodeB64(str string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(str)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(str)
	}
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(str)
	}
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(str)
	}
	return data, err
}

// EncodeB64 encodes data with base64url and padding.
func EncodeB64(data []byte) string {
	return base64.URLEncoding.EncodeToString(data)
}
