package extract

import (
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// ToUTF8 converts body to UTF-8 using the declared content type and any
// <meta charset> in the first KB. Valid UTF-8 is returned unchanged.
func ToUTF8(body []byte, contentType string) []byte {
	if utf8.Valid(body) {
		return body
	}
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}
