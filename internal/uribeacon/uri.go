package uribeacon

import (
	"errors"
	"fmt"
	"strings"
)

// URI scheme prefixes, indexed by the first byte of an encoded URI.
var schemes = []string{
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"urn:uuid:",
}

// Expansion codes that may appear inside an encoded URI.
var expansions = []string{
	".com/", ".org/", ".edu/", ".net/", ".info/", ".biz/", ".gov/",
	".com", ".org", ".edu", ".net", ".info", ".biz", ".gov",
}

var ErrInvalidURI = errors.New("invalid encoded URI")

// DecodeURI expands the scheme and expansion codes of an encoded URI, as
// stored in the data characteristic.
func DecodeURI(encoded []byte) (string, error) {
	if len(encoded) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	if int(encoded[0]) >= len(schemes) {
		return "", fmt.Errorf("%w: unknown scheme 0x%02x", ErrInvalidURI, encoded[0])
	}

	var b strings.Builder
	b.WriteString(schemes[encoded[0]])
	for _, c := range encoded[1:] {
		switch {
		case int(c) < len(expansions):
			b.WriteString(expansions[c])
		case c <= 0x20 || c >= 0x7f:
			return "", fmt.Errorf("%w: byte 0x%02x", ErrInvalidURI, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// EncodeURI is the inverse of DecodeURI. It picks the longest matching
// scheme and expansion at every position.
func EncodeURI(uri string) ([]byte, error) {
	scheme := -1
	for i, s := range schemes {
		if strings.HasPrefix(uri, s) && (scheme < 0 || len(s) > len(schemes[scheme])) {
			scheme = i
		}
	}
	if scheme < 0 {
		return nil, fmt.Errorf("%w: no known scheme in %q", ErrInvalidURI, uri)
	}

	out := []byte{byte(scheme)}
	rest := uri[len(schemes[scheme]):]
	for len(rest) > 0 {
		code := -1
		for i, e := range expansions {
			if strings.HasPrefix(rest, e) && (code < 0 || len(e) > len(expansions[code])) {
				code = i
			}
		}
		if code >= 0 {
			out = append(out, byte(code))
			rest = rest[len(expansions[code]):]
			continue
		}
		if rest[0] <= 0x20 || rest[0] >= 0x7f {
			return nil, fmt.Errorf("%w: character %q", ErrInvalidURI, rest[0])
		}
		out = append(out, rest[0])
		rest = rest[1:]
	}
	if len(out) > MaxURILength {
		return nil, fmt.Errorf("%w: %d bytes encoded, at most %d fit", ErrInvalidURI, len(out), MaxURILength)
	}
	return out, nil
}
