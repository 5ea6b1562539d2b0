package marker

import (
	"errors"
	"fmt"
	"strings"
)

// Suffix terminates every marker object name.
const Suffix = ".done"

// ErrMalformedMarker is returned by Decode when a path is not a marker under the given prefix.
var ErrMalformedMarker = errors.New("malformed marker")

// Normalize converts path separators in an object key to "/".
func Normalize(key string) string {
	return strings.ReplaceAll(key, "\\", "/")
}

// Root returns the listing prefix under which all markers live.
func Root(prefix string) string {
	return prefix + "/"
}

// KeyPrefix returns the listing prefix shared by every marker of a single object key.
// The trailing dot keeps "a/b" from matching markers of "a/bb".
func KeyPrefix(prefix, key string) string {
	return Root(prefix) + Normalize(key) + "."
}

// Encode builds the marker path for an object key at a content version.
func Encode(prefix, key, version string) string {
	return KeyPrefix(prefix, key) + version + Suffix
}

// Decode is the inverse of Encode. Keys may contain dots, so the version is taken
// from the last dot-delimited segment before the suffix.
func Decode(prefix, path string) (key, version string, err error) {
	root := Root(prefix)
	if !strings.HasPrefix(path, root) {
		return "", "", fmt.Errorf("%w: %q lacks prefix %q", ErrMalformedMarker, path, root)
	}
	if !strings.HasSuffix(path, Suffix) {
		return "", "", fmt.Errorf("%w: %q lacks %q suffix", ErrMalformedMarker, path, Suffix)
	}

	tail := strings.TrimSuffix(path[len(root):], Suffix)
	i := strings.LastIndex(tail, ".")
	if i <= 0 || i == len(tail)-1 {
		return "", "", fmt.Errorf("%w: %q has no key/version pair", ErrMalformedMarker, path)
	}

	return tail[:i], tail[i+1:], nil
}
