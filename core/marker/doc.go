// Package marker encodes and decodes processed-marker object names.
//
// A marker is a zero-byte object recording that one (key, content version) pair has been
// announced on the message bus. Its name carries the whole state:
//
//	<prefix>/<object_key>.<content_version>.done
//
// Object keys are not escaped. Decode splits from the right, so keys with file extensions
// or other dots round-trip as long as the version itself contains no dot or path separator.
//
// # Usage
//
//	path := marker.Encode(".processed", "papers/report.v2.pdf", "9b2cf5")
//	key, version, err := marker.Decode(".processed", path)
package marker
