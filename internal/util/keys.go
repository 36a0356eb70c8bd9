package util

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ParamHash returns a short deterministic digest of canonically encoded
// parameter bytes, usable as a single key segment.
func ParamHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum)[:16] // first 16 hex chars
}

// '.' separates key segments, so embedded free text must escape it
// ('%' first to keep the mapping injective).
var segEsc = strings.NewReplacer("%", "%25", ".", "%2E")

// Segment makes an arbitrary string safe to use as one key segment.
func Segment(s string) string {
	return segEsc.Replace(s)
}
