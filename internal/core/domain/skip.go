package domain

import "fmt"

// MinPayloadBytes is the floor under which extraction is never attempted;
// anything smaller is a tracking pixel, an icon or a truncated download.
const MinPayloadBytes = 1000

// skipMimes are resolved types no extraction stage can handle. Skipping them
// up front keeps the retry budget for content that could actually succeed.
var skipMimes = map[string]string{
	"application/x-rar-compressed": "skipped-rar",
	"message/rfc822":               "skipped-email",
	"text/html":                    "skipped-html",
	"image/heic":                   "skipped-heic",
}

// SkipDecision short-circuits an item straight to done with a synthesized
// placeholder instead of running the extraction engine.
type SkipDecision struct {
	Method      string
	Placeholder string
}

// SkipFor reports whether a payload of the given resolved type and size must
// bypass extraction entirely.
func SkipFor(resolved ResolvedType, size int) (SkipDecision, bool) {
	if method, ok := skipMimes[resolved.Mime]; ok {
		return SkipDecision{
			Method:      method,
			Placeholder: fmt.Sprintf("[unsupported attachment: %s]", resolved.Mime),
		}, true
	}
	if size < MinPayloadBytes {
		return SkipDecision{
			Method:      "skipped-too-small",
			Placeholder: fmt.Sprintf("[attachment too small: %d bytes]", size),
		}, true
	}
	return SkipDecision{}, false
}
