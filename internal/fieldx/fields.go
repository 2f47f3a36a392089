// Package fieldx normalizes editorial metadata fields before upload.
package fieldx

import "time"

// now is a test seam.
var now = time.Now

// Normalize returns a copy of fields guaranteed to carry non-empty "title"
// and "alt" values, as the CMS media schema requires. A missing title is
// synthesized from the current time; a missing alt mirrors the title.
//
// Normalize is idempotent: applying it to an already-normalized map yields
// an equal map.
func Normalize(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	if out["title"] == "" {
		out["title"] = "Uploaded " + now().UTC().Format(time.RFC3339)
	}
	if out["alt"] == "" {
		out["alt"] = out["title"]
	}
	return out
}

// Merge overlays overrides on top of base without mutating either map.
// Empty override values are skipped so they cannot blank out base fields.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
