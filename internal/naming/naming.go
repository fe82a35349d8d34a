// Package naming implements the deterministic identity and filesystem
// naming rules the harvester relies on for resumability: job ids are a pure
// function of a config's identity subset, page directories and image file
// names are pure functions of page/image position and URL.
package naming

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/ternarybob/harvester/internal/models"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// lastDigitRun matches the final maximal run of digits anywhere in a string.
var lastDigitRun = regexp.MustCompile(`(\d+)(?:\D*)$`)

// JobID derives the stable job identifier from the identity subset of a run
// config: canonical JSON (sorted keys: the subset is re-marshalled through a
// map, which encoding/json writes in key order) hashed with SHA-1, first 16
// hex characters, prefixed "job_". Stable under any reordering of the source
// configuration's own fields or of IdentitySubset's declared fields.
func JobID(identity models.IdentitySubset) (string, error) {
	raw, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("naming: marshal identity subset: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("naming: canonicalize identity subset: %w", err)
	}
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("naming: marshal identity subset: %w", err)
	}
	sum := sha1.Sum(canonical)
	return "job_" + hex.EncodeToString(sum[:])[:16], nil
}

// PageDirName returns the zero-padded six-digit directory name for a page.
func PageDirName(pageNum int) string {
	return fmt.Sprintf("%06d", pageNum)
}

// ImageFileName returns the sanitized final path segment of an image URL.
// The image index is not part of the result: two distinct images never share
// a URL basename within one page's directory by construction of the site
// being harvested, so the original basename is preserved as-is for
// debuggability.
func ImageFileName(imageURL string) string {
	basename := "image.bin"
	if parsed, err := url.Parse(imageURL); err == nil {
		if unescaped, err := url.PathUnescape(parsed.Path); err == nil {
			if b := path.Base(unescaped); b != "." && b != "/" && b != "" {
				basename = b
			}
		}
	}
	return safeFilename(basename)
}

func safeFilename(name string) string {
	sanitized := unsafeFilenameChars.ReplaceAllString(name, "_")
	sanitized = strings.Trim(sanitized, " \t\n\r")
	sanitized = strings.Trim(sanitized, ".")
	if sanitized == "" {
		return "image.bin"
	}
	return sanitized
}

// SourceID extracts the last maximal run of digits in a page URL's final
// path segment, falling back to the page number as text when the segment has
// no digits at all.
func SourceID(pageURL string, pageNum int) string {
	lastSegment := ""
	if parsed, err := url.Parse(pageURL); err == nil {
		trimmed := strings.TrimRight(parsed.Path, "/")
		parts := strings.Split(trimmed, "/")
		lastSegment = parts[len(parts)-1]
	}
	if match := lastDigitRun.FindStringSubmatch(lastSegment); match != nil {
		return match[1]
	}
	return fmt.Sprintf("%d", pageNum)
}
