package interfaces

import "github.com/ternarybob/harvester/internal/models"

// Parser extracts an ordered list of absolute image URLs plus optional
// gallery metadata from a page's HTML. Parsers are deterministic and
// side-effect-free: the same (html, pageURL, selector) always yields the
// same result.
type Parser interface {
	Parse(html, pageURL, selector string) (models.ParseResult, error)
}
