// Package parser implements interfaces.Parser with goquery CSS selection,
// plus the sequence-expansion behavior that promotes a single detected
// numbered sample image into a full ordered list.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/harvester/internal/models"
)

// GoqueryParser extracts ordered image URLs and optional gallery metadata
// from HTML using CSS selectors. It is deterministic and side-effect-free.
type GoqueryParser struct {
	// SequenceCountSelector, SequenceRequireUpperBound, and
	// SequenceProbeAfterUpperBound mirror the identity-affecting run-config
	// fields of the same name; cmd/harvest's buildOrchestrator wires them
	// in at construction time from models.RunConfig.
	SequenceCountSelector        string
	SequenceRequireUpperBound    bool
	SequenceProbeAfterUpperBound bool
}

// Parse implements interfaces.Parser.
func (p *GoqueryParser) Parse(html, pageURL, selector string) (models.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("parser: parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return models.ParseResult{}, fmt.Errorf("parser: parse page url %q: %w", pageURL, err)
	}

	var imageURLs []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			return
		}
		if resolved, err := base.Parse(src); err == nil {
			imageURLs = append(imageURLs, resolved.String())
		}
	})

	if p.SequenceRequireUpperBound && len(imageURLs) == 1 {
		if expanded, ok := p.expandSequence(doc, imageURLs[0]); ok {
			imageURLs = expanded
		}
	}

	result := models.ParseResult{
		PageURL:     pageURL,
		Selector:    selector,
		ImageURLs:   imageURLs,
		GalleryMeta: extractGalleryMeta(doc),
	}
	return result, nil
}

// expandSequence implements the Sequence Expansion component: a single
// matched sample image URL of the form <base><N digits>.<ext>, combined with
// an on-page upper-bound count, is promoted into a full ordered URL list
// without walking the DOM for every image.
func (p *GoqueryParser) expandSequence(doc *goquery.Document, sampleURL string) ([]string, bool) {
	seed, ok := extractSequenceSeed(sampleURL)
	if !ok {
		return nil, false
	}

	count, ok := parseGalleryUpperBound(doc, p.SequenceCountSelector)
	if !ok {
		return nil, false
	}

	urls := make([]string, 0, count)
	for i := seed.startIndex; i < seed.startIndex+count; i++ {
		urls = append(urls, buildSequenceURL(seed, i))
	}
	if p.SequenceProbeAfterUpperBound {
		urls = append(urls, buildSequenceURL(seed, seed.startIndex+count))
	}
	return urls, true
}

var firstDigitRun = regexp.MustCompile(`(\d+)`)

// parseGalleryUpperBound selects one node and extracts the first digit run
// from its text content, mirroring original_source's
// parse_gallery_upper_bound (which also takes the first run, not the last --
// unlike naming.SourceID, which the specification explicitly pins to the
// last run).
func parseGalleryUpperBound(doc *goquery.Document, selector string) (int, bool) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return 0, false
	}
	text := strings.TrimSpace(sel.Text())
	match := firstDigitRun.FindString(text)
	if match == "" {
		return 0, false
	}
	count, err := strconv.Atoi(match)
	if err != nil || count <= 0 {
		return 0, false
	}
	return count, true
}

func extractGalleryMeta(doc *goquery.Document) models.GalleryMeta {
	var meta models.GalleryMeta

	meta.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	meta.PublishedDate = strings.TrimSpace(doc.Find("time[datetime]").AttrOr("datetime", ""))
	if meta.PublishedDate == "" {
		meta.PublishedDate = strings.TrimSpace(doc.Find(".published_date").First().Text())
	}

	meta.Tags = splitCommaList(doc.Find(".tags").First().Text())
	meta.Organizations = splitCommaList(doc.Find(".organizations").First().Text())
	meta.Models = splitCommaList(doc.Find(".models").First().Text())

	return meta
}

func splitCommaList(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
