package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// sequenceSeed is the parsed shape of a numbered sample image URL:
// <basePath><index, zero-padded to numberWidth>.<extension>.
type sequenceSeed struct {
	basePath    string
	numberWidth int
	extension   string
	startIndex  int
}

var sequenceSeedPattern = regexp.MustCompile(`^(.*?/)(\d+)\.([A-Za-z0-9]{2,5})$`)

// extractSequenceSeed detects whether imageURL is a single numbered sample
// in a sequence (e.g. ".../gallery/007.jpg") and, if so, returns enough
// information to regenerate every URL in that sequence.
func extractSequenceSeed(imageURL string) (sequenceSeed, bool) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return sequenceSeed{}, false
	}

	match := sequenceSeedPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return sequenceSeed{}, false
	}

	origin := ""
	if parsed.Scheme != "" && parsed.Host != "" {
		origin = parsed.Scheme + "://" + parsed.Host
	}

	numberText := match[2]
	startIndex, err := strconv.Atoi(numberText)
	if err != nil || startIndex < 1 {
		return sequenceSeed{}, false
	}

	return sequenceSeed{
		basePath:    origin + match[1],
		numberWidth: len(numberText),
		extension:   match[3],
		startIndex:  startIndex,
	}, true
}

// buildSequenceURL builds one image URL in a detected sequence using
// fixed-width number formatting.
func buildSequenceURL(seed sequenceSeed, index int) string {
	return fmt.Sprintf("%s%0*d.%s", seed.basePath, seed.numberWidth, index, seed.extension)
}
