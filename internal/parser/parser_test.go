package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoqueryParser_Parse_ExtractsAndResolvesImageURLs(t *testing.T) {
	html := `
	<html><body>
		<img src="img/one.jpg">
		<img src="/img/two.jpg">
		<img src="https://cdn.example.com/three.jpg">
	</body></html>`

	p := &GoqueryParser{}
	result, err := p.Parse(html, "https://example.com/gallery/page1", "img")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/gallery/img/one.jpg",
		"https://example.com/img/two.jpg",
		"https://cdn.example.com/three.jpg",
	}, result.ImageURLs)
}

func TestGoqueryParser_Parse_IgnoresImagesWithoutSrc(t *testing.T) {
	html := `<html><body><img alt="no src"><img src="a.jpg"></body></html>`
	p := &GoqueryParser{}
	result, err := p.Parse(html, "https://example.com/gallery/", "img")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/gallery/a.jpg"}, result.ImageURLs)
}

func TestGoqueryParser_Parse_ExtractsGalleryMeta(t *testing.T) {
	html := `
	<html><head>
		<meta property="og:title" content="A Gallery">
	</head><body>
		<time datetime="2024-01-15"></time>
		<div class="tags">nature, travel</div>
		<div class="organizations">Acme Corp</div>
		<div class="models"> Jane Doe , John Roe </div>
	</body></html>`

	p := &GoqueryParser{}
	result, err := p.Parse(html, "https://example.com/", "img")
	require.NoError(t, err)

	assert.Equal(t, "A Gallery", result.GalleryMeta.Title)
	assert.Equal(t, "2024-01-15", result.GalleryMeta.PublishedDate)
	assert.Equal(t, []string{"nature", "travel"}, result.GalleryMeta.Tags)
	assert.Equal(t, []string{"Acme Corp"}, result.GalleryMeta.Organizations)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, result.GalleryMeta.Models)
}

func TestGoqueryParser_Parse_SequenceExpansion(t *testing.T) {
	html := `
	<html><body>
		<div class="count">12 images</div>
		<img src="/gallery/007.jpg">
	</body></html>`

	p := &GoqueryParser{
		SequenceCountSelector:     ".count",
		SequenceRequireUpperBound: true,
	}
	result, err := p.Parse(html, "https://example.com/g/1", "img")
	require.NoError(t, err)

	require.Len(t, result.ImageURLs, 12)
	assert.Equal(t, "https://example.com/gallery/007.jpg", result.ImageURLs[0])
	assert.Equal(t, "https://example.com/gallery/018.jpg", result.ImageURLs[11])
}

func TestGoqueryParser_Parse_SequenceExpansionWithProbe(t *testing.T) {
	html := `
	<html><body>
		<div class="count">3 images</div>
		<img src="/gallery/001.jpg">
	</body></html>`

	p := &GoqueryParser{
		SequenceCountSelector:        ".count",
		SequenceRequireUpperBound:    true,
		SequenceProbeAfterUpperBound: true,
	}
	result, err := p.Parse(html, "https://example.com/g/1", "img")
	require.NoError(t, err)

	require.Len(t, result.ImageURLs, 4)
	assert.Equal(t, "https://example.com/gallery/004.jpg", result.ImageURLs[3])
}

func TestGoqueryParser_Parse_SequenceExpansionSkippedWithMultipleMatches(t *testing.T) {
	html := `
	<html><body>
		<div class="count">12 images</div>
		<img src="/gallery/007.jpg">
		<img src="/gallery/008.jpg">
	</body></html>`

	p := &GoqueryParser{
		SequenceCountSelector:     ".count",
		SequenceRequireUpperBound: true,
	}
	result, err := p.Parse(html, "https://example.com/g/1", "img")
	require.NoError(t, err)

	assert.Len(t, result.ImageURLs, 2)
}

func TestExtractSequenceSeed(t *testing.T) {
	seed, ok := extractSequenceSeed("https://example.com/gallery/007.jpg")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/gallery/", seed.basePath)
	assert.Equal(t, 3, seed.numberWidth)
	assert.Equal(t, "jpg", seed.extension)
	assert.Equal(t, 7, seed.startIndex)

	_, ok = extractSequenceSeed("https://example.com/gallery/index.html")
	assert.False(t, ok)
}

func TestBuildSequenceURL(t *testing.T) {
	seed := sequenceSeed{basePath: "https://example.com/g/", numberWidth: 3, extension: "png", startIndex: 1}
	assert.Equal(t, "https://example.com/g/042.png", buildSequenceURL(seed, 42))
}
