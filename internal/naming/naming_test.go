package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvester/internal/models"
)

func TestJobID_DeterministicAndStable(t *testing.T) {
	identity := models.IdentitySubset{
		URLTemplate:           "https://example.com/g/{num}",
		Selector:              "div.gallerypic img",
		OutputDir:             "data/downloads",
		Engine:                "requests",
		SequenceCountSelector: "#tishi p span",
	}

	id1, err := JobID(identity)
	require.NoError(t, err)
	id2, err := JobID(identity)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Regexp(t, `^job_[0-9a-f]{16}$`, id1)
}

func TestJobID_DiffersOnIdentityAffectingField(t *testing.T) {
	base := models.IdentitySubset{URLTemplate: "https://example.com/g/{num}", Selector: "img"}
	changed := base
	changed.Selector = "div img"

	id1, err := JobID(base)
	require.NoError(t, err)
	id2, err := JobID(changed)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestJobID_IgnoresNonIdentityFields(t *testing.T) {
	cfg1 := models.DefaultRunConfig()
	cfg1.URLTemplate = "https://example.com/g/{num}"
	cfg1.StartNum = 1
	cfg1.RequestDelaySec = 0.2

	cfg2 := cfg1
	cfg2.StartNum = 50
	cfg2.RequestDelaySec = 5.0
	cfg2.ImageRetries = 10

	id1, err := JobID(cfg1.IdentitySubset())
	require.NoError(t, err)
	id2, err := JobID(cfg2.IdentitySubset())
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestPageDirName(t *testing.T) {
	assert.Equal(t, "000001", PageDirName(1))
	assert.Equal(t, "000042", PageDirName(42))
	assert.Equal(t, "123456", PageDirName(123456))
}

func TestImageFileName(t *testing.T) {
	assert.Equal(t, "photo.jpg", ImageFileName("https://example.com/gallery/photo.jpg"))
	assert.Equal(t, "photo.jpg", ImageFileName("https://example.com/gallery/photo.jpg?w=800"))
	assert.Equal(t, "my file.jpg", ImageFileName("https://example.com/gallery/my%20file.jpg"))
}

func TestImageFileName_SanitizesUnsafeCharacters(t *testing.T) {
	name := ImageFileName("https://example.com/a%3Fb%2Ac.jpg")
	assert.NotContains(t, name, "?")
	assert.NotContains(t, name, "*")
}

func TestImageFileName_FallsBackWhenNoBasename(t *testing.T) {
	assert.Equal(t, "image.bin", ImageFileName("https://example.com/"))
}

func TestSourceID_UsesLastDigitRunInFinalSegment(t *testing.T) {
	assert.Equal(t, "42", SourceID("https://example.com/gallery/item42", 7))
	assert.Equal(t, "7", SourceID("https://example.com/gallery/page-5-img7", 7))
}

func TestSourceID_FallsBackToPageNumWhenNoDigits(t *testing.T) {
	assert.Equal(t, "9", SourceID("https://example.com/gallery/index", 9))
}

func TestSourceID_HandlesTrailingSlash(t *testing.T) {
	assert.Equal(t, "42", SourceID("https://example.com/gallery/item42/", 7))
}
