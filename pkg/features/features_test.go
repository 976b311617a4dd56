package features

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var sampleDoc = []byte(`{
	"features": [
		[0.1, 0.2, 0.3],
		[0.9, 0.8, 0.7]
	],
	"scores": [0.42, 0.91],
	"address_mapping": {
		"0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": 0,
		"0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB": 1
	}
}`)

func TestParseAndLookup(t *testing.T) {
	src, err := Parse(sampleDoc)
	require.NoError(t, err)

	feats, err := src.Features("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, feats)

	score, err := src.OriginalScore("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	require.NoError(t, err)
	require.Equal(t, 0.91, score)
}

func TestLookupIsPrefixAndCaseInsensitive(t *testing.T) {
	src, err := Parse(sampleDoc)
	require.NoError(t, err)

	feats, err := src.Features("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, feats)

	_, err = src.Features("0xcccccccccccccccccccccccccccccccccccccccc")
	require.Error(t, err)
}

func TestSubjectsStableOrder(t *testing.T) {
	src, err := Parse(sampleDoc)
	require.NoError(t, err)

	subjects := src.Subjects()
	require.Equal(t, []string{
		"0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
	}, subjects)
}

func TestFeaturesReturnsCopy(t *testing.T) {
	src, err := Parse(sampleDoc)
	require.NoError(t, err)

	feats, err := src.Features("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	feats[0] = 99

	again, err := src.Features("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	require.Equal(t, 0.1, again[0])
}

func TestParseRejectsBadMapping(t *testing.T) {
	_, err := Parse([]byte(`{"features": [[1]], "scores": [1], "address_mapping": {"0xaa": 5}}`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"features": [[1]], "scores": [1], "address_mapping": {}}`))
	require.Error(t, err)

	_, err = Parse([]byte(`not json`))
	require.Error(t, err)
}
