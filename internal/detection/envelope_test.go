package detection

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candyscope/internal/pipeline"
)

func TestParseEnvelopeFencedEmptyDetections(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"` + "```json\\n{\\\"detections\\\":[]}\\n```" + `"}]}`)
	p, err := ParseEnvelope(body)
	require.NoError(t, err)

	dets, err := p.ToDetections(0)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestParseEnvelopeNoTextBlock(t *testing.T) {
	for _, body := range []string{
		`{"content":[]}`,
		`{"content":[{"type":"image","text":"ignored"}]}`,
		`{}`,
	} {
		p, err := ParseEnvelope([]byte(body))
		require.NoError(t, err, body)
		dets, err := p.ToDetections(0)
		require.NoError(t, err)
		assert.Empty(t, dets, body)
	}
}

func TestParseEnvelopeFirstTextBlockWins(t *testing.T) {
	body := []byte(`{"content":[
		{"type":"image","text":""},
		{"type":"text","text":"{\"detections\":[{\"candy\":\"Gems\",\"confidence\":0.5}]}"},
		{"type":"text","text":"{\"detections\":[]}"}
	]}`)
	p, err := ParseEnvelope(body)
	require.NoError(t, err)
	dets, err := p.ToDetections(0)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Gems", dets[0].Category)
	assert.Nil(t, dets[0].BBox)
}

func TestExtractTextEmptyFirstBlock(t *testing.T) {
	env := &Envelope{Content: []contentBlock{
		{Type: "text", Text: ""},
		{Type: "text", Text: `{"detections":[{"candy":"Gems","confidence":0.5}]}`},
	}}
	assert.Equal(t, "{}", env.ExtractText())

	body := []byte(`{"content":[
		{"type":"text","text":""},
		{"type":"text","text":"{\"detections\":[{\"candy\":\"Gems\",\"confidence\":0.5}]}"}
	]}`)
	p, err := ParseEnvelope(body)
	require.NoError(t, err)
	dets, err := p.ToDetections(0)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestParseEnvelopeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"content":[{"type":"text","text":"{not json"}]}`,
		`{"content":[{"type":"text","text":"{\"detections\":[{\"candy\":\"Gems\",\"confidence\":0.9,\"bbox\":[1,2,3]}]}"}]}`,
		`{"content":[{"type":"text","text":"{\"detections\":[{\"candy\":\"Gems\",\"confidence\":0.9,\"bbox\":\"x\"}]}"}]}`,
		`{"content":[{"type":"text","text":"{\"detections\":[{\"confidence\":0.9}]}"}]}`,
		`{"content":[{"type":"text","text":"{\"detections\":[{\"candy\":\"Gems\",\"confidence\":1.5}]}"}]}`,
	}
	for _, body := range cases {
		p, err := ParseEnvelope([]byte(body))
		if err == nil {
			_, err = p.ToDetections(0)
		}
		assert.True(t, errors.Is(err, pipeline.ErrMalformedPayload), body)
	}
}

func TestToDetectionsMinConfidence(t *testing.T) {
	p, err := ParsePayload(`{"detections":[
		{"candy":"Gems","confidence":0.2,"bbox":[0,0,1,1]},
		{"candy":"Bar One","confidence":0.8,"bbox":[10,10,50,50]}
	]}`)
	require.NoError(t, err)

	dets, err := p.ToDetections(0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Bar One", dets[0].Category)
	assert.Equal(t, &pipeline.BBox{XMin: 10, YMin: 10, XMax: 50, YMax: 50}, dets[0].BBox)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("  ```\n{\"a\":1}```  "))
	assert.Equal(t, "", StripFences("```json\n```"))
}

func TestParsePayloadBlankIsEmpty(t *testing.T) {
	p, err := ParsePayload("```json\n```")
	require.NoError(t, err)
	assert.Empty(t, p.Detections)
}
