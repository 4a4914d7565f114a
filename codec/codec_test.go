package codec

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testData struct {
	XMLName xml.Name `json:"-" xml:"TestData"`
	Name    string   `json:"name" xml:"Name"`
	Size    int64    `json:"size" xml:"Size"`
}

func TestJSON(t *testing.T) {
	data, err := JSON.Encode(testData{Name: "name", Size: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"name","size":42}`, string(data))

	var got testData
	require.NoError(t, JSON.Decode([]byte(`{"name":"other","size":7}`), &got))
	assert.Equal(t, "other", got.Name)
	assert.Equal(t, int64(7), got.Size)

	assert.Error(t, JSON.Decode([]byte(`{"name":`), &got))
}

func TestXML(t *testing.T) {
	data, err := XML.Encode(testData{Name: "name", Size: 42})
	require.NoError(t, err)
	assert.Equal(t, "<TestData><Name>name</Name><Size>42</Size></TestData>", string(data))

	var got testData
	require.NoError(t, XML.Decode(data, &got))
	assert.Equal(t, "name", got.Name)
	assert.Equal(t, int64(42), got.Size)
}

func TestForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        Codec
	}{
		{contentType: "application/json", want: JSON},
		{contentType: "application/json; charset=UTF-8", want: JSON},
		{contentType: "application/xml", want: XML},
		{contentType: "text/xml; charset=utf-8", want: XML},
		{contentType: "application/atom+xml", want: XML},
		{contentType: "", want: JSON},
		{contentType: "text/plain", want: JSON},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, ForContentType(tt.contentType))
		})
	}
}
