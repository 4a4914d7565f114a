// Package codec encodes initiation metadata and decodes final upload responses.
package codec

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"mime"
	"strings"
)

// Codec serializes request metadata and deserializes response bodies.
type Codec interface {
	// ContentType is sent as the Content-Type of encoded bodies.
	ContentType() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

var (
	// JSON encodes bodies as application/json.
	JSON Codec = jsonCodec{}
	// XML encodes bodies as application/xml.
	XML Codec = xmlCodec{}
)

type jsonCodec struct{}

func (jsonCodec) ContentType() string {
	return "application/json; charset=UTF-8"
}

func (jsonCodec) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

type xmlCodec struct{}

func (xmlCodec) ContentType() string {
	return "application/xml; charset=UTF-8"
}

func (xmlCodec) Encode(v interface{}) ([]byte, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return data, nil
}

func (xmlCodec) Decode(data []byte, v interface{}) error {
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode xml: %w", err)
	}
	return nil
}

// ForContentType picks a codec matching a response Content-Type header.
// JSON is returned for anything that is not XML.
func ForContentType(contentType string) Codec {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	if mediaType == "application/xml" || mediaType == "text/xml" || strings.HasSuffix(mediaType, "+xml") {
		return XML
	}
	return JSON
}
