package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the tagged JSON envelope used to persist Parts. Stores encode
// events with encoding/json, so Content needs an explicit discriminator.
type wirePart struct {
	Kind             string            `json:"kind"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	File             *wireFile         `json:"file,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

type wireFile struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

const (
	partKindText             = "text"
	partKindData             = "data"
	partKindFile             = "file"
	partKindFunctionCall     = "function_call"
	partKindFunctionResponse = "function_response"
)

// MarshalJSON encodes Content with tagged parts.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(c.Parts))

	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			parts = append(parts, wirePart{Kind: partKindText, Text: v.Text, Metadata: v.Metadata})
		case DataPart:
			parts = append(parts, wirePart{Kind: partKindData, Data: v.Data, Metadata: v.Metadata})
		case FilePart:
			parts = append(parts, wirePart{Kind: partKindFile, File: &wireFile{Name: v.Name, MimeType: v.MimeType, Bytes: v.Bytes, URI: v.URI}, Metadata: v.Metadata})
		case FunctionCallPart:
			fc := v.FunctionCall
			parts = append(parts, wirePart{Kind: partKindFunctionCall, FunctionCall: &fc, Metadata: v.Metadata})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			parts = append(parts, wirePart{Kind: partKindFunctionResponse, FunctionResponse: &fr, Metadata: v.Metadata})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}

	return json.Marshal(struct {
		Role  string     `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes Content produced by MarshalJSON.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  string     `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Role = raw.Role
	c.Parts = make([]Part, 0, len(raw.Parts))

	for _, wp := range raw.Parts {
		switch wp.Kind {
		case partKindText:
			c.Parts = append(c.Parts, TextPart{Text: wp.Text, Metadata: wp.Metadata})
		case partKindData:
			c.Parts = append(c.Parts, DataPart{Data: wp.Data, Metadata: wp.Metadata})
		case partKindFile:
			fp := FilePart{Metadata: wp.Metadata}
			if wp.File != nil {
				fp.Name, fp.MimeType, fp.Bytes, fp.URI = wp.File.Name, wp.File.MimeType, wp.File.Bytes, wp.File.URI
			}
			c.Parts = append(c.Parts, fp)
		case partKindFunctionCall:
			if wp.FunctionCall == nil {
				return fmt.Errorf("function_call part without payload")
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall, Metadata: wp.Metadata})
		case partKindFunctionResponse:
			if wp.FunctionResponse == nil {
				return fmt.Errorf("function_response part without payload")
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse, Metadata: wp.Metadata})
		default:
			return fmt.Errorf("unknown part kind %q", wp.Kind)
		}
	}

	return nil
}
