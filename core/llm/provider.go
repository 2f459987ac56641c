package llm

import (
	"context"
	"encoding/base64"
)

// Part is one segment of a generation request: either plain text or
// inline binary data tagged with its MIME type.
type Part struct {
	Text   string
	Inline *InlineData
}

// InlineData carries base64 (std encoding) payload bytes.
type InlineData struct {
	MIMEType string
	Data     string
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func InlinePart(mimeType string, raw []byte) Part {
	return Part{Inline: &InlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}}
}

func (p Part) IsInline() bool { return p.Inline != nil }

// Bytes decodes the inline payload.
func (d *InlineData) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}

type Provider interface {
	ID() string

	Generate(ctx context.Context, parts []Part) (string, error)
}
