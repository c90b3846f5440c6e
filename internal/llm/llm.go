// Package llm defines the generation backend contracts used by the turn
// controller and provides Gemini and langchaingo implementations.
package llm

import (
	"context"
	"encoding/base64"
	"iter"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/models"
)

// Role of a content entry in a generation request.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FormatJSON requests a JSON response from Generate.
const FormatJSON = "application/json"

// Part is a piece of content: text, or inline binary data such as an
// attached file or image.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// IsText reports whether the part carries text rather than binary data.
func (p Part) IsText() bool {
	return len(p.Data) == 0
}

// Content is one turn of a generation request.
type Content struct {
	Role  Role
	Parts []Part
}

// TextContent builds a single-part text Content.
func TextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// HistoryContents converts stored messages into generation contents.
// Messages with empty text are skipped.
func HistoryContents(history []models.Message) []Content {
	out := make([]Content, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := RoleUser
		if m.Sender == models.SenderAI {
			role = RoleModel
		}
		out = append(out, TextContent(role, m.Text))
	}
	return out
}

// Chunk is one element of a streamed response. Either field may be empty.
type Chunk struct {
	Text      string
	Grounding []models.GroundingReference
}

// StreamOptions tune a streaming call.
type StreamOptions struct {
	// Model overrides the backend's default model.
	Model string
	// GoogleSearch enables search grounding where the backend supports it.
	GoogleSearch bool
	// Thinking enables extended reasoning where the backend supports it.
	Thinking bool
}

// GenerateOptions tune a non-streaming call.
type GenerateOptions struct {
	Model             string
	SystemInstruction string
	// ResponseFormat is a MIME type; FormatJSON selects JSON mode.
	ResponseFormat string
	GoogleSearch   bool
}

// Generator is the text generation backend.
type Generator interface {
	// StreamGenerate yields response chunks in order. The sequence is finite
	// and not restartable. A non-nil error is always the last element.
	StreamGenerate(ctx context.Context, systemInstruction string, contents []Content, opts StreamOptions) iter.Seq2[Chunk, error]
	// Generate returns the complete response text.
	Generate(ctx context.Context, contents []Content, opts GenerateOptions) (string, error)
}

// Image is a generated image.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL encodes the image as a data: URL suitable for Message.ImageData.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ImageGenerator produces images from text prompts. Credentials are bound
// to the implementation at construction.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, modelHint string) (Image, error)
}
