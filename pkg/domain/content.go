package domain

import (
	"fmt"
	"strings"
)

// NewTextContent builds a text payload. Empty bodies are rejected so the
// validation error surfaces before any network or store call.
func NewTextContent(body string) (Content, error) {
	if strings.TrimSpace(body) == "" {
		return Content{}, fmt.Errorf("%w: empty message body", ErrValidation)
	}
	return Content{Type: MessageText, Text: body}, nil
}

// NewImageContent builds an image payload from an uploaded object URL.
func NewImageContent(url string, size int64) (Content, error) {
	if strings.TrimSpace(url) == "" {
		return Content{}, fmt.Errorf("%w: image url required", ErrValidation)
	}
	return Content{Type: MessageImage, File: &FileInfo{URL: url, Size: size}}, nil
}

// NewFileContent builds a file payload.
func NewFileContent(url, name, fileType string, size int64) (Content, error) {
	if strings.TrimSpace(url) == "" {
		return Content{}, fmt.Errorf("%w: file url required", ErrValidation)
	}
	return Content{
		Type: MessageFile,
		File: &FileInfo{URL: url, Name: name, Type: fileType, Size: size},
	}, nil
}

// Validate checks that the tagged payload is internally consistent. Stores
// call this before persisting anything that crossed a process boundary.
func (c Content) Validate() error {
	switch c.Type {
	case MessageText:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: empty message body", ErrValidation)
		}
		if c.File != nil {
			return fmt.Errorf("%w: text message cannot carry a file payload", ErrValidation)
		}
	case MessageImage, MessageFile:
		if c.File == nil || strings.TrimSpace(c.File.URL) == "" {
			return fmt.Errorf("%w: %s message requires a file url", ErrValidation, c.Type)
		}
		if c.Text != "" {
			return fmt.Errorf("%w: %s message cannot carry a text body", ErrValidation, c.Type)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, c.Type)
	}
	return nil
}

// Preview returns the string shown in conversation lists for this payload.
func (c Content) Preview() string {
	switch c.Type {
	case MessageImage:
		return "[image]"
	case MessageFile:
		if c.File != nil && c.File.Name != "" {
			return "[file] " + c.File.Name
		}
		return "[file]"
	default:
		return c.Text
	}
}
