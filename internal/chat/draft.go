// ABOUTME: Draft input for new messages and its validation rules
// ABOUTME: Text is trimmed; images must be image/* data URIs or http(s) references

package chat

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

// MaxTextLength bounds the text of a single message.
const MaxTextLength = 4000

var validate = validator.New()

// Draft is user input for a new message.
type Draft struct {
	Text  string `validate:"max=4000"`
	Image string `validate:"omitempty,datauri|http_url"`
}

// Normalize returns the draft with surrounding whitespace removed from the text.
func (d Draft) Normalize() Draft {
	d.Text = strings.TrimSpace(d.Text)
	d.Image = strings.TrimSpace(d.Image)
	return d
}

// Validate checks a normalized draft. Every error wraps ErrValidation.
func (d Draft) Validate() error {
	if d.Text == "" && d.Image == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyDraft)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.HasPrefix(d.Image, "data:") {
		if err := checkImageDataURI(d.Image); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// checkImageDataURI sniffs the decoded payload of a data URI and requires an
// image/* content type. The declared media type is not trusted on its own.
func checkImageDataURI(raw string) error {
	header, payload, ok := strings.Cut(raw, ",")
	if !ok {
		return fmt.Errorf("malformed data URI")
	}

	var data []byte
	if strings.HasSuffix(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("decoding image payload: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return fmt.Errorf("decoding image payload: %w", err)
		}
		data = []byte(unescaped)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("image payload has type %s, want image/*", mt.String())
	}
	return nil
}
