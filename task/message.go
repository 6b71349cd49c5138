package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind is the content variant of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

// Message is the content sent to a recipient. Exactly one of Text, Image
// or Document is set, matching Kind.
type Message struct {
	Kind     Kind
	Text     *Text
	Image    *Image
	Document *Document
}

// Text is a plain text message.
type Text struct {
	Body string `json:"text"`
}

// Media locates an uploaded file. Unknown keys are preserved.
type Media map[string]any

// Image is an image with an optional caption.
type Image struct {
	Image   Media  `json:"image"`
	Caption string `json:"caption,omitempty"`
}

// Document is a file attachment.
type Document struct {
	Document Media  `json:"document"`
	FileName string `json:"fileName"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption,omitempty"`
}

// TextMessage returns a text message.
func TextMessage(body string) Message {
	return Message{Kind: KindText, Text: &Text{Body: body}}
}

// ImageMessage returns an image message.
func ImageMessage(media Media, caption string) Message {
	return Message{Kind: KindImage, Image: &Image{Image: media, Caption: caption}}
}

// DocumentMessage returns a document message.
func DocumentMessage(media Media, fileName, mimetype, caption string) Message {
	return Message{Kind: KindDocument, Document: &Document{
		Document: media, FileName: fileName, Mimetype: mimetype, Caption: caption,
	}}
}

var errEmptyMessage = errors.New("message has no content")

// Validate reports whether m is a well-formed variant.
func (m Message) Validate() error {
	switch m.Kind {
	case KindText:
		if m.Text == nil || m.Text.Body == "" {
			return fmt.Errorf("text: %w", errEmptyMessage)
		}
	case KindImage:
		if m.Image == nil || len(m.Image.Image) == 0 {
			return fmt.Errorf("image: %w", errEmptyMessage)
		}
	case KindDocument:
		d := m.Document
		if d == nil || len(d.Document) == 0 {
			return fmt.Errorf("document: %w", errEmptyMessage)
		}
		if d.FileName == "" || d.Mimetype == "" {
			return errors.New("document: fileName and mimetype are required")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// MarshalJSON encodes m as its variant's fields, without a kind tag.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindText:
		return json.Marshal(m.Text)
	case KindImage:
		return json.Marshal(m.Image)
	case KindDocument:
		return json.Marshal(m.Document)
	case "":
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("unknown message kind %q", m.Kind)
}

// UnmarshalJSON detects the variant from the fields present.
func (m *Message) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe == nil {
		*m = Message{}
		return nil
	}

	switch {
	case probe["document"] != nil:
		var d Document
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		*m = Message{Kind: KindDocument, Document: &d}
	case probe["image"] != nil:
		var i Image
		if err := json.Unmarshal(data, &i); err != nil {
			return err
		}
		*m = Message{Kind: KindImage, Image: &i}
	case probe["text"] != nil:
		var t Text
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*m = Message{Kind: KindText, Text: &t}
	default:
		return errors.New("message: expected one of text, image or document")
	}
	return nil
}

// varPattern matches {{name}} and {{name|default}}.
var varPattern = regexp.MustCompile(`\{\{(\w+)(?:\|([^}]+))?\}\}`)

// textFields returns the templated fields of m.
func (m Message) textFields() []*string {
	switch {
	case m.Kind == KindText && m.Text != nil:
		return []*string{&m.Text.Body}
	case m.Kind == KindImage && m.Image != nil:
		return []*string{&m.Image.Caption}
	case m.Kind == KindDocument && m.Document != nil:
		return []*string{&m.Document.Caption, &m.Document.FileName}
	}
	return nil
}

// Variables returns the sorted, distinct template variable names used by m.
func (m Message) Variables() []string {
	seen := make(map[string]struct{})
	for _, f := range m.textFields() {
		for _, match := range varPattern.FindAllStringSubmatch(*f, -1) {
			seen[match[1]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render returns a copy of m with template variables substituted from
// vars. A missing variable falls back to its inline default, or is left
// as written.
func (m Message) Render(vars map[string]string) Message {
	out := m.clone()
	for _, f := range out.textFields() {
		*f = varPattern.ReplaceAllStringFunc(*f, func(match string) string {
			sub := varPattern.FindStringSubmatch(match)
			if v, ok := vars[sub[1]]; ok && v != "" {
				return v
			}
			if strings.Contains(match, "|") {
				return sub[2]
			}
			return match
		})
	}
	return out
}

func (m Message) clone() Message {
	out := Message{Kind: m.Kind}
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	if m.Image != nil {
		i := *m.Image
		out.Image = &i
	}
	if m.Document != nil {
		d := *m.Document
		out.Document = &d
	}
	return out
}
