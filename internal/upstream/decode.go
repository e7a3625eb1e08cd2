package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// PageInfo is the cursor block of a collection envelope.
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
	StartCursor string `json:"start_cursor"`
}

// envelope is the shape of every upstream response.
type envelope struct {
	Code     json.RawMessage `json:"code"`
	Data     json.RawMessage `json:"data"`
	PageInfo PageInfo        `json:"page_info"`
	Count    int             `json:"count"`
	Error    json.RawMessage `json:"error"`
}

func (e *envelope) errorMessage() string {
	raw := bytes.TrimSpace(e.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("[]")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}

// Item is one decoded record of a page. Err is set when the record failed
// to decode or validate; Raw always carries the original bytes.
type Item[T any] struct {
	Value T
	Raw   json.RawMessage
	Err   error
}

// Page is one page of a collection.
type Page[T any] struct {
	Items    []Item[T]
	PageInfo PageInfo
	Count    int
}

// HasMore reports whether another page should be requested.
func (p *Page[T]) HasMore() bool {
	return p.PageInfo.HasNextPage && p.PageInfo.EndCursor != ""
}

// Decode validates and decodes a single upstream record. It is also used
// for record payloads delivered through webhooks.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	if err := validate.Struct(&v); err != nil {
		return v, fmt.Errorf("validate %T: %w", v, err)
	}
	return v, nil
}

func decodePage[T any](env *envelope) (*Page[T], error) {
	if msg := env.errorMessage(); msg != "" {
		return nil, fmt.Errorf("upstream error: %s", msg)
	}
	page := &Page[T]{PageInfo: env.PageInfo, Count: env.Count}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return page, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		// Some collections nest the array under a key named after the resource.
		var keyed map[string]json.RawMessage
		if json.Unmarshal(data, &keyed) != nil || len(keyed) != 1 {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		for _, inner := range keyed {
			if err := json.Unmarshal(inner, &raws); err != nil {
				return nil, fmt.Errorf("decode page: %w", err)
			}
		}
	}
	page.Items = make([]Item[T], 0, len(raws))
	for _, raw := range raws {
		v, err := Decode[T](raw)
		page.Items = append(page.Items, Item[T]{Value: v, Raw: raw, Err: err})
	}
	return page, nil
}

func decodeOne[T any](env *envelope) (T, error) {
	if msg := env.errorMessage(); msg != "" {
		var zero T
		return zero, fmt.Errorf("upstream error: %s", msg)
	}
	return Decode[T](env.Data)
}

// ---------------------------------------------------------------------------
// Loosely typed scalars
// ---------------------------------------------------------------------------

// FlexID is an identifier the API sends either as a number or a string.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = FlexID(n.String())
	}
	return nil
}

func (id FlexID) String() string { return string(id) }

// Money is an amount the API sends either as a number or as a formatted
// string such as "$1,234.50". The raw text is kept; parsing happens in the
// mapper.
type Money string

func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*m = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = Money(s)
	default:
		*m = Money(b)
	}
	return nil
}

// MarshalJSON emits plain numbers unquoted and anything else as a string.
func (m Money) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(m), 64); err == nil {
		return []byte(m), nil
	}
	return json.Marshal(string(m))
}

// FlexBool accepts true/false, 0/1 and "true"/"false".
type FlexBool bool

func (fb *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "t", "yes":
		*fb = true
	case "false", "0", "f", "no", "", "null":
		*fb = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}
