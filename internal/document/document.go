// Package document holds the single synchronized state object and the
// helpers that keep it structurally complete.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const (
	DateLayout       = "2006-01-02"
	MaxPriorityTasks = 3
	DefaultTabID     = "default"
	DefaultTabName   = "List"
)

var (
	ErrInvalid       = errors.New("invalid document")
	ErrHTMLPayload   = errors.New("html payload where json was expected")
	ErrPriorityLimit = errors.New("priority task limit reached")
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidDate   = errors.New("invalid date key")
)

type Document struct {
	DateEntries map[string]DayRecord   `json:"dateEntries"`
	Tabs        []Tab                  `json:"tabs"`
	ListItems   map[string]ListContent `json:"listItems"`
}

type DayRecord struct {
	Disciplines map[string]bool `json:"disciplines"`
	Tasks       []Task          `json:"tasks"`
}

type Task struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Priority  bool   `json:"priority,omitempty"`
}

type Tab struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListItem struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// ListContent is either legacy free text or an item list. IsList selects
// which form is encoded.
type ListContent struct {
	Text   string
	Items  []ListItem
	IsList bool
}

func TextContent(text string) ListContent {
	return ListContent{Text: text}
}

func ItemsContent(items ...ListItem) ListContent {
	return ListContent{Items: append([]ListItem{}, items...), IsList: true}
}

func (c ListContent) MarshalJSON() ([]byte, error) {
	if c.IsList {
		items := c.Items
		if items == nil {
			items = []ListItem{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(c.Text)
}

func (c *ListContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*c = ListContent{}
		return nil
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = ListContent{Text: text}
		return nil
	case trimmed[0] == '[':
		var items []ListItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		if items == nil {
			items = []ListItem{}
		}
		*c = ListContent{Items: items, IsList: true}
		return nil
	default:
		return fmt.Errorf("%w: list content must be a string or an array", ErrInvalid)
	}
}

// New returns an empty, structurally complete document.
func New() Document {
	return Document{
		DateEntries: map[string]DayRecord{},
		Tabs:        []Tab{},
		ListItems:   map[string]ListContent{},
	}
}

// Normalize fills any missing top-level field or nested collection with its
// empty default. It never drops data.
func (d Document) Normalize() Document {
	if d.DateEntries == nil {
		d.DateEntries = map[string]DayRecord{}
	}
	for key, day := range d.DateEntries {
		if day.Disciplines == nil {
			day.Disciplines = map[string]bool{}
		}
		if day.Tasks == nil {
			day.Tasks = []Task{}
		}
		d.DateEntries[key] = day
	}
	if d.Tabs == nil {
		d.Tabs = []Tab{}
	}
	if d.ListItems == nil {
		d.ListItems = map[string]ListContent{}
	}
	return d
}

// Clone returns a deep copy; queued snapshots and callers never share maps
// with the live document.
func (d Document) Clone() Document {
	out := Document{
		DateEntries: make(map[string]DayRecord, len(d.DateEntries)),
		Tabs:        append([]Tab{}, d.Tabs...),
		ListItems:   make(map[string]ListContent, len(d.ListItems)),
	}
	for key, day := range d.DateEntries {
		disciplines := make(map[string]bool, len(day.Disciplines))
		for idx, done := range day.Disciplines {
			disciplines[idx] = done
		}
		out.DateEntries[key] = DayRecord{
			Disciplines: disciplines,
			Tasks:       append([]Task{}, day.Tasks...),
		}
	}
	for tabID, content := range d.ListItems {
		content.Items = append([]ListItem(nil), content.Items...)
		if content.IsList && content.Items == nil {
			content.Items = []ListItem{}
		}
		out.ListItems[tabID] = content
	}
	return out
}

var equalOptions = cmp.Options{cmpopts.EquateEmpty()}

// Equal reports full structural equality, treating nil and empty
// collections as equal.
func Equal(a, b Document) bool {
	return cmp.Equal(a, b, equalOptions)
}

// Diff returns a human-readable structural diff, empty when Equal.
func Diff(a, b Document) string {
	return cmp.Diff(a, b, equalOptions)
}

// Decode parses a remote payload. HTML error pages, malformed JSON and
// schema violations all fail with ErrInvalid.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return New(), nil
	}
	if looksLikeHTML(trimmed) {
		return Document{}, fmt.Errorf("%w: %w", ErrInvalid, ErrHTMLPayload)
	}
	if !json.Valid(trimmed) {
		return Document{}, fmt.Errorf("%w: malformed json", ErrInvalid)
	}
	if err := validateSchema(trimmed); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for key := range doc.DateEntries {
		if !ValidDateKey(key) {
			return Document{}, fmt.Errorf("%w: %w %q", ErrInvalid, ErrInvalidDate, key)
		}
	}
	return doc.Normalize(), nil
}

func Encode(doc Document) ([]byte, error) {
	return json.Marshal(doc.Normalize())
}

func EncodeIndent(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc.Normalize(), "", "  ")
}

// JSON never starts with '<'; any markup is an error page or a login wall.
func looksLikeHTML(data []byte) bool {
	return len(data) > 0 && data[0] == '<'
}

func ValidDateKey(key string) bool {
	parsed, err := time.Parse(DateLayout, key)
	if err != nil {
		return false
	}
	return parsed.Format(DateLayout) == key
}

func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// SortedDates returns the date keys in calendar order.
func (d Document) SortedDates() []string {
	keys := make([]string, 0, len(d.DateEntries))
	for key := range d.DateEntries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
