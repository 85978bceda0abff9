// Package nutrition holds the per-category nutrition table used to turn
// detection counts into calorie and sugar totals.
package nutrition

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Separator replaces spaces in category keys
const Separator = "_"

// Entry is the nutrition content of one unit of a category
type Entry struct {
	Calories int `json:"calories"`
	Sugar    int `json:"sugar_g"`
}

// Table maps normalized category keys to nutrition entries.
// A Table is treated as read-only once built.
type Table map[string]Entry

// Normalize derives the lookup key for a raw category label by replacing
// every space with Separator
func Normalize(category string) string {
	return strings.ReplaceAll(category, " ", Separator)
}

// DisplayName turns a normalized key back into a human-readable name
func DisplayName(key string) string {
	return strings.ReplaceAll(key, Separator, " ")
}

// DefaultTable returns the built-in candy table
func DefaultTable() Table {
	return Table{
		"Bar_One":   {Calories: 201, Sugar: 21},
		"Gems":      {Calories: 50, Sugar: 9},
		"Kit-Kat":   {Calories: 106, Sugar: 11},
		"Milky_Bar": {Calories: 137, Sugar: 14},
	}
}

// Lookup returns the entry for a raw or normalized category
func (t Table) Lookup(category string) (Entry, bool) {
	e, ok := t[Normalize(category)]
	return e, ok
}

// Keys returns the table keys in sorted order
func (t Table) Keys() []string {
	keys := lo.Keys(map[string]Entry(t))
	sort.Strings(keys)
	return keys
}

// Merge returns a copy of t with entries from other added or replaced
func (t Table) Merge(other Table) Table {
	return lo.Assign(t, other)
}

// LoadFile reads a table from a JSON file. Two layouts are accepted:
//
//	{"Bar_One": [201, 21]}
//	{"Bar_One": {"calories": 201, "sugar_g": 21}}
//
// Keys are normalized on load.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read nutrition table %s", path)
	}
	return Parse(data)
}

// Parse decodes a JSON nutrition table
func Parse(data []byte) (Table, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode nutrition table")
	}

	table := make(Table, len(raw))
	for name, value := range raw {
		entry, err := parseEntry(value)
		if err != nil {
			return nil, errors.Wrapf(err, "nutrition entry %q", name)
		}
		table[Normalize(name)] = entry
	}
	return table, nil
}

func parseEntry(value json.RawMessage) (Entry, error) {
	var pair []int
	if err := json.Unmarshal(value, &pair); err == nil {
		if len(pair) != 2 {
			return Entry{}, errors.Errorf("expected [calories, sugar], got %d values", len(pair))
		}
		return validate(Entry{Calories: pair[0], Sugar: pair[1]})
	}

	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, errors.Wrap(err, "decode entry")
	}
	return validate(entry)
}

func validate(e Entry) (Entry, error) {
	if e.Calories < 0 || e.Sugar < 0 {
		return Entry{}, errors.New("nutrition values must be non-negative")
	}
	return e, nil
}
