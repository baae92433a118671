package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TableEntry is one numeric key/value row.
type TableEntry struct {
	Key   float64 `json:"key"   yaml:"key"`
	Value float64 `json:"value" yaml:"value"`
}

// KeyedTable is an ordered mapping of numeric key to numeric value.
//
// It encodes as a JSON object whose keys are the formatted numbers, in table
// order, and decodes from either that object form or an array of
// {"key": k, "value": v} entries.
type KeyedTable []TableEntry

var ErrInvalidTable = errors.New("invalid keyed table")

// Lookup returns the value stored under key. Matching is exact; there is no
// interpolation between entries.
func (t KeyedTable) Lookup(key float64) (float64, bool) {
	for _, entry := range t {
		if entry.Key == key {
			return entry.Value, true
		}
	}

	return 0, false
}

// Keys returns the table keys in order.
func (t KeyedTable) Keys() []float64 {
	keys := make([]float64, len(t))
	for i, entry := range t {
		keys[i] = entry.Key
	}

	return keys
}

// FormatKey renders a key the way it appears in the object encoding.
func FormatKey(key float64) string {
	return strconv.FormatFloat(key, 'f', -1, 64)
}

func (t KeyedTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, entry := range t {
		if i > 0 {
			buf.WriteByte(',')
		}

		value, err := json.Marshal(entry.Value)
		if err != nil {
			return nil, err
		}

		buf.WriteString(strconv.Quote(FormatKey(entry.Key)))
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (t *KeyedTable) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*t = nil

		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []TableEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}

		*t = entries

		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: expected object or array", ErrInvalidTable)
	}

	var table KeyedTable

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}

		var value json.Number
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("%w: value for key %v: %w", ErrInvalidTable, keyTok, err)
		}

		entry, err := parseEntry(fmt.Sprint(keyTok), value.String())
		if err != nil {
			return err
		}

		table = append(table, entry)
	}

	*t = table

	return nil
}

func (t *KeyedTable) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var entries []TableEntry
		if err := node.Decode(&entries); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}

		*t = entries

		return nil
	case yaml.MappingNode:
		table := make(KeyedTable, 0, len(node.Content)/2)

		for i := 0; i+1 < len(node.Content); i += 2 {
			entry, err := parseEntry(node.Content[i].Value, node.Content[i+1].Value)
			if err != nil {
				return err
			}

			table = append(table, entry)
		}

		*t = table

		return nil
	default:
		return fmt.Errorf("%w: expected mapping or sequence at line %d", ErrInvalidTable, node.Line)
	}
}

func parseEntry(rawKey, rawValue string) (TableEntry, error) {
	key, err := strconv.ParseFloat(rawKey, 64)
	if err != nil {
		return TableEntry{}, fmt.Errorf("%w: key %q is not a number", ErrInvalidTable, rawKey)
	}

	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return TableEntry{}, fmt.Errorf("%w: value %q for key %q is not a number", ErrInvalidTable, rawValue, rawKey)
	}

	return TableEntry{Key: key, Value: value}, nil
}
