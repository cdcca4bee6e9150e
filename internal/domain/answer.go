package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Answer is a submitted answer. Single-valued types carry one value, multi-select carries the chosen option ids.
type Answer struct {
	Values []string
}

// SingleAnswer builds an Answer from one value.
func SingleAnswer(v string) Answer {
	return Answer{Values: []string{v}}
}

// IsSkip reports whether the answer is the skip sentinel.
func (a Answer) IsSkip() bool {
	return len(a.Values) == 1 && a.Values[0] == SkipSentinel
}

// Empty reports whether nothing usable was submitted.
func (a Answer) Empty() bool {
	for _, v := range a.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts a string, a number, a bool, or an array of those.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.Values = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		values := make([]string, 0, len(raw))
		for _, r := range raw {
			v, err := scalarString(r)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		a.Values = values
		return nil
	}
	v, err := scalarString(data)
	if err != nil {
		return err
	}
	a.Values = []string{v}
	return nil
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if len(a.Values) == 1 {
		return json.Marshal(a.Values[0])
	}
	return json.Marshal(a.Values)
}

func scalarString(data []byte) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", Invalid("answer", "must be a string, number or list")
	}
}
