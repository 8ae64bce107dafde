package loader

import (
	"github.com/tidwall/gjson"
)

func parseJSON(source string, data []byte) (map[string]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON"}
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, &ParseError{Path: source, Message: "top level must be an object"}
	}
	m, _ := res.Value().(map[string]any)
	return normalize(m).(map[string]any), nil
}
