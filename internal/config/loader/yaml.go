package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

func parseYAML(source string, data []byte) (map[string]any, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if len(node.Content) == 0 {
		return map[string]any{}, nil
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: source, Line: root.Line, Message: "top level must be a mapping"}
	}
	var m map[string]any
	if err := root.Decode(&m); err != nil {
		return nil, &ParseError{Path: source, Line: root.Line, Message: err.Error(), Err: err}
	}
	out, ok := normalize(m).(map[string]any)
	if !ok {
		return nil, &ParseError{Path: source, Message: fmt.Sprintf("unexpected document type %T", m)}
	}
	return out, nil
}
