package repoconfig

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDocument decodes raw into a YAML node tree. Empty input yields an
// empty mapping document. Comments of a document without content are kept
// as the head comment of that mapping document.
func ParseDocument(raw []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", Path, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		head, foot := doc.HeadComment, doc.FootComment
		if head == "" && foot == "" {
			head = commentLines(raw)
		}
		doc = yaml.Node{
			Kind:        yaml.DocumentNode,
			HeadComment: head,
			FootComment: foot,
			Content:     []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document root is not a mapping", ErrInvalidConfig)
	}
	return &doc, nil
}

// Apply replays ops onto doc in order. Intermediate mappings are created as
// needed for adds and updates. Deleting a missing key is a no-op. Comments
// attached to replaced keys and values are carried over.
func Apply(doc *yaml.Node, ops []Op) error {
	if doc == nil || doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return fmt.Errorf("%w: not a YAML document", ErrInvalidConfig)
	}
	root := doc.Content[0]

	for _, op := range ops {
		if len(op.Path) == 0 {
			return fmt.Errorf("%s: empty path", op.Kind)
		}
		create := op.Kind != OpDelete
		parent, err := walk(root, op.Path[:len(op.Path)-1], create)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		key := op.Path[len(op.Path)-1]

		if op.Kind == OpDelete {
			if parent != nil {
				removeKey(parent, key)
			}
			continue
		}

		var value yaml.Node
		if err := value.Encode(op.Value); err != nil {
			return fmt.Errorf("%s: encode value: %w", op, err)
		}
		setKey(parent, key, &value)
	}
	return nil
}

// walk descends from node along path. Missing mappings are created when
// create is set; otherwise a nil node is returned for them.
func walk(node *yaml.Node, path []string, create bool) (*yaml.Node, error) {
	for _, key := range path {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%q is not under a mapping", key)
		}
		child := lookup(node, key)
		if child == nil || child.Kind != yaml.MappingNode {
			if !create {
				return nil, nil
			}
			fresh := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if child != nil {
				fresh.Style = child.Style
			}
			setKey(node, key, fresh)
			child = fresh
		}
		node = child
	}
	return node, nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != key {
			continue
		}
		old := mapping.Content[i+1]
		value.HeadComment = old.HeadComment
		value.LineComment = old.LineComment
		value.FootComment = old.FootComment
		if value.Kind == old.Kind && value.Kind == yaml.MappingNode {
			value.Style = old.Style
		}
		mapping.Content[i+1] = value
		return
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func removeKey(mapping *yaml.Node, key string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}

// commentLines returns the comment lines of raw joined by newlines.
func commentLines(raw []byte) string {
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func encodeNode(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}
