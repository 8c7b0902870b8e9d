package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ListKeys are written to config.yaml as YAML sequences. `config set` takes
// them as comma separated values.
var ListKeys = map[string]bool{
	"jira.projects": true,
}

// SecretKeys are masked when settings are printed.
var SecretKeys = map[string]bool{
	"jira.api_token": true,
	"database.url":   true,
}

// MaskSecret hides all but the last four characters of secret values.
func MaskSecret(key, value string) string {
	if !SecretKeys[key] || value == "" {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + value[len(value)-4:]
}

// SetYamlConfig sets key (dotted path) in the config.yaml at path, creating
// the file and intermediate mappings as needed. Comments and unrelated keys
// are preserved.
func SetYamlConfig(path, key, value string) error {
	content, err := os.ReadFile(path) //nolint:gosec // path comes from FindProjectConfig or --config
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	updated, err := updateYamlKey(content, key, value)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

// updateYamlKey returns content with key set to value.
func updateYamlKey(content []byte, key, value string) ([]byte, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(content)) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config.yaml: top level must be a mapping")
	}

	parts := strings.Split(key, ".")
	node := root
	for i, part := range parts {
		idx := mappingIndex(node, part)
		if i == len(parts)-1 {
			val := valueNode(key, value)
			if idx >= 0 {
				val.HeadComment = node.Content[idx+1].HeadComment
				val.LineComment = node.Content[idx+1].LineComment
				node.Content[idx+1] = val
			} else {
				node.Content = append(node.Content, scalar(part), val)
			}
			break
		}
		if idx < 0 {
			child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, scalar(part), child)
			node = child
			continue
		}
		child := node.Content[idx+1]
		if child.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("cannot set %s: %s is not a mapping", key, strings.Join(parts[:i+1], "."))
		}
		node = child
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config.yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// mappingIndex returns the index of key's key node in a mapping, or -1.
func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func valueNode(key, value string) *yaml.Node {
	if !ListKeys[key] {
		return scalar(value)
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			seq.Content = append(seq.Content, scalar(item))
		}
	}
	return seq
}
