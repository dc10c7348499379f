package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the rule file as written: YAML or JSON.
type Document struct {
	Version string `yaml:"version"`
	Labels  Labels `yaml:"labels"`
}

// Labels keeps labels in document order; evaluation order follows it.
type Labels []LabelRule

// LabelRule is one label with its patterns. Severity stays a string here so
// a bad value drops only this label at load time.
type LabelRule struct {
	Name      string        `yaml:"-"`
	Severity  string        `yaml:"severity"`
	Patterns  []PatternSpec `yaml:"patterns"`
	Negatives []string      `yaml:"negatives"`
}

// PatternSpec is a positive pattern. A bare string is accepted as the source.
type PatternSpec struct {
	Src   string `yaml:"src"`
	Name  string `yaml:"name"`
	Notes string `yaml:"notes"`
}

func (l *Labels) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("labels: expected mapping, got %s", kindName(value.Kind))
	}
	out := make(Labels, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var rule LabelRule
		if err := value.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("label %q: %w", value.Content[i].Value, err)
		}
		rule.Name = value.Content[i].Value
		out = append(out, rule)
	}
	*l = out
	return nil
}

func (p *PatternSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Src = value.Value
		return nil
	}
	type plain PatternSpec
	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = PatternSpec(raw)
	return nil
}

// ParseDocument decodes a rule document.
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode rule document: %w", err)
	}
	return doc, nil
}

// LoadDocument reads and decodes a rule file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule document: %w", err)
	}
	return ParseDocument(data)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "mapping"
}
