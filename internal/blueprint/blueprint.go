// Package blueprint loads the desired guild layout from a YAML document.
package blueprint

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/guildsync/internal/guild"
)

// Blueprint is the parsed desired state. It is not modified after Parse.
type Blueprint struct {
	Roles      []string
	Categories []CategorySpec
}

// CategorySpec is a category and the channels that belong under it.
type CategorySpec struct {
	Name     string
	Channels []ChannelSpec
}

// ChannelSpec is a desired channel.
type ChannelSpec struct {
	Name  string
	Kind  guild.Kind
	Topic *string // nil when the document does not supply one
	Flags Flags
}

// Flags are the permission switches of a text channel.
type Flags struct {
	Readonly     bool
	StaffOnly    bool
	AllowBotPost bool
}

type document struct {
	Roles      []string   `yaml:"roles"`
	Categories []category `yaml:"categories"`
}

type category struct {
	Name     string    `yaml:"name"`
	Channels []channel `yaml:"channels"`
}

type channel struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Topic string `yaml:"topic"`
	Flags struct {
		Readonly     bool `yaml:"readonly"`
		StaffOnly    bool `yaml:"staff_only"`
		AllowBotPost bool `yaml:"allow_bot_post"`
	} `yaml:"flags"`
}

// Parse decodes a blueprint document. The top level must be a mapping;
// an empty document yields an empty Blueprint.
func Parse(body []byte) (*Blueprint, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return &Blueprint{}, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(body, &root); err != nil {
		return nil, &ParseError{Err: err}
	}
	if root.Kind == 0 || (root.Kind == yaml.DocumentNode && len(root.Content) == 0) {
		// Comments only
		return &Blueprint{}, nil
	}

	top := &root
	if top.Kind == yaml.DocumentNode {
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, &ParseError{Err: fmt.Errorf("top level must be a mapping, got %s", nodeKind(top))}
	}

	var doc document
	if err := top.Decode(&doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	bp := &Blueprint{
		Roles:      doc.Roles,
		Categories: make([]CategorySpec, 0, len(doc.Categories)),
	}
	for _, c := range doc.Categories {
		cs := CategorySpec{Name: c.Name, Channels: make([]ChannelSpec, 0, len(c.Channels))}
		for _, ch := range c.Channels {
			kind, ok := guild.ParseKind(ch.Type)
			if !ok {
				return nil, &ParseError{Err: fmt.Errorf("category %q channel %q: unknown type %q", c.Name, ch.Name, ch.Type)}
			}
			spec := ChannelSpec{
				Name: ch.Name,
				Kind: kind,
				Flags: Flags{
					Readonly:     ch.Flags.Readonly,
					StaffOnly:    ch.Flags.StaffOnly,
					AllowBotPost: ch.Flags.AllowBotPost,
				},
			}
			if ch.Topic != "" {
				topic := ch.Topic
				spec.Topic = &topic
			}
			cs.Channels = append(cs.Channels, spec)
		}
		bp.Categories = append(bp.Categories, cs)
	}
	return bp, nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return "null"
		}
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
