// Package guild describes the live state of a guild and the operations
// the reconciler needs to read and mutate it.
package guild

import (
	"context"
	"strings"
)

// Kind identifies a channel type. Each kind is its own name namespace.
type Kind string

// Channel kinds
const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
	KindStage Kind = "stage"
)

// ParseKind normalizes a channel type string. Empty means text.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return KindText, true
	case "voice":
		return KindVoice, true
	case "stage":
		return KindStage, true
	default:
		return "", false
	}
}

// Permissions is the subset of platform permission bits the reconciler manages.
type Permissions uint8

// Permission bits
const (
	PermView Permissions = 1 << iota
	PermSend
	PermManageMessages
)

// Has reports whether all bits in p are set.
func (p Permissions) Has(bits Permissions) bool {
	return p&bits == bits
}

func (p Permissions) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	if p.Has(PermView) {
		parts = append(parts, "view")
	}
	if p.Has(PermSend) {
		parts = append(parts, "send")
	}
	if p.Has(PermManageMessages) {
		parts = append(parts, "manage_messages")
	}
	return strings.Join(parts, "+")
}

// Overwrite is a per-subject permission override on a channel.
// Bits in neither Allow nor Deny are inherited.
type Overwrite struct {
	SubjectID string
	Allow     Permissions
	Deny      Permissions
}

// Role is a live guild role.
type Role struct {
	ID   string
	Name string
}

// Category is a live channel category.
type Category struct {
	ID   string
	Name string
}

// Channel is a live text, voice or stage channel.
type Channel struct {
	ID         string
	Name       string
	Kind       Kind
	ParentID   string
	Topic      string
	Overwrites []Overwrite
}

// ChannelParams describes a channel to create.
type ChannelParams struct {
	Name       string
	Kind       Kind
	ParentID   string
	Topic      string
	Overwrites []Overwrite
}

// ChannelEdit describes an in-place channel update.
// A nil Topic keeps the current topic; nil Overwrites keep the current set.
type ChannelEdit struct {
	ParentID   string
	Topic      *string
	Overwrites []Overwrite
}

// Query is the read-only view of a guild.
type Query interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Gateway performs mutations against a guild. Implementations never delete.
type Gateway interface {
	CreateRole(ctx context.Context, name string) (Role, error)
	CreateCategory(ctx context.Context, name string) (Category, error)

	// CreateChannel creates a text or voice channel.
	CreateChannel(ctx context.Context, p ChannelParams) (Channel, error)

	// CreateStageChannel creates a stage channel. When the guild lacks the
	// capability nothing is created and supported is false.
	CreateStageChannel(ctx context.Context, p ChannelParams) (ch Channel, supported bool, err error)

	EditChannel(ctx context.Context, id string, e ChannelEdit) (Channel, error)

	// SetOverwrite replaces the overwrite of one subject on a channel,
	// leaving the others untouched.
	SetOverwrite(ctx context.Context, channelID string, o Overwrite) error
}

// Guild combines Query and Gateway.
type Guild interface {
	Query
	Gateway
}
