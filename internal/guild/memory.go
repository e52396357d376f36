package guild

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory is an in-process guild that records every mutation it receives.
type Memory struct {
	mu sync.Mutex

	everyoneID     string
	stageSupported bool
	nextID         int

	roles      []Role
	categories []Category
	channels   []Channel

	calls []string

	// FailOn, when set, is consulted before each mutation. A non-nil
	// result is returned instead of performing it.
	FailOn func(op, name string) error

	// ChannelNames, when set, rewrites the names of created channels the
	// way a platform that normalises them would, and is installed on
	// every Snapshot.
	ChannelNames NameFunc
}

var _ Guild = (*Memory)(nil)

// NewMemory creates an empty in-memory guild.
func NewMemory(everyoneID string, stageSupported bool) *Memory {
	return &Memory{
		everyoneID:     everyoneID,
		stageSupported: stageSupported,
	}
}

// Snapshot implements Query.
func (m *Memory) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := NewSnapshot(m.everyoneID)
	snap.SetChannelNames(m.ChannelNames)
	for _, r := range m.roles {
		snap.AddRole(r)
	}
	for _, c := range m.categories {
		snap.AddCategory(c)
	}
	for _, ch := range m.channels {
		ch.Overwrites = append([]Overwrite(nil), ch.Overwrites...)
		snap.AddChannel(ch)
	}
	return snap, nil
}

// Calls returns the mutations performed so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls clears the recorded mutation log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// SeedRole adds a role without recording a mutation.
func (m *Memory) SeedRole(name string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Role{ID: m.id(), Name: name}
	m.roles = append(m.roles, r)
	return r
}

// SeedCategory adds a category without recording a mutation.
func (m *Memory) SeedCategory(name string) Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Category{ID: m.id(), Name: name}
	m.categories = append(m.categories, c)
	return c
}

// SeedChannel adds a channel without recording a mutation.
func (m *Memory) SeedChannel(ch Channel) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch.ID = m.id()
	m.channels = append(m.channels, ch)
	return ch
}

// CreateRole implements Gateway.
func (m *Memory) CreateRole(ctx context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "create_role", name); err != nil {
		return Role{}, err
	}
	r := Role{ID: m.id(), Name: name}
	m.roles = append(m.roles, r)
	return r, nil
}

// CreateCategory implements Gateway.
func (m *Memory) CreateCategory(ctx context.Context, name string) (Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "create_category", name); err != nil {
		return Category{}, err
	}
	c := Category{ID: m.id(), Name: name}
	m.categories = append(m.categories, c)
	return c, nil
}

// CreateChannel implements Gateway.
func (m *Memory) CreateChannel(ctx context.Context, p ChannelParams) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Kind != KindText && p.Kind != KindVoice {
		return Channel{}, fmt.Errorf("unsupported channel kind %q", p.Kind)
	}
	if err := m.check(ctx, "create_"+string(p.Kind), p.Name); err != nil {
		return Channel{}, err
	}
	return m.addChannel(p), nil
}

// CreateStageChannel implements Gateway.
func (m *Memory) CreateStageChannel(ctx context.Context, p ChannelParams) (Channel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stageSupported {
		return Channel{}, false, nil
	}
	if err := m.check(ctx, "create_stage", p.Name); err != nil {
		return Channel{}, true, err
	}
	p.Kind = KindStage
	return m.addChannel(p), true, nil
}

// EditChannel implements Gateway.
func (m *Memory) EditChannel(ctx context.Context, id string, e ChannelEdit) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		ch := &m.channels[i]
		if ch.ID != id {
			continue
		}
		if err := m.check(ctx, "edit_"+string(ch.Kind), ch.Name); err != nil {
			return Channel{}, err
		}
		ch.ParentID = e.ParentID
		if e.Topic != nil {
			ch.Topic = *e.Topic
		}
		if e.Overwrites != nil {
			ch.Overwrites = append([]Overwrite(nil), e.Overwrites...)
		}
		out := *ch
		out.Overwrites = append([]Overwrite(nil), ch.Overwrites...)
		return out, nil
	}
	return Channel{}, fmt.Errorf("unknown channel %s", id)
}

// SetOverwrite implements Gateway.
func (m *Memory) SetOverwrite(ctx context.Context, channelID string, o Overwrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		ch := &m.channels[i]
		if ch.ID != channelID {
			continue
		}
		if err := m.check(ctx, "overwrite_"+string(ch.Kind), ch.Name); err != nil {
			return err
		}
		for j := range ch.Overwrites {
			if ch.Overwrites[j].SubjectID == o.SubjectID {
				ch.Overwrites[j] = o
				return nil
			}
		}
		ch.Overwrites = append(ch.Overwrites, o)
		return nil
	}
	return fmt.Errorf("unknown channel %s", channelID)
}

func (m *Memory) addChannel(p ChannelParams) Channel {
	if m.ChannelNames != nil {
		p.Name = m.ChannelNames(p.Kind, p.Name)
	}
	ch := Channel{
		ID:         m.id(),
		Name:       p.Name,
		Kind:       p.Kind,
		ParentID:   p.ParentID,
		Topic:      p.Topic,
		Overwrites: append([]Overwrite(nil), p.Overwrites...),
	}
	m.channels = append(m.channels, ch)
	return ch
}

// check must be called with mu held.
func (m *Memory) check(ctx context.Context, op, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailOn != nil {
		if err := m.FailOn(op, name); err != nil {
			return err
		}
	}
	m.calls = append(m.calls, op+":"+name)
	return nil
}

func (m *Memory) id() string {
	m.nextID++
	return strconv.Itoa(m.nextID)
}
