package guild

// NameFunc maps a channel name to the form the platform stores it in.
type NameFunc func(kind Kind, name string) string

// Snapshot is a name-indexed view of a guild at one point in time.
// The first entity listed under a name wins when the platform holds duplicates.
type Snapshot struct {
	// EveryoneID is the subject id of the default role.
	EveryoneID string

	roles        map[string]Role
	categories   map[string]Category
	channels     map[Kind]map[string]Channel
	channelNames NameFunc // nil keys channels by their literal name
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot(everyoneID string) Snapshot {
	return Snapshot{
		EveryoneID: everyoneID,
		roles:      make(map[string]Role),
		categories: make(map[string]Category),
		channels:   make(map[Kind]map[string]Channel),
	}
}

// SetChannelNames makes channel lookups and inserts go through fn, so a
// requested name finds the channel the platform renamed it to. Set it
// before adding channels.
func (s *Snapshot) SetChannelNames(fn NameFunc) {
	s.channelNames = fn
}

func (s Snapshot) channelKey(kind Kind, name string) string {
	if s.channelNames == nil {
		return name
	}
	return s.channelNames(kind, name)
}

// Role looks up a role by name.
func (s Snapshot) Role(name string) (Role, bool) {
	r, ok := s.roles[name]
	return r, ok
}

// Category looks up a category by name.
func (s Snapshot) Category(name string) (Category, bool) {
	c, ok := s.categories[name]
	return c, ok
}

// Channel looks up a channel by kind and name.
func (s Snapshot) Channel(kind Kind, name string) (Channel, bool) {
	ch, ok := s.channels[kind][s.channelKey(kind, name)]
	return ch, ok
}

// Counts returns the number of roles, categories and channels.
func (s Snapshot) Counts() (roles, categories, channels int) {
	for _, byName := range s.channels {
		channels += len(byName)
	}
	return len(s.roles), len(s.categories), channels
}

// AddRole records a role unless one with the same name is already present.
func (s *Snapshot) AddRole(r Role) {
	s.ensure()
	if _, ok := s.roles[r.Name]; !ok {
		s.roles[r.Name] = r
	}
}

// AddCategory records a category unless one with the same name is already present.
func (s *Snapshot) AddCategory(c Category) {
	s.ensure()
	if _, ok := s.categories[c.Name]; !ok {
		s.categories[c.Name] = c
	}
}

// AddChannel records a channel unless one with the same kind and name is already present.
func (s *Snapshot) AddChannel(ch Channel) {
	s.ensure()
	byName := s.channels[ch.Kind]
	if byName == nil {
		byName = make(map[string]Channel)
		s.channels[ch.Kind] = byName
	}
	key := s.channelKey(ch.Kind, ch.Name)
	if _, ok := byName[key]; !ok {
		byName[key] = ch
	}
}

// PutChannel records a channel, replacing any entry with the same kind and name.
func (s *Snapshot) PutChannel(ch Channel) {
	s.ensure()
	byName := s.channels[ch.Kind]
	if byName == nil {
		byName = make(map[string]Channel)
		s.channels[ch.Kind] = byName
	}
	byName[s.channelKey(ch.Kind, ch.Name)] = ch
}

// Clone returns a deep copy that can be mutated independently.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot(s.EveryoneID)
	out.channelNames = s.channelNames
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for kind, byName := range s.channels {
		m := make(map[string]Channel, len(byName))
		for name, ch := range byName {
			ch.Overwrites = append([]Overwrite(nil), ch.Overwrites...)
			m[name] = ch
		}
		out.channels[kind] = m
	}
	return out
}

func (s *Snapshot) ensure() {
	if s.roles == nil {
		s.roles = make(map[string]Role)
	}
	if s.categories == nil {
		s.categories = make(map[string]Category)
	}
	if s.channels == nil {
		s.channels = make(map[Kind]map[string]Channel)
	}
}
