package profile

import (
	"errors"
	"fmt"
)

// DefaultMaxNetworks mirrors the firmware's known-network table size
const DefaultMaxNetworks = 5

var (
	ErrDuplicate = errors.New("network name already exists")
	ErrFull      = errors.New("network store is full")
	ErrNotFound  = errors.New("network not found")
)

// Store is the ordered set of known profiles. It has no locking of its own
// and is owned by the connection manager's event loop.
type Store struct {
	max      int
	opts     Options
	profiles []Profile
}

// NewStore creates a store holding at most max profiles
func NewStore(max int, opts Options) *Store {
	if max <= 0 {
		max = DefaultMaxNetworks
	}
	return &Store{max: max, opts: opts}
}

// SetOptions changes the validation applied to later additions. Stored
// profiles are kept.
func (s *Store) SetOptions(opts Options) {
	s.opts = opts
}

// Add validates p and appends it. Specific flags are derived from the set fields.
func (s *Store) Add(p Profile) error {
	p.SSIDSpecific = p.SSID != ""
	p.BSSIDSpecific = !p.BSSID.IsZero()
	p.ChannelSpecific = p.Channel != 0

	if err := Validate(p, s.opts); err != nil {
		return err
	}
	if s.index(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
	}
	if len(s.profiles) >= s.max {
		return fmt.Errorf("%w: %d entries", ErrFull, s.max)
	}
	s.profiles = append(s.profiles, p)
	return nil
}

// Remove deletes the named profile
func (s *Store) Remove(name string) error {
	i := s.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
	return nil
}

// Get returns a copy of the named profile
func (s *Store) Get(name string) (Profile, bool) {
	i := s.index(name)
	if i < 0 {
		return Profile{}, false
	}
	return s.profiles[i], true
}

// Update replaces the stored copy of an existing profile
func (s *Store) Update(p Profile) error {
	i := s.index(p.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.Name)
	}
	s.profiles[i] = p
	return nil
}

// List returns the profiles in insertion order
func (s *Store) List() []Profile {
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

func (s *Store) Len() int {
	return len(s.profiles)
}

func (s *Store) index(name string) int {
	for i := range s.profiles {
		if s.profiles[i].Name == name {
			return i
		}
	}
	return -1
}
