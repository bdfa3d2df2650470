package calibration

import (
	"sync"

	"levelcube/internal/attitude"
)

// Store holds the optional reference attitude that calibrated output is
// expressed against. The zero value has no reference.
type Store struct {
	mu  sync.RWMutex
	ref *attitude.Quaternion
	// inv caches inverse(ref).
	inv attitude.Quaternion
}

func New() *Store { return &Store{} }

// Calibrate makes raw the new reference. It overwrites any previous reference.
//
// A raw value that cannot be inverted is ignored and reported false.
func (s *Store) Calibrate(raw attitude.Quaternion) bool {
	if s == nil {
		return false
	}
	n, err := raw.Normalize()
	if err != nil {
		return false
	}
	inv := n.Conjugate()
	s.mu.Lock()
	s.ref = &n
	s.inv = inv
	s.mu.Unlock()
	return true
}

// Apply returns raw relative to the reference: normalize(inverse(ref) * raw).
// Without a reference raw is returned unchanged.
func (s *Store) Apply(raw attitude.Quaternion) attitude.Quaternion {
	if s == nil {
		return raw
	}
	s.mu.RLock()
	has := s.ref != nil
	inv := s.inv
	s.mu.RUnlock()
	if !has {
		return raw
	}
	out, err := inv.Mul(raw)
	if err != nil {
		return raw
	}
	return out
}

// Reference returns the current reference, if any.
func (s *Store) Reference() (attitude.Quaternion, bool) {
	if s == nil {
		return attitude.Quaternion{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ref == nil {
		return attitude.Quaternion{}, false
	}
	return *s.ref, true
}

// Reset clears the reference.
func (s *Store) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.ref = nil
	s.inv = attitude.Quaternion{}
	s.mu.Unlock()
}
