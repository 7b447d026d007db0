package session

import "sync"

// syncMap is a typed wrapper around sync.Map keyed by session id.
type syncMap struct {
	m sync.Map
}

func (s *syncMap) Load(id string) (*Session, bool) {
	val, ok := s.m.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

func (s *syncMap) LoadOrStore(id string, sess *Session) (*Session, bool) {
	val, loaded := s.m.LoadOrStore(id, sess)
	return val.(*Session), loaded
}

func (s *syncMap) LoadAndDelete(id string) (*Session, bool) {
	val, ok := s.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

func (s *syncMap) Range(f func(id string, sess *Session) bool) {
	s.m.Range(func(key, val any) bool {
		return f(key.(string), val.(*Session))
	})
}
