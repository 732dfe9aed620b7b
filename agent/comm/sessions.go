package comm

import (
	"sync"

	"github.com/findy-network/findy-didcomm/agent/trans"
)

// sessions are the open return routes keyed by the verkey of the other end.
type sessions struct {
	lk sync.Mutex
	m  map[string]trans.Session
}

func newSessions() *sessions {
	return &sessions{m: make(map[string]trans.Session)}
}

func (s *sessions) put(key string, session trans.Session) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.m[key] = session
}

func (s *sessions) get(key string) trans.Session {
	s.lk.Lock()
	defer s.lk.Unlock()

	session, ok := s.m[key]
	if !ok {
		return nil
	}
	if session.Closed() {
		delete(s.m, key)
		return nil
	}
	return session
}

func (s *sessions) remove(session trans.Session) {
	s.lk.Lock()
	defer s.lk.Unlock()

	for k, v := range s.m {
		if v.ID() == session.ID() {
			delete(s.m, k)
		}
	}
}

func (s *sessions) closeAll() {
	s.lk.Lock()
	defer s.lk.Unlock()

	for k, v := range s.m {
		_ = v.Close()
		delete(s.m, k)
	}
}
