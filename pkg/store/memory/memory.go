// Package memory provides mutex-guarded in-process implementations of the
// store interfaces. It is the default when no database is configured and the
// backing store for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/store"
)

type CredentialStore struct {
	mu    sync.Mutex
	creds map[string]store.Credential
	now   func() time.Time
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]store.Credential),
		now:   time.Now,
	}
}

func (s *CredentialStore) Get(_ context.Context, identity string) (store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	if !ok {
		return store.Credential{}, store.ErrNotFound
	}
	return cred, nil
}

func (s *CredentialStore) List(_ context.Context) ([]store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (s *CredentialStore) Create(_ context.Context, cred store.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[cred.Identity]; exists {
		return store.ErrDuplicate
	}
	now := s.now()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	s.creds[cred.Identity] = cred
	return nil
}

func (s *CredentialStore) Update(_ context.Context, identity string, patch store.CredentialPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Secret != nil {
		cred.Secret = *patch.Secret
	}
	if patch.Active != nil {
		cred.Active = *patch.Active
	}
	if patch.SessionLimit != nil {
		cred.SessionLimit = *patch.SessionLimit
	}
	cred.UpdatedAt = s.now()
	s.creds[identity] = cred
	return nil
}

func (s *CredentialStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[identity]; !ok {
		return store.ErrNotFound
	}
	delete(s.creds, identity)
	return nil
}

func (s *CredentialStore) IncrementSessionsUsed(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	if !ok {
		return 0, store.ErrNotFound
	}
	if cred.SessionsUsed >= cred.SessionLimit {
		return cred.SessionsUsed, store.ErrQuotaExceeded
	}
	cred.SessionsUsed++
	cred.UpdatedAt = s.now()
	s.creds[identity] = cred
	return cred.SessionsUsed, nil
}

func (s *CredentialStore) ResetSessionsUsed(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	if !ok {
		return store.ErrNotFound
	}
	cred.SessionsUsed = 0
	cred.UpdatedAt = s.now()
	s.creds[identity] = cred
	return nil
}

func (s *CredentialStore) TouchLastUsed(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[identity]
	if !ok {
		return store.ErrNotFound
	}
	cred.LastUsed = at
	s.creds[identity] = cred
	return nil
}

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string][]store.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]store.Session)}
}

func (s *SessionStore) Create(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions[sess.Identity] {
		if existing.Active {
			return store.ErrDuplicate
		}
	}
	sess.Active = true
	s.sessions[sess.Identity] = append(s.sessions[sess.Identity], sess)
	return nil
}

func (s *SessionStore) GetActive(_ context.Context, identity string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions[identity] {
		if sess.Active {
			return sess, nil
		}
	}
	return store.Session{}, store.ErrNotFound
}

func (s *SessionStore) Update(_ context.Context, identity string, patch store.SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sessions[identity]
	for i := range list {
		if !list[i].Active {
			continue
		}
		applyPatch(&list[i], patch)
		return nil
	}
	return store.ErrNotFound
}

func applyPatch(sess *store.Session, patch store.SessionPatch) {
	if patch.LastActivity != nil {
		sess.LastActivity = *patch.LastActivity
	}
	if patch.MessageCount != nil {
		sess.MessageCount = *patch.MessageCount
	}
	if patch.Active != nil {
		sess.Active = *patch.Active
	}
	if patch.ConversationActive != nil {
		sess.ConversationActive = *patch.ConversationActive
	}
	if patch.ConversationStart != nil {
		sess.ConversationStart = *patch.ConversationStart
	}
}

func (s *SessionStore) Deactivate(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sessions[identity]
	for i := range list {
		if list[i].Active {
			list[i].Active = false
			list[i].ConversationActive = false
		}
	}
	return nil
}

func (s *SessionStore) DeactivateOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for _, list := range s.sessions {
		for i := range list {
			if list[i].Active && list[i].StartTime.Before(cutoff) {
				list[i].Active = false
				list[i].ConversationActive = false
				swept++
			}
		}
	}
	return swept, nil
}

func (s *SessionStore) List(_ context.Context) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Session
	for _, list := range s.sessions {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}
