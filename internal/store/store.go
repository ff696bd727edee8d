package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no credential exists for an identifier.
var ErrNotFound = errors.New("store: credential not found")

// Credential is one stored connection configuration. Blob is the encrypted
// configuration; UserHash is the anonymized owner identifier used in logs.
type Credential struct {
	ID        string    `json:"id"`
	UserHash  string    `json:"userHash"`
	Blob      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store manages encrypted credentials in memory.
type Store struct {
	mu          sync.RWMutex
	credentials map[string]*Credential
	logger      *slog.Logger
}

// NewStore creates a new in-memory credential store.
func NewStore() *Store {
	return &Store{
		credentials: make(map[string]*Credential),
		logger:      slog.Default(),
	}
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Save stores a new encrypted credential and returns it with a generated
// identifier.
func (s *Store) Save(userHash, blob string) (*Credential, error) {
	if blob == "" {
		return nil, fmt.Errorf("store: blob cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cred := &Credential{
		ID:        uuid.NewString(),
		UserHash:  userHash,
		Blob:      blob,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.credentials[cred.ID] = cred

	s.logger.Debug("Saved credential", "id", cred.ID, "user_hash", userHash)
	out := *cred
	return &out, nil
}

// Update replaces the blob of an existing credential.
func (s *Store) Update(id, blob string) (*Credential, error) {
	if blob == "" {
		return nil, fmt.Errorf("store: blob cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}

	cred.Blob = blob
	cred.UpdatedAt = time.Now()

	s.logger.Debug("Updated credential", "id", id, "user_hash", cred.UserHash)
	out := *cred
	return &out, nil
}

// Get retrieves a credential by identifier.
func (s *Store) Get(id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := *cred
	return &out, nil
}

// Delete removes a credential. Deleting an unknown identifier is an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}

	delete(s.credentials, id)
	s.logger.Info("Deleted credential", "id", id, "user_hash", cred.UserHash)
	return nil
}

// List returns all stored credentials ordered by creation time.
func (s *Store) List() []*Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := make([]*Credential, 0, len(s.credentials))
	for _, cred := range s.credentials {
		out := *cred
		creds = append(creds, &out)
	}
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].CreatedAt.Equal(creds[j].CreatedAt) {
			return creds[i].ID < creds[j].ID
		}
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})
	return creds
}

// Stats returns statistics about the store.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int{
		"credentials": len(s.credentials),
	}
}
