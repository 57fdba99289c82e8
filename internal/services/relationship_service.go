package services

import (
	"strings"
	"time"
)

// RelationshipStore persists the durable pairing records.
type RelationshipStore interface {
	CreateRelationship(r *Relationship) error
	GetRelationship(id string) (*Relationship, error)
	ListRelationships(includeArchived bool) ([]*Relationship, error)
	SetRelationshipArchived(id string, archived bool) error
}

// RelationshipService manages pairing records. Archive hides a relationship
// from listings without destroying its answer history.
type RelationshipService struct {
	store RelationshipStore
	now   func() time.Time
	idGen func() string
}

func NewRelationshipService(store RelationshipStore) *RelationshipService {
	return &RelationshipService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

func (s *RelationshipService) Create(userAID, userBID, label string) (*Relationship, error) {
	if strings.TrimSpace(userAID) == "" {
		return nil, NewInvalidError("user_a_id required")
	}
	r := &Relationship{
		ID:        s.idGen(),
		UserAID:   strings.TrimSpace(userAID),
		UserBID:   strings.TrimSpace(userBID),
		Label:     strings.TrimSpace(label),
		CreatedAt: s.now(),
	}
	if err := s.store.CreateRelationship(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RelationshipService) Get(id string) (*Relationship, error) {
	r, err := s.store.GetRelationship(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, NewNotFoundError("relationship not found: " + id)
	}
	return r, nil
}

func (s *RelationshipService) List(includeArchived bool) ([]*Relationship, error) {
	return s.store.ListRelationships(includeArchived)
}

// Archive hides the relationship. Invite-locked callers may answer questions
// but never manage the relationship itself.
func (s *RelationshipService) Archive(id string, lock *InviteLock) error {
	return s.setArchived(id, true, lock)
}

// Restore brings an archived relationship back into listings.
func (s *RelationshipService) Restore(id string, lock *InviteLock) error {
	return s.setArchived(id, false, lock)
}

func (s *RelationshipService) setArchived(id string, archived bool, lock *InviteLock) error {
	if lock != nil {
		return NewForbiddenError("invited participants cannot manage relationships")
	}
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.store.SetRelationshipArchived(id, archived)
}
