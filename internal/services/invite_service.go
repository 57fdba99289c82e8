package services

import (
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InviteStore is the persistence surface for one-time invites. The stored
// token is the short invite id, not the signed link token.
type InviteStore interface {
	CreateInvite(inv *Invite) error
	GetInvite(token string) (*Invite, error)
	// MarkInviteUsed is idempotent: marking an already-used invite is a no-op.
	MarkInviteUsed(token string) error
}

// InviteLock pins a browsing context to one relationship and one forced
// respondent role for the duration of the lock.
type InviteLock struct {
	Token          string     `json:"token"`
	RelationshipID string     `json:"relationship_id"`
	Respondent     Respondent `json:"respondent"`
}

type inviteClaims struct {
	Token          string     `json:"tok"`
	RelationshipID string     `json:"rid"`
	Respondent     Respondent `json:"res"`
	jwt.RegisteredClaims
}

// InviteService creates and resolves invite link tokens. Link tokens are
// HS256-signed claims; the signature gate runs before any store lookup so a
// tampered link never touches state.
type InviteService struct {
	store  InviteStore
	secret []byte
	now    func() time.Time
}

func NewInviteService(store InviteStore, secret []byte) *InviteService {
	return &InviteService{
		store:  store,
		secret: secret,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers an invite forcing the given respondent role and returns
// the invite row plus the signed link token to embed in the invite URL.
func (s *InviteService) Create(relationshipID string, respondent Respondent) (*Invite, string, error) {
	if strings.TrimSpace(relationshipID) == "" {
		return nil, "", NewInvalidError("relationship_id required")
	}
	if respondent != RespondentA && respondent != RespondentB {
		return nil, "", NewInvalidError("invites may only force respondent A or B")
	}
	inv := &Invite{
		Token:          shortID(12),
		RelationshipID: relationshipID,
		Respondent:     respondent,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateInvite(inv); err != nil {
		return nil, "", err
	}
	claims := inviteClaims{
		Token:          inv.Token,
		RelationshipID: inv.RelationshipID,
		Respondent:     inv.Respondent,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, "", err
	}
	return inv, signed, nil
}

// Resolve maps an optional signed link token to an invite lock. An empty
// token resolves to no lock. A token that does not verify or does not match a
// stored invite is fatal to the whole request: the caller must stop without
// creating any session state.
func (s *InviteService) Resolve(signedToken string) (*InviteLock, error) {
	if strings.TrimSpace(signedToken) == "" {
		return nil, nil
	}
	parsed, err := jwt.ParseWithClaims(signedToken, &inviteClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, NewInvalidInviteError("invite link is invalid or expired")
	}
	claims, ok := parsed.Claims.(*inviteClaims)
	if !ok {
		return nil, NewInvalidInviteError("invite link is invalid or expired")
	}
	inv, err := s.store.GetInvite(claims.Token)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.RelationshipID != claims.RelationshipID || inv.Respondent != claims.Respondent {
		return nil, NewInvalidInviteError("invite link is invalid or expired")
	}
	return &InviteLock{
		Token:          inv.Token,
		RelationshipID: inv.RelationshipID,
		Respondent:     inv.Respondent,
	}, nil
}

// MarkUsed flags the invite after its first productive answer. Safe to call
// repeatedly.
func (s *InviteService) MarkUsed(token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.store.MarkInviteUsed(token)
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
