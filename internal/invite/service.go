// Package invite issues and redeems project invitation tokens. Delivery of
// the token (email) is a collaborator concern; this service only mints,
// stores and consumes them.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

var (
	ErrInvalidToken = errors.New("invitation token invalid or expired")
	ErrInvalidRole  = errors.New("invitation role must be admin or member")
)

type inviteStore interface {
	InsertInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	MarkInvitationAccepted(context.Context, string) (bool, error)
	UpsertMember(context.Context, store.Member) error
}

type Service struct {
	store inviteStore
	ttl   time.Duration
}

func New(s inviteStore, ttl time.Duration) *Service {
	return &Service{store: s, ttl: ttl}
}

// Create mints an invitation and returns the one-time token. Only the bcrypt
// hash of the secret half is persisted.
func (s *Service) Create(ctx context.Context, projectID, email, role, createdBy string) (string, error) {
	if rbac.Normalize(role) == "" || rbac.Role(role) == rbac.RoleOwner {
		return "", ErrInvalidRole
	}

	secret, err := randomSecret()
	if err != nil {
		return "", fmt.Errorf("generate invitation secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash invitation secret: %w", err)
	}

	invitation := store.Invitation{
		ID:        util.NewID("inv"),
		ProjectID: projectID,
		Email:     email,
		Role:      role,
		TokenHash: string(hash),
		ExpiresAt: time.Now().Add(s.ttl),
		CreatedBy: createdBy,
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return "", err
	}
	return invitation.ID + "." + secret, nil
}

// Accept redeems a token for the given user and inserts the membership row.
// Membership insertion is idempotent; the token itself is single-use.
func (s *Service) Accept(ctx context.Context, token, userID string) (string, error) {
	invitationID, secret, ok := strings.Cut(token, ".")
	if !ok || invitationID == "" || secret == "" {
		return "", ErrInvalidToken
	}

	invitation, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return "", ErrInvalidToken
	}
	if invitation.AcceptedAt != nil || time.Now().After(invitation.ExpiresAt) {
		return "", ErrInvalidToken
	}
	if bcrypt.CompareHashAndPassword([]byte(invitation.TokenHash), []byte(secret)) != nil {
		return "", ErrInvalidToken
	}

	// Membership goes in before the token is consumed: the upsert is
	// idempotent, so a failure here leaves the token redeemable, while the
	// reverse order would burn it with nothing granted.
	if err := s.store.UpsertMember(ctx, store.Member{
		ProjectID: invitation.ProjectID,
		UserID:    userID,
		Role:      invitation.Role,
	}); err != nil {
		return "", err
	}

	consumed, err := s.store.MarkInvitationAccepted(ctx, invitationID)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", ErrInvalidToken
	}
	return invitation.ProjectID, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
