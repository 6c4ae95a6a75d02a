package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

func (s *BudgetService) Invites() []core.CollaborationInvite {
	return store.Select[core.CollaborationInvite](s.store, nil)
}

// SendInvite records a new pending invite. Inviting the same email again
// creates another record.
func (s *BudgetService) SendInvite(ctx context.Context, email, inviterName string, role core.Role) (core.CollaborationInvite, error) {
	if _, err := s.authorize(ctx, "send invite"); err != nil {
		return core.CollaborationInvite{}, err
	}
	now := core.Bump(time.Time{}, s.now())
	inv := core.CollaborationInvite{
		Email:       core.NormalizeEmail(email),
		InviterName: strings.TrimSpace(inviterName),
		Role:        role,
		Status:      core.InvitePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := inv.Validate(); err != nil {
		return core.CollaborationInvite{}, err
	}
	stored, err := s.put(ctx, "send invite", inv)
	if err != nil {
		return core.CollaborationInvite{}, err
	}
	return stored.(core.CollaborationInvite), nil
}

// UpdateInviteStatus resolves the newest pending invite for email. When
// every invite for email is already resolved the call fails with
// core.ErrStatusAlreadyResolved and nothing changes. Accepting gives the
// invitee the requested role.
func (s *BudgetService) UpdateInviteStatus(ctx context.Context, email string, status core.InviteStatus) (core.CollaborationInvite, error) {
	if _, err := s.authorize(ctx, "update invite"); err != nil {
		return core.CollaborationInvite{}, err
	}
	email = core.NormalizeEmail(email)

	var (
		found  bool
		target core.CollaborationInvite
	)
	for _, inv := range s.Invites() {
		if core.NormalizeEmail(inv.Email) != email {
			continue
		}
		found = true
		if inv.Status == core.InvitePending && (target.ID == 0 || !inv.CreatedAt.Before(target.CreatedAt)) {
			target = inv
		}
	}
	switch {
	case !found:
		return core.CollaborationInvite{}, fmt.Errorf("update invite for %s: %w", email, core.ErrNotFound)
	case target.ID == 0:
		return core.CollaborationInvite{}, fmt.Errorf("update invite for %s: %w", email, core.ErrStatusAlreadyResolved)
	}

	next, err := target.Transition(status, s.now())
	if err != nil {
		return target, fmt.Errorf("update invite %d: %w", target.ID, err)
	}
	if _, err := s.put(ctx, "update invite", next); err != nil {
		return target, err
	}
	slog.InfoContext(ctx, "Invite resolved", "id", next.ID, "email", email, "status", next.Status)

	if next.Status == core.InviteAccepted {
		if err := s.join(ctx, next); err != nil {
			return next, err
		}
	}
	return next, nil
}

// join adds the invitee as a member, or moves an existing member to the
// invited role.
func (s *BudgetService) join(ctx context.Context, inv core.CollaborationInvite) error {
	for _, m := range s.Members() {
		if core.NormalizeEmail(m.Email) != inv.Email {
			continue
		}
		if m.Role == inv.Role {
			return nil
		}
		m.Role = inv.Role
		m.UpdatedAt = core.Bump(m.UpdatedAt, s.now())
		if _, err := s.put(ctx, "update member", m); err != nil {
			return fmt.Errorf("join from invite %d: %w", inv.ID, err)
		}
		slog.InfoContext(ctx, "Member role changed by invite", "member", m.ID, "role", m.Role)
		return nil
	}
	name := inv.Email
	if at := strings.Index(name, "@"); at > 0 {
		name = name[:at]
	}
	m := core.FamilyMember{
		Name:      name,
		Email:     inv.Email,
		Role:      inv.Role,
		UpdatedAt: core.Bump(time.Time{}, s.now()),
	}
	if _, err := s.put(ctx, "add member", m); err != nil {
		return fmt.Errorf("join from invite %d: %w", inv.ID, err)
	}
	return nil
}
