package core

import (
	"errors"
	"strings"
	"time"
)

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

type InviteStatus string

// CollaborationInvite asks someone to join the family budget with a role.
type CollaborationInvite struct {
	ID          int64        `json:"id"`
	Email       string       `json:"email"`
	InviterName string       `json:"inviterName"`
	Role        Role         `json:"role"`
	Status      InviteStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

var (
	ErrStatusAlreadyResolved = errors.New("invite status already resolved")
	ErrInvalidInviteStatus   = errors.New("invalid invite status")
)

func (i CollaborationInvite) EntityID() int64    { return i.ID }
func (CollaborationInvite) EntityTable() Table   { return TableInvites }
func (i CollaborationInvite) Updated() time.Time { return i.UpdatedAt }

func (s InviteStatus) Valid() bool {
	switch s {
	case InvitePending, InviteAccepted, InviteDeclined:
		return true
	}
	return false
}

// Resolved reports whether the invite has left the pending state.
func (s InviteStatus) Resolved() bool {
	return s == InviteAccepted || s == InviteDeclined
}

func (i CollaborationInvite) Validate() error {
	if !ValidEmail(i.Email) {
		return invalid("email", ErrInvalidEmail)
	}
	if strings.TrimSpace(i.InviterName) == "" {
		return invalid("inviterName", ErrEmptyName)
	}
	if !i.Role.Valid() {
		return invalid("role", ErrInvalidRole)
	}
	if !i.Status.Valid() {
		return invalid("status", ErrInvalidInviteStatus)
	}
	return nil
}

// Transition moves a pending invite to accepted or declined. The receiver is
// not modified; a resolved invite yields ErrStatusAlreadyResolved.
func (i CollaborationInvite) Transition(to InviteStatus, now time.Time) (CollaborationInvite, error) {
	if to != InviteAccepted && to != InviteDeclined {
		return i, invalid("status", ErrInvalidInviteStatus)
	}
	if i.Status != InvitePending {
		return i, ErrStatusAlreadyResolved
	}
	next := i
	next.Status = to
	next.UpdatedAt = Bump(i.UpdatedAt, now)
	return next, nil
}
