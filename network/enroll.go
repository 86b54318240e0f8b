/*
enroll.go - Member registration under a sponsor

PURPOSE:
  Creates the User record and its tree node in one transaction, appending
  the newcomer to the sponsor's ordered childs. The node must exist
  before any commission walk can reference the user, so the two inserts
  never land separately.

SEE ALSO:
  - tree.go: Snapshot lookup used to resolve the sponsor
  - approval.go: The purchases an enrolled member can then submit
*/
package network

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnrollInput is the registration form.
type EnrollInput struct {
	SponsorID string // sponsor id, DNI or exact full name
	DNI       string
	Name      string
	LastName  string
	Email     string
	Phone     string
	Country   string
}

func (in *EnrollInput) validate() error {
	if strings.TrimSpace(in.SponsorID) == "" {
		return &InvalidStateError{Kind: "enrollment", ID: in.DNI, Status: "missing sponsor"}
	}
	if strings.TrimSpace(in.DNI) == "" || strings.TrimSpace(in.Name) == "" {
		return &InvalidStateError{Kind: "enrollment", ID: in.DNI, Status: "missing identity"}
	}
	return nil
}

// Enroll registers a new member under a sponsor. The member starts on
// the default plan with zero points; plan purchase is a separate,
// explicitly approved affiliation.
func (e *Engine) Enroll(ctx context.Context, in EnrollInput) (*User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var user *User
	err := e.Store.WithTx(ctx, func(s Store) error {
		sv := newServices(s)
		snap, err := sv.snapshot(ctx)
		if err != nil {
			return err
		}
		sponsor, err := snap.Resolve(in.SponsorID)
		if err != nil {
			return err
		}

		if _, err := s.FindUserByDNI(ctx, in.DNI); err == nil {
			return &InvalidStateError{Kind: "enrollment", ID: in.DNI, Status: "duplicate DNI"}
		} else if !IsNotFound(err) {
			return err
		}

		user = &User{
			ID:        uuid.NewString(),
			DNI:       in.DNI,
			Name:      in.Name,
			LastName:  in.LastName,
			Email:     in.Email,
			Phone:     in.Phone,
			Country:   in.Country,
			ParentID:  sponsor.ID,
			Plan:      PlanDefault,
			Rank:      RankNone,
			CreatedAt: time.Now(),
		}
		if err := s.InsertUser(ctx, user); err != nil {
			return err
		}
		if err := s.InsertNode(ctx, &TreeNode{ID: user.ID, Parent: sponsor.ID}); err != nil {
			return err
		}

		parent, err := s.FindNode(ctx, sponsor.ID)
		if err != nil {
			return err
		}
		parent.Childs = append(parent.Childs, user.ID)
		return s.UpdateNode(ctx, parent)
	})
	if err != nil {
		return nil, err
	}

	e.Tree.Invalidate()
	e.Log.Info("member enrolled",
		zap.String("user", user.ID),
		zap.String("sponsor", user.ParentID))
	return user, nil
}
