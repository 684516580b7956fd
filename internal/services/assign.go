package services

import (
	"bytes"
	"context"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/models"
)

// AdminAssigner picks the admin who handles an escalated complaint.
type AdminAssigner struct {
	Accounts   AccountStore
	Complaints ComplaintStore
}

func NewAdminAssigner(accounts AccountStore, complaints ComplaintStore) *AdminAssigner {
	return &AdminAssigner{Accounts: accounts, Complaints: complaints}
}

// adminCandidate holds an admin and their current escalation load.
type adminCandidate struct {
	admin *models.Account
	load  int
}

// rankAdmins sorts candidates by load, then by id.
func rankAdmins(candidates []adminCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return bytes.Compare(candidates[i].admin.ID[:], candidates[j].admin.ID[:]) < 0
	})
}

// Pick returns the active admin with the fewest open escalations.
func (a *AdminAssigner) Pick(ctx context.Context, tx pgx.Tx) (*models.Account, error) {
	admins, err := a.Accounts.ListActiveAdmins(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		return nil, apperr.New(apperr.ErrInvalidState, "no active admin available to handle escalations")
	}
	loads, err := a.Complaints.CountOpenEscalations(ctx, tx)
	if err != nil {
		return nil, err
	}
	candidates := make([]adminCandidate, 0, len(admins))
	for _, adm := range admins {
		candidates = append(candidates, adminCandidate{admin: adm, load: loads[adm.ID]})
	}
	rankAdmins(candidates)
	return candidates[0].admin, nil
}
