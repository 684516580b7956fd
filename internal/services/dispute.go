package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/database"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

// Action names a complaint lifecycle step.
type Action string

const (
	ActionCancel            Action = "cancel"
	ActionStartWork         Action = "start_work"
	ActionProposeResolution Action = "propose_resolution"
	ActionAccept            Action = "accept"
	ActionEscalate          Action = "escalate"
	ActionDecide            Action = "decide"
	ActionAutoResolve       Action = "auto_resolve"
)

type transitionKey struct {
	action Action
	from   string
}

type transitionRule struct {
	allowed Capability
	to      []string
}

// transitions is the complete lifecycle. Anything missing is an invalid state.
var transitions = map[transitionKey]transitionRule{
	{ActionCancel, models.ComplaintStatusNew}:                   {CapBuyer, []string{models.ComplaintStatusCancelled}},
	{ActionStartWork, models.ComplaintStatusNew}:                {CapSeller | CapAdmin, []string{models.ComplaintStatusInProgress}},
	{ActionStartWork, models.ComplaintStatusEscalated}:          {CapAdmin, []string{models.ComplaintStatusInProgress}},
	{ActionProposeResolution, models.ComplaintStatusInProgress}: {CapSeller, []string{models.ComplaintStatusPendingConfirmation}},
	{ActionAccept, models.ComplaintStatusPendingConfirmation}:   {CapBuyer, []string{models.ComplaintStatusResolved}},
	{ActionEscalate, models.ComplaintStatusInProgress}:          {CapBuyer | CapSeller, []string{models.ComplaintStatusEscalated}},
	{ActionEscalate, models.ComplaintStatusPendingConfirmation}: {CapBuyer | CapSeller, []string{models.ComplaintStatusEscalated}},
	{ActionDecide, models.ComplaintStatusEscalated}:             {CapAdmin, []string{models.ComplaintStatusResolved, models.ComplaintStatusClosedByAdmin}},
}

// checkTransition authorizes actor to move c to target via action.
func checkTransition(actor Actor, c *models.Complaint, action Action, target string) error {
	caps := capabilitiesOf(actor, c)
	if caps == 0 {
		return apperr.New(apperr.ErrUnauthorized, "actor %s is not a party to complaint %s", actor.UserID, c.ID)
	}
	rule, ok := transitions[transitionKey{action, c.Status}]
	if !ok {
		return apperr.New(apperr.ErrInvalidState, "cannot %s a complaint in status %s", action, c.Status)
	}
	if caps&rule.allowed == 0 {
		return apperr.New(apperr.ErrUnauthorized, "actor %s may not %s complaint %s", actor.UserID, action, c.ID)
	}
	for _, to := range rule.to {
		if to == target {
			return nil
		}
	}
	return apperr.New(apperr.ErrValidation, "%s cannot lead to status %s", action, target)
}

type EvidenceInput struct {
	URL  string `json:"url" validate:"required,url"`
	Kind string `json:"kind" validate:"required,oneof=image video"`
}

type FileComplaintInput struct {
	TransactionID uuid.UUID       `json:"transaction_id" validate:"required"`
	Type          string          `json:"type" validate:"required,oneof=item_not_working item_not_as_described fraud_suspicion other"`
	Description   string          `json:"description" validate:"required,min=10,max=4000"`
	Evidence      []EvidenceInput `json:"evidence" validate:"max=10,dive"`
}

// FlagRequest asks for a penalty flag as part of an admin decision.
type FlagRequest struct {
	Level  string `json:"level" validate:"required,oneof=warning severe banned"`
	Reason string `json:"reason" validate:"required,max=2000"`
}

type DecideInput struct {
	Outcome string       `json:"outcome" validate:"required,oneof=resolved closed_by_admin"`
	Note    string       `json:"note" validate:"required,max=4000"`
	Flag    *FlagRequest `json:"flag,omitempty"`
}

// DisputeService runs the complaint lifecycle. It never moves money; release
// is gated by the existence of open blocking complaints.
type DisputeService struct {
	deps     Deps
	penalty  *PenaltyEngine
	assigner *AdminAssigner
}

func NewDisputeService(deps Deps, penalty *PenaltyEngine) *DisputeService {
	return &DisputeService{
		deps:     deps,
		penalty:  penalty,
		assigner: NewAdminAssigner(deps.Accounts, deps.Complaints),
	}
}

// File opens a complaint on a transaction the actor bought.
func (s *DisputeService) File(ctx context.Context, actor Actor, in FileComplaintInput) (*models.Complaint, error) {
	if err := inputValidator.Struct(in); err != nil {
		return nil, err
	}
	var complaint *models.Complaint
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		escrow, err := s.deps.Escrow.GetForUpdate(ctx, tx, in.TransactionID)
		if err != nil {
			return err
		}
		if escrow.BuyerID != actor.UserID {
			return apperr.New(apperr.ErrUnauthorized, "only the buyer of transaction %s may file a complaint", escrow.ID)
		}
		order, err := s.deps.Orders.GetByID(ctx, tx, escrow.OrderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusCompleted {
			return apperr.New(apperr.ErrInvalidState, "order %s is %s", order.ID, order.Status)
		}

		units, err := s.deps.Inventory.ListByTransaction(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		for _, u := range units {
			if !u.Activated {
				return apperr.New(apperr.ErrInvalidState, "activate all items before filing a complaint")
			}
		}

		product, err := s.deps.Catalog.GetProduct(ctx, tx, escrow.ProductID)
		if err != nil {
			return err
		}
		category, err := s.deps.Catalog.GetCategory(ctx, tx, product.CategoryID)
		if err != nil {
			return err
		}
		window := s.deps.Policy.ComplaintWindow
		if category.HighRisk {
			window = s.deps.Policy.HighRiskComplaintWindow
		}
		now := s.deps.now()
		if now.After(escrow.CreatedAt.Add(window)) {
			return apperr.New(apperr.ErrDeadlineExpired, "complaint window of %s closed at %s", window, escrow.CreatedAt.Add(window).Format(time.RFC3339))
		}
		if category.HighRisk && !hasVideo(in.Evidence) {
			return apperr.New(apperr.ErrValidation, "complaints in high-risk categories require video evidence")
		}

		open, err := s.deps.Complaints.HasOpen(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		if open {
			return apperr.New(apperr.ErrInvalidState, "transaction %s already has an open complaint", escrow.ID)
		}

		evidence := make([]models.Evidence, 0, len(in.Evidence))
		for _, e := range in.Evidence {
			evidence = append(evidence, models.Evidence{URL: e.URL, Kind: e.Kind})
		}
		complaint = &models.Complaint{
			ID:            uuid.New(),
			TransactionID: escrow.ID,
			BuyerID:       escrow.BuyerID,
			SellerID:      escrow.SellerID,
			Type:          in.Type,
			Description:   strings.TrimSpace(in.Description),
			Evidence:      evidence,
			Status:        models.ComplaintStatusNew,
			Blocking:      escrow.Status == models.EscrowStatusHeld,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.deps.Complaints.Create(ctx, tx, complaint); err != nil {
			return err
		}
		return s.deps.emit(ctx, tx, events.TypeComplaintFiled, complaint.ID, map[string]any{
			"complaint_id":   complaint.ID,
			"transaction_id": escrow.ID,
			"blocking":       complaint.Blocking,
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Notifier.Notify(ctx, complaint.SellerID, "New complaint",
		fmt.Sprintf("A buyer filed a complaint on transaction %s.", complaint.TransactionID))
	return complaint, nil
}

func hasVideo(evidence []EvidenceInput) bool {
	for _, e := range evidence {
		if e.Kind == models.EvidenceKindVideo {
			return true
		}
	}
	return false
}

// ActivateUnits marks every unit of the buyer's transaction as activated.
func (s *DisputeService) ActivateUnits(ctx context.Context, actor Actor, transactionID uuid.UUID) (int, error) {
	var n int
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		escrow, err := s.deps.Escrow.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if escrow.BuyerID != actor.UserID {
			return apperr.New(apperr.ErrUnauthorized, "only the buyer may activate items of transaction %s", escrow.ID)
		}
		n, err = s.deps.Inventory.ActivateByTransaction(ctx, tx, escrow.ID, s.deps.now())
		return err
	})
	return n, err
}

// apply runs one lifecycle step. mutate may adjust the complaint and return
// notifications, which are sent after commit.
func (s *DisputeService) apply(ctx context.Context, actor Actor, complaintID uuid.UUID, action Action, target string,
	mutate func(tx pgx.Tx, c *models.Complaint) ([]notice, error)) (*models.Complaint, error) {
	var complaint *models.Complaint
	var notes []notice
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		notes = nil
		c, err := s.deps.Complaints.GetForUpdate(ctx, tx, complaintID)
		if err != nil {
			return err
		}
		if err := checkTransition(actor, c, action, target); err != nil {
			return err
		}
		from := c.Status
		c.Status = target
		c.UpdatedAt = s.deps.now()
		if mutate != nil {
			if notes, err = mutate(tx, c); err != nil {
				return err
			}
		}
		if err := s.deps.Complaints.Update(ctx, tx, c); err != nil {
			return err
		}
		complaint = c
		return s.statusChanged(ctx, tx, c, action, from)
	})
	if err != nil {
		return nil, err
	}
	s.deps.send(ctx, notes)
	s.deps.Logger.Info("complaint transition", "complaint_id", complaint.ID, "action", string(action), "status", complaint.Status)
	return complaint, nil
}

func (s *DisputeService) statusChanged(ctx context.Context, tx pgx.Tx, c *models.Complaint, action Action, from string) error {
	return s.deps.emit(ctx, tx, events.TypeComplaintStatusChanged, c.ID, map[string]any{
		"complaint_id": c.ID,
		"action":       string(action),
		"from":         from,
		"to":           c.Status,
	})
}

// Cancel withdraws a complaint the seller has not picked up yet.
func (s *DisputeService) Cancel(ctx context.Context, actor Actor, complaintID uuid.UUID) (*models.Complaint, error) {
	return s.apply(ctx, actor, complaintID, ActionCancel, models.ComplaintStatusCancelled,
		func(_ pgx.Tx, c *models.Complaint) ([]notice, error) {
			return []notice{{c.SellerID, "Complaint cancelled", fmt.Sprintf("The buyer cancelled complaint %s.", c.ID)}}, nil
		})
}

// StartWork moves a new complaint to in_progress. Admins may also take an
// escalated complaint back into work.
func (s *DisputeService) StartWork(ctx context.Context, actor Actor, complaintID uuid.UUID) (*models.Complaint, error) {
	return s.apply(ctx, actor, complaintID, ActionStartWork, models.ComplaintStatusInProgress,
		func(_ pgx.Tx, c *models.Complaint) ([]notice, error) {
			return []notice{{c.BuyerID, "Complaint in progress", fmt.Sprintf("Complaint %s is being worked on.", c.ID)}}, nil
		})
}

// ProposeResolution records the seller's fix and asks the buyer to confirm.
func (s *DisputeService) ProposeResolution(ctx context.Context, actor Actor, complaintID uuid.UUID, note string) (*models.Complaint, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apperr.New(apperr.ErrValidation, "resolution note is required")
	}
	return s.apply(ctx, actor, complaintID, ActionProposeResolution, models.ComplaintStatusPendingConfirmation,
		func(_ pgx.Tx, c *models.Complaint) ([]notice, error) {
			c.ResolutionNote = &note
			return []notice{{c.BuyerID, "Resolution proposed", fmt.Sprintf("The seller proposed a resolution for complaint %s. Please confirm.", c.ID)}}, nil
		})
}

// ConfirmResolution accepts the proposal. Rejecting is not a transition: the
// buyer must escalate with a reason instead.
func (s *DisputeService) ConfirmResolution(ctx context.Context, actor Actor, complaintID uuid.UUID, accept bool) (*models.Complaint, error) {
	if !accept {
		return nil, apperr.New(apperr.ErrValidation, "to reject a proposed resolution, escalate the complaint with a reason")
	}
	return s.apply(ctx, actor, complaintID, ActionAccept, models.ComplaintStatusResolved,
		func(_ pgx.Tx, c *models.Complaint) ([]notice, error) {
			return []notice{{c.SellerID, "Complaint resolved", fmt.Sprintf("The buyer accepted your resolution for complaint %s.", c.ID)}}, nil
		})
}

// Escalate hands the complaint to the least loaded admin.
func (s *DisputeService) Escalate(ctx context.Context, actor Actor, complaintID uuid.UUID, reason string) (*models.Complaint, error) {
	reason = strings.TrimSpace(reason)
	if n := s.deps.Policy.EscalationReasonMinLen; len([]rune(reason)) < n {
		return nil, apperr.New(apperr.ErrValidation, "escalation reason must be at least %d characters", n)
	}
	return s.apply(ctx, actor, complaintID, ActionEscalate, models.ComplaintStatusEscalated,
		func(tx pgx.Tx, c *models.Complaint) ([]notice, error) {
			admin, err := s.assigner.Pick(ctx, tx)
			if err != nil {
				return nil, err
			}
			c.EscalationReason = &reason
			c.AdminHandlerID = &admin.ID
			body := fmt.Sprintf("Complaint %s was escalated: %s", c.ID, reason)
			return []notice{
				{admin.ID, "Complaint assigned", body},
				{c.BuyerID, "Complaint escalated", body},
				{c.SellerID, "Complaint escalated", body},
			}, nil
		})
}

// AdminDecide closes an escalated complaint. An optional flag is raised on
// the seller's shop in the same transaction.
func (s *DisputeService) AdminDecide(ctx context.Context, actor Actor, complaintID uuid.UUID, in DecideInput) (*models.Complaint, error) {
	if err := inputValidator.Struct(in); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, complaintID, ActionDecide, in.Outcome,
		func(tx pgx.Tx, c *models.Complaint) ([]notice, error) {
			note := strings.TrimSpace(in.Note)
			c.ResolutionNote = &note
			body := fmt.Sprintf("An admin closed complaint %s as %s: %s", c.ID, c.Status, note)
			notes := []notice{
				{c.BuyerID, "Complaint decided", body},
				{c.SellerID, "Complaint decided", body},
			}
			if in.Flag == nil {
				return notes, nil
			}
			escrow, err := s.deps.Escrow.GetByID(ctx, tx, c.TransactionID)
			if err != nil {
				return nil, err
			}
			_, flagNotes, err := s.penalty.createFlagTx(ctx, tx, actor.UserID, escrow.ShopID, in.Flag.Level, in.Flag.Reason, &c.ID)
			if err != nil {
				return nil, err
			}
			return append(notes, flagNotes...), nil
		})
}

// AutoResolveStale resolves complaints whose proposed resolution went
// unanswered for longer than the confirmation timeout.
func (s *DisputeService) AutoResolveStale(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	cutoff := s.deps.now().Add(-s.deps.Policy.PendingConfirmationTimeout)
	ids, err := s.deps.Complaints.ListStalePendingIDs(ctx, nil, cutoff, s.deps.Policy.AutoResolveBatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale complaints: %w", err)
	}
	for _, id := range ids {
		res.Processed++
		done, err := s.autoResolve(ctx, id, cutoff)
		switch {
		case err != nil:
			res.Failed++
			s.deps.Logger.Error("auto-resolve failed", "complaint_id", id, "error", err)
		case done:
			res.Succeeded++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

func (s *DisputeService) autoResolve(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	var c *models.Complaint
	err := database.WithTx(ctx, s.deps.DB, func(tx pgx.Tx) error {
		var err error
		c, err = s.deps.Complaints.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status != models.ComplaintStatusPendingConfirmation || c.UpdatedAt.After(cutoff) {
			c = nil
			return nil
		}
		from := c.Status
		c.Status = models.ComplaintStatusResolved
		c.UpdatedAt = s.deps.now()
		if err := s.deps.Complaints.Update(ctx, tx, c); err != nil {
			return err
		}
		return s.statusChanged(ctx, tx, c, ActionAutoResolve, from)
	})
	if err != nil || c == nil {
		return false, err
	}
	body := fmt.Sprintf("Complaint %s was resolved automatically after the buyer did not respond.", c.ID)
	s.deps.send(ctx, []notice{
		{c.BuyerID, "Complaint auto-resolved", body},
		{c.SellerID, "Complaint auto-resolved", body},
	})
	return true, nil
}
