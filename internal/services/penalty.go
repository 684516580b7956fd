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

// Flag resolution reasons carried on flag.resolved events.
const (
	resolvedManual  = "manual"
	resolvedAmnesty = "amnesty"
	resolvedExpired = "expired"
)

type CreateFlagInput struct {
	ShopID             uuid.UUID  `json:"shop_id" validate:"required"`
	Level              string     `json:"level" validate:"required,oneof=warning severe banned"`
	Reason             string     `json:"reason" validate:"required,max=2000"`
	RelatedComplaintID *uuid.UUID `json:"related_complaint_id,omitempty"`
}

// PenaltyEngine raises and retires flags and applies the escalation tiers.
type PenaltyEngine struct {
	deps Deps
}

func NewPenaltyEngine(deps Deps) *PenaltyEngine {
	return &PenaltyEngine{deps: deps}
}

// CreateFlag raises a flag on a shop and evaluates the tiers.
func (p *PenaltyEngine) CreateFlag(ctx context.Context, actor Actor, in CreateFlagInput) (*models.Flag, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.ErrUnauthorized, "only admins may flag shops")
	}
	if err := inputValidator.Struct(in); err != nil {
		return nil, err
	}
	var flag *models.Flag
	var notes []notice
	err := database.WithTx(ctx, p.deps.DB, func(tx pgx.Tx) error {
		var err error
		flag, notes, err = p.createFlagTx(ctx, tx, actor.UserID, in.ShopID, in.Level, in.Reason, in.RelatedComplaintID)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.deps.send(ctx, notes)
	return flag, nil
}

// createFlagTx creates a flag inside tx and applies whatever tier it triggers.
func (p *PenaltyEngine) createFlagTx(ctx context.Context, tx pgx.Tx, adminID, shopID uuid.UUID, level, reason string, complaintID *uuid.UUID) (*models.Flag, []notice, error) {
	shop, err := p.deps.Catalog.GetShopForUpdate(ctx, tx, shopID)
	if err != nil {
		return nil, nil, err
	}
	flag := &models.Flag{
		ID:                 uuid.New(),
		ShopID:             shop.ID,
		AdminID:            adminID,
		Level:              level,
		Status:             models.FlagStatusActive,
		RelatedComplaintID: complaintID,
		Reason:             strings.TrimSpace(reason),
		CreatedAt:          p.deps.now(),
	}
	if err := p.deps.Flags.Create(ctx, tx, flag); err != nil {
		return nil, nil, fmt.Errorf("create flag: %w", err)
	}
	if err := p.deps.emit(ctx, tx, events.TypeFlagCreated, flag.ID, map[string]any{
		"flag_id": flag.ID,
		"shop_id": shop.ID,
		"level":   flag.Level,
	}); err != nil {
		return nil, nil, err
	}
	notes := []notice{{shop.OwnerID, "Shop flagged",
		fmt.Sprintf("Your shop %q received a %s flag: %s", shop.Name, flag.Level, flag.Reason)}}

	more, err := p.evaluate(ctx, tx, shop)
	if err != nil {
		return nil, nil, err
	}
	p.deps.Logger.Info("flag created", "flag_id", flag.ID, "shop_id", shop.ID, "level", flag.Level)
	return flag, append(notes, more...), nil
}

// Evaluate applies the penalty tiers to a shop inside tx.
func (p *PenaltyEngine) Evaluate(ctx context.Context, tx pgx.Tx, shopID uuid.UUID) error {
	shop, err := p.deps.Catalog.GetShopForUpdate(ctx, tx, shopID)
	if err != nil {
		return err
	}
	_, err = p.evaluate(ctx, tx, shop)
	return err
}

// evaluate applies the first matching tier: a banned-level flag bans and
// confiscates, too many active flags ban, recent flag clusters alert admins.
func (p *PenaltyEngine) evaluate(ctx context.Context, tx pgx.Tx, shop *models.Shop) ([]notice, error) {
	active, err := p.deps.Flags.ListActiveByShop(ctx, tx, shop.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range active {
		if f.Level == models.FlagLevelBanned {
			return p.ban(ctx, tx, shop, true)
		}
	}
	policy := p.deps.Policy
	if len(active) >= policy.BanActiveFlagCount {
		return p.ban(ctx, tx, shop, false)
	}

	now := p.deps.now()
	if countSince(active, now.Add(-policy.ShortReview.Window)) >= policy.ShortReview.Count {
		return p.deps.adminNotices(ctx, tx, "Shop review needed",
			fmt.Sprintf("Shop %q has %d or more active flags in %s and should be downgraded one tier.", shop.Name, policy.ShortReview.Count, policy.ShortReview.Window))
	}
	if countSince(active, now.Add(-policy.LongReview.Window)) >= policy.LongReview.Count {
		return p.deps.adminNotices(ctx, tx, "Shop review needed",
			fmt.Sprintf("Shop %q has %d or more active flags in %s and should be downgraded further.", shop.Name, policy.LongReview.Count, policy.LongReview.Window))
	}
	return nil, nil
}

func countSince(flags []*models.Flag, since time.Time) int {
	n := 0
	for _, f := range flags {
		if !f.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

// ban bans the shop and hides its products. With confiscate the owner's
// balance is taken even when the shop was already banned.
func (p *PenaltyEngine) ban(ctx context.Context, tx pgx.Tx, shop *models.Shop, confiscate bool) ([]notice, error) {
	now := p.deps.now()
	changed, err := p.deps.Catalog.BanShop(ctx, tx, shop.ID, now)
	if err != nil {
		return nil, fmt.Errorf("ban shop: %w", err)
	}
	hidden, err := p.deps.Catalog.SoftDeleteProducts(ctx, tx, shop.ID)
	if err != nil {
		return nil, fmt.Errorf("hide products: %w", err)
	}
	var taken int64
	if confiscate {
		if taken, err = p.deps.Ledger.Confiscate(ctx, tx, shop.OwnerID, &shop.ID); err != nil {
			return nil, fmt.Errorf("confiscate balance: %w", err)
		}
	}
	shop.Status = models.ShopStatusBanned
	if shop.BannedAt == nil {
		shop.BannedAt = &now
	}
	if !changed && taken == 0 {
		return nil, nil
	}
	if err := p.deps.emit(ctx, tx, events.TypeShopBanned, shop.ID, map[string]any{
		"shop_id":         shop.ID,
		"confiscated":     taken,
		"products_hidden": hidden,
	}); err != nil {
		return nil, err
	}
	p.deps.Logger.Warn("shop banned", "shop_id", shop.ID, "confiscated", taken, "products_hidden", hidden)
	body := fmt.Sprintf("Your shop %q has been banned and its products removed.", shop.Name)
	if taken > 0 {
		body += fmt.Sprintf(" Your balance of %d coins was confiscated.", taken)
	}
	return []notice{{shop.OwnerID, "Shop banned", body}}, nil
}

// ResolveFlag lets an admin retire a flag by hand.
func (p *PenaltyEngine) ResolveFlag(ctx context.Context, actor Actor, flagID uuid.UUID, notes string) (*models.Flag, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.ErrUnauthorized, "only admins may resolve flags")
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperr.New(apperr.ErrValidation, "resolution notes are required")
	}
	var flag *models.Flag
	var shop *models.Shop
	err := database.WithTx(ctx, p.deps.DB, func(tx pgx.Tx) error {
		var err error
		if flag, err = p.deps.Flags.GetForUpdate(ctx, tx, flagID); err != nil {
			return err
		}
		if flag.Status != models.FlagStatusActive {
			return apperr.New(apperr.ErrInvalidState, "flag %s is already resolved", flag.ID)
		}
		shop, err = p.resolveTx(ctx, tx, flag, notes, resolvedManual)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.notifyResolved(ctx, shop, flag, resolvedManual)
	return flag, nil
}

// RequestAmnesty clears a shop's lone warning when the shop has been clean
// for the amnesty window.
func (p *PenaltyEngine) RequestAmnesty(ctx context.Context, actor Actor, shopID uuid.UUID) (*models.Flag, error) {
	var flag *models.Flag
	var shop *models.Shop
	err := database.WithTx(ctx, p.deps.DB, func(tx pgx.Tx) error {
		var err error
		if shop, err = p.deps.Catalog.GetShopForUpdate(ctx, tx, shopID); err != nil {
			return err
		}
		if shop.OwnerID != actor.UserID && !actor.IsAdmin() {
			return apperr.New(apperr.ErrUnauthorized, "only the shop owner or an admin may request amnesty")
		}
		active, err := p.deps.Flags.ListActiveByShop(ctx, tx, shop.ID)
		if err != nil {
			return err
		}
		if len(active) != 1 || active[0].Level != models.FlagLevelWarning {
			return apperr.New(apperr.ErrInvalidState, "amnesty requires exactly one active warning flag, shop has %d active flags", len(active))
		}
		latest, err := p.deps.Flags.LatestCreatedAt(ctx, tx, shop.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.After(p.deps.now().Add(-p.deps.Policy.AmnestyCleanWindow)) {
			return apperr.New(apperr.ErrInvalidState, "shop received a flag within the last %s", p.deps.Policy.AmnestyCleanWindow)
		}
		if flag, err = p.deps.Flags.GetForUpdate(ctx, tx, active[0].ID); err != nil {
			return err
		}
		_, err = p.resolveTx(ctx, tx, flag, "amnesty granted", resolvedAmnesty)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.notifyResolved(ctx, shop, flag, resolvedAmnesty)
	return flag, nil
}

// resolveTx resolves a locked active flag and records the event.
func (p *PenaltyEngine) resolveTx(ctx context.Context, tx pgx.Tx, flag *models.Flag, notes, reason string) (*models.Shop, error) {
	now := p.deps.now()
	ok, err := p.deps.Flags.Resolve(ctx, tx, flag.ID, notes, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.ErrInvalidState, "flag %s is already resolved", flag.ID)
	}
	flag.Status = models.FlagStatusResolved
	flag.ResolutionNotes = &notes
	flag.ResolvedAt = &now
	shop, err := p.deps.Catalog.GetShop(ctx, tx, flag.ShopID)
	if err != nil {
		return nil, err
	}
	err = p.deps.emit(ctx, tx, events.TypeFlagResolved, flag.ID, map[string]any{
		"flag_id": flag.ID,
		"shop_id": flag.ShopID,
		"reason":  reason,
	})
	return shop, err
}

func (p *PenaltyEngine) notifyResolved(ctx context.Context, shop *models.Shop, flag *models.Flag, reason string) {
	p.deps.Notifier.Notify(ctx, shop.OwnerID, "Flag resolved",
		fmt.Sprintf("A %s flag on your shop %q was resolved (%s).", flag.Level, shop.Name, reason))
}

// ExpireStaleFlags resolves active flags older than the expiry age, unless
// the shop received another active flag within that window.
func (p *PenaltyEngine) ExpireStaleFlags(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	cutoff := p.deps.now().Add(-p.deps.Policy.FlagExpiryAge)
	stale, err := p.deps.Flags.ListActiveCreatedBefore(ctx, nil, cutoff, p.deps.Policy.FlagExpiryBatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale flags: %w", err)
	}
	for _, f := range stale {
		res.Processed++
		var flag *models.Flag
		var shop *models.Shop
		err := database.WithTx(ctx, p.deps.DB, func(tx pgx.Tx) error {
			flag, shop = nil, nil
			locked, err := p.deps.Flags.GetForUpdate(ctx, tx, f.ID)
			if err != nil {
				return err
			}
			if locked.Status != models.FlagStatusActive {
				return nil
			}
			active, err := p.deps.Flags.ListActiveByShop(ctx, tx, locked.ShopID)
			if err != nil {
				return err
			}
			for _, other := range active {
				if other.ID != locked.ID && other.CreatedAt.After(cutoff) {
					return nil
				}
			}
			if shop, err = p.resolveTx(ctx, tx, locked, "expired", resolvedExpired); err != nil {
				return err
			}
			flag = locked
			return nil
		})
		switch {
		case err != nil:
			res.Failed++
			p.deps.Logger.Error("flag expiry failed", "flag_id", f.ID, "error", err)
		case flag == nil:
			res.Skipped++
		default:
			res.Succeeded++
			p.notifyResolved(ctx, shop, flag, resolvedExpired)
		}
	}
	if res.Succeeded > 0 {
		p.deps.Logger.Info("flags expired", "count", res.Succeeded)
	}
	return res, nil
}

// ReviewShops re-evaluates the tiers for every shop with active flags.
func (p *PenaltyEngine) ReviewShops(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	shopIDs, err := p.deps.Flags.ListShopsWithActiveFlags(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("list flagged shops: %w", err)
	}
	for _, id := range shopIDs {
		res.Processed++
		var notes []notice
		var skipped bool
		err := database.WithTx(ctx, p.deps.DB, func(tx pgx.Tx) error {
			shop, err := p.deps.Catalog.GetShopForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if skipped = shop.Status == models.ShopStatusBanned; skipped {
				return nil
			}
			notes, err = p.evaluate(ctx, tx, shop)
			return err
		})
		switch {
		case err != nil:
			res.Failed++
			p.deps.Logger.Error("shop review failed", "shop_id", id, "error", err)
		case skipped:
			res.Skipped++
		default:
			res.Succeeded++
			p.deps.send(ctx, notes)
		}
	}
	return res, nil
}

// Report logs a summary of flag activity over the last day.
func (p *PenaltyEngine) Report(ctx context.Context) (*models.FlagStats, error) {
	stats, err := p.deps.Flags.Stats(ctx, nil, p.deps.now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("flag stats: %w", err)
	}
	p.deps.Logger.Info("daily flag report",
		"total", stats.Total,
		"active", stats.Active,
		"active_warning", stats.ActiveByLevel[models.FlagLevelWarning],
		"active_severe", stats.ActiveByLevel[models.FlagLevelSevere],
		"active_banned", stats.ActiveByLevel[models.FlagLevelBanned],
		"created_24h", stats.CreatedSince,
		"resolved_24h", stats.ResolvedSince,
		"shops_with_active", stats.ShopsWithActive,
	)
	return stats, nil
}
