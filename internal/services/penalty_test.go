package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/apperr"
	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

// seedFlag stores an active flag created age ago.
func (f *fixture) seedFlag(level string, age time.Duration) *models.Flag {
	fl := &models.Flag{
		ID:        uuid.New(),
		ShopID:    f.shop.ID,
		AdminID:   f.admin.ID,
		Level:     level,
		Status:    models.FlagStatusActive,
		Reason:    "late delivery",
		CreatedAt: f.clock.now().Add(-age),
	}
	f.store.PutFlag(fl)
	return fl
}

func (f *fixture) flagInput(level string) CreateFlagInput {
	return CreateFlagInput{ShopID: f.shop.ID, Level: level, Reason: "repeated complaints"}
}

func TestCreateFlag_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.buyer), f.flagInput(models.FlagLevelWarning))
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateFlag_Validation(t *testing.T) {
	f := newFixture(t)
	penalty := NewPenaltyEngine(f.deps)
	ctx := context.Background()

	in := f.flagInput("critical")
	if _, err := penalty.CreateFlag(ctx, f.actor(f.admin), in); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown level: got %v", err)
	}
	in = f.flagInput(models.FlagLevelWarning)
	in.Reason = ""
	if _, err := penalty.CreateFlag(ctx, f.actor(f.admin), in); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing reason: got %v", err)
	}
	in = f.flagInput(models.FlagLevelWarning)
	in.ShopID = uuid.New()
	if _, err := penalty.CreateFlag(ctx, f.actor(f.admin), in); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown shop: got %v", err)
	}
}

func TestCreateFlag_WarningNotifiesSeller(t *testing.T) {
	f := newFixture(t)
	flag, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.admin), f.flagInput(models.FlagLevelWarning))
	if err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if flag.Status != models.FlagStatusActive || flag.AdminID != f.admin.ID {
		t.Errorf("unexpected flag: %+v", flag)
	}
	if n := f.notes.titled(f.seller.ID, "Shop flagged"); n != 1 {
		t.Errorf("seller notices: got %d, want 1", n)
	}
	if got := f.store.Shop(f.shop.ID).Status; got != models.ShopStatusActive {
		t.Errorf("one warning must not ban, status %q", got)
	}
}

func TestEvaluate_BanAtActiveFlagLimit(t *testing.T) {
	f := newFixture(t)
	f.store.PutAccount(&models.Account{ID: f.seller.ID, Role: models.RoleSeller, Balance: 700, Active: true})
	for i := 0; i < f.deps.Policy.BanActiveFlagCount-1; i++ {
		f.seedFlag(models.FlagLevelWarning, 200*day)
	}

	if _, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.admin), f.flagInput(models.FlagLevelSevere)); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if got := f.store.Shop(f.shop.ID).Status; got != models.ShopStatusBanned {
		t.Fatalf("shop status: got %q, want banned", got)
	}
	if !f.store.Product(f.product.ID).Deleted {
		t.Error("products should be hidden")
	}
	if bal := f.balance(f.seller); bal != 700 {
		t.Errorf("flag-count ban must not confiscate: balance %d", bal)
	}
}

func TestEvaluate_ConfiscatesOnBannedShop(t *testing.T) {
	f := newFixture(t)
	penalty := NewPenaltyEngine(f.deps)
	ctx := context.Background()

	for i := 0; i < f.deps.Policy.BanActiveFlagCount; i++ {
		f.seedFlag(models.FlagLevelWarning, day)
	}
	if _, err := penalty.ReviewShops(ctx); err != nil {
		t.Fatalf("ReviewShops: %v", err)
	}
	if got := f.store.Shop(f.shop.ID).Status; got != models.ShopStatusBanned {
		t.Fatalf("shop should be banned by review, got %q", got)
	}

	// Earnings released after the ban are still confiscated by a banned-level flag.
	if _, err := f.deps.Ledger.AddBalance(ctx, nil, f.seller.ID, 900, models.LedgerEntryEscrowPayout, nil); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if _, err := penalty.CreateFlag(ctx, f.actor(f.admin), f.flagInput(models.FlagLevelBanned)); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if bal := f.balance(f.seller); bal != 0 {
		t.Errorf("balance after confiscation: got %d, want 0", bal)
	}
	banned := f.store.Events(events.TypeShopBanned)
	if len(banned) != 2 {
		t.Fatalf("shop.banned events: got %d, want 2", len(banned))
	}
	if got := banned[1].Data["confiscated"]; got != int64(900) {
		t.Errorf("confiscated amount in event: got %v, want 900", got)
	}
}

func TestEvaluate_ReviewTiersNotifyAdmins(t *testing.T) {
	t.Run("short window", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelWarning, 5*day)
		f.seedFlag(models.FlagLevelWarning, 10*day)
		if _, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.admin), f.flagInput(models.FlagLevelWarning)); err != nil {
			t.Fatalf("CreateFlag: %v", err)
		}
		notes := f.notes.to(f.admin.ID)
		if len(notes) != 1 || notes[0].Title != "Shop review needed" {
			t.Fatalf("admin notices: %+v", notes)
		}
	})

	t.Run("long window", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 4; i++ {
			f.seedFlag(models.FlagLevelWarning, 60*day)
		}
		if _, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.admin), f.flagInput(models.FlagLevelWarning)); err != nil {
			t.Fatalf("CreateFlag: %v", err)
		}
		if n := f.notes.titled(f.admin.ID, "Shop review needed"); n != 1 {
			t.Fatalf("admin notices: got %d, want 1", n)
		}
	})

	t.Run("resolved flags do not count", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 2; i++ {
			fl := f.seedFlag(models.FlagLevelWarning, day)
			fl.Status = models.FlagStatusResolved
			f.store.PutFlag(fl)
		}
		if _, err := NewPenaltyEngine(f.deps).CreateFlag(context.Background(), f.actor(f.admin), f.flagInput(models.FlagLevelWarning)); err != nil {
			t.Fatalf("CreateFlag: %v", err)
		}
		if n := len(f.notes.to(f.admin.ID)); n != 0 {
			t.Errorf("admin notices: got %d, want 0", n)
		}
	})
}

func TestRequestAmnesty(t *testing.T) {
	ctx := context.Background()

	t.Run("eligible", func(t *testing.T) {
		f := newFixture(t)
		old := f.seedFlag(models.FlagLevelWarning, 100*day)
		flag, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(f.seller), f.shop.ID)
		if err != nil {
			t.Fatalf("RequestAmnesty: %v", err)
		}
		if flag.ID != old.ID || flag.Status != models.FlagStatusResolved {
			t.Errorf("unexpected flag: %+v", flag)
		}
		if got := f.store.Flag(old.ID).Status; got != models.FlagStatusResolved {
			t.Errorf("stored flag status: %q", got)
		}
		if n := f.notes.titled(f.seller.ID, "Flag resolved"); n != 1 {
			t.Errorf("seller notices: got %d, want 1", n)
		}
	})

	t.Run("recent flag", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelWarning, 30*day)
		if _, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(f.seller), f.shop.ID); !errors.Is(err, apperr.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("recently resolved flag blocks", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelWarning, 120*day)
		resolved := f.seedFlag(models.FlagLevelWarning, 10*day)
		resolved.Status = models.FlagStatusResolved
		f.store.PutFlag(resolved)
		if _, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(f.seller), f.shop.ID); !errors.Is(err, apperr.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("severe flag", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelSevere, 100*day)
		if _, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(f.seller), f.shop.ID); !errors.Is(err, apperr.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("two warnings", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelWarning, 100*day)
		f.seedFlag(models.FlagLevelWarning, 95*day)
		if _, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(f.seller), f.shop.ID); !errors.Is(err, apperr.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("other seller", func(t *testing.T) {
		f := newFixture(t)
		f.seedFlag(models.FlagLevelWarning, 100*day)
		other := f.account(models.RoleSeller, 0)
		if _, err := NewPenaltyEngine(f.deps).RequestAmnesty(ctx, f.actor(other), f.shop.ID); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestResolveFlag(t *testing.T) {
	f := newFixture(t)
	penalty := NewPenaltyEngine(f.deps)
	ctx := context.Background()
	fl := f.seedFlag(models.FlagLevelSevere, day)

	if _, err := penalty.ResolveFlag(ctx, f.actor(f.seller), fl.ID, "appealed"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("seller resolving: got %v", err)
	}
	got, err := penalty.ResolveFlag(ctx, f.actor(f.admin), fl.ID, "appeal accepted")
	if err != nil {
		t.Fatalf("ResolveFlag: %v", err)
	}
	if got.ResolutionNotes == nil || *got.ResolutionNotes != "appeal accepted" || got.ResolvedAt == nil {
		t.Errorf("resolution not recorded: %+v", got)
	}
	if _, err := penalty.ResolveFlag(ctx, f.actor(f.admin), fl.ID, "again"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("resolving twice: got %v", err)
	}
	if n := len(f.store.Events(events.TypeFlagResolved)); n != 1 {
		t.Errorf("flag.resolved events: got %d, want 1", n)
	}
}

func TestExpireStaleFlags(t *testing.T) {
	f := newFixture(t)
	penalty := NewPenaltyEngine(f.deps)
	ctx := context.Background()

	stale := f.seedFlag(models.FlagLevelWarning, 200*day)

	otherShop := &models.Shop{ID: uuid.New(), OwnerID: f.seller.ID, Name: "Second", Status: models.ShopStatusActive}
	f.store.PutShop(otherShop)
	keptStale := &models.Flag{ID: uuid.New(), ShopID: otherShop.ID, AdminID: f.admin.ID, Level: models.FlagLevelWarning,
		Status: models.FlagStatusActive, Reason: "old", CreatedAt: f.clock.now().Add(-200 * day)}
	recent := &models.Flag{ID: uuid.New(), ShopID: otherShop.ID, AdminID: f.admin.ID, Level: models.FlagLevelWarning,
		Status: models.FlagStatusActive, Reason: "new", CreatedAt: f.clock.now().Add(-10 * day)}
	f.store.PutFlag(keptStale)
	f.store.PutFlag(recent)

	res, err := penalty.ExpireStaleFlags(ctx)
	if err != nil {
		t.Fatalf("ExpireStaleFlags: %v", err)
	}
	if res.Processed != 2 || res.Succeeded != 1 || res.Skipped != 1 {
		t.Errorf("batch result: %+v", res)
	}
	if got := f.store.Flag(stale.ID).Status; got != models.FlagStatusResolved {
		t.Errorf("stale flag on a clean shop should expire, got %q", got)
	}
	if got := f.store.Flag(keptStale.ID).Status; got != models.FlagStatusActive {
		t.Errorf("stale flag on a shop with recent flags must stay, got %q", got)
	}
	if got := f.store.Flag(recent.ID).Status; got != models.FlagStatusActive {
		t.Errorf("recent flag must stay, got %q", got)
	}
}

func TestExpireStaleFlags_BatchSize(t *testing.T) {
	f := newFixture(t)
	f.deps.Policy.FlagExpiryBatchSize = 1
	penalty := NewPenaltyEngine(f.deps)
	ctx := context.Background()

	first := f.seedFlag(models.FlagLevelWarning, 300*day)
	second := f.seedFlag(models.FlagLevelWarning, 200*day)

	for run := 1; run <= 2; run++ {
		res, err := penalty.ExpireStaleFlags(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.Processed != 1 || res.Succeeded != 1 {
			t.Errorf("run %d: expected one flag per run, got %+v", run, res)
		}
	}
	for _, fl := range []*models.Flag{first, second} {
		if got := f.store.Flag(fl.ID).Status; got != models.FlagStatusResolved {
			t.Errorf("flag %s: got %q after two runs", fl.ID, got)
		}
	}
}

func TestReviewShops_SkipsBanned(t *testing.T) {
	f := newFixture(t)
	f.shop.Status = models.ShopStatusBanned
	f.store.PutShop(f.shop)
	f.seedFlag(models.FlagLevelWarning, day)

	res, err := NewPenaltyEngine(f.deps).ReviewShops(context.Background())
	if err != nil {
		t.Fatalf("ReviewShops: %v", err)
	}
	if res.Skipped != 1 || res.Succeeded != 0 {
		t.Errorf("batch result: %+v", res)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	f.seedFlag(models.FlagLevelWarning, 2*day)
	f.seedFlag(models.FlagLevelSevere, time.Hour)
	done := f.seedFlag(models.FlagLevelWarning, 3*day)
	done.Status = models.FlagStatusResolved
	at := f.clock.now().Add(-time.Hour)
	done.ResolvedAt = &at
	f.store.PutFlag(done)

	stats, err := NewPenaltyEngine(f.deps).Report(context.Background())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.CreatedSince != 1 || stats.ResolvedSince != 1 || stats.ShopsWithActive != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.ActiveByLevel[models.FlagLevelWarning] != 1 || stats.ActiveByLevel[models.FlagLevelSevere] != 1 {
		t.Errorf("active by level: %v", stats.ActiveByLevel)
	}
}
