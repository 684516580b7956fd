package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/events"
	"github.com/mmomarket/settlement/internal/models"
)

func TestReleaseDue_WaitsForHoldPeriod(t *testing.T) {
	f := newFixture(t)
	escrow := f.purchase(t, 1, 200)
	releaser := NewEscrowReleaser(f.deps)
	ctx := context.Background()

	f.clock.advance(f.deps.Policy.HoldPeriod - 1)
	res, err := releaser.ReleaseDue(ctx)
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if res.Processed != 0 {
		t.Errorf("nothing should be due yet, got %+v", res)
	}
	if outcome, _ := releaser.ReleaseOne(ctx, escrow.ID); outcome != ReleaseNotDue {
		t.Errorf("manual release before due: got %q, want not_due", outcome)
	}

	f.clock.advance(1)
	res, err = releaser.ReleaseDue(ctx)
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected one release, got %+v", res)
	}

	got := f.store.EscrowTx(escrow.ID)
	if got.Status != models.EscrowStatusCompleted || got.CompletedAt == nil {
		t.Errorf("escrow not completed: %+v", got)
	}
	if bal := f.balance(f.seller); bal != escrow.SellerPayout {
		t.Errorf("seller balance: got %d, want %d", bal, escrow.SellerPayout)
	}
	if n := f.notes.titled(f.seller.ID, "Payout received"); n != 1 {
		t.Errorf("payout notifications: got %d, want 1", n)
	}
	if n := len(f.store.Events(events.TypeEscrowReleased)); n != 1 {
		t.Errorf("escrow.released events: got %d, want 1", n)
	}
}

func TestReleaseOne_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	escrow := f.purchase(t, 1, 300)
	f.clock.advance(f.deps.Policy.HoldPeriod)
	releaser := NewEscrowReleaser(f.deps)

	var wg sync.WaitGroup
	var mu sync.Mutex
	released := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := releaser.ReleaseOne(context.Background(), escrow.ID)
			if err != nil {
				t.Errorf("ReleaseOne: %v", err)
				return
			}
			if outcome == ReleaseReleased {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if released != 1 {
		t.Errorf("releases: got %d, want 1", released)
	}
	if bal := f.balance(f.seller); bal != escrow.SellerPayout {
		t.Errorf("seller credited more than once: balance %d, payout %d", bal, escrow.SellerPayout)
	}
	if n := len(f.store.LedgerEntries(f.seller.ID)); n != 1 {
		t.Errorf("seller ledger entries: got %d, want 1", n)
	}
}

func TestReleaseDue_BlockedByOpenComplaint(t *testing.T) {
	f := newFixture(t)
	escrow := f.activated(t, 200)
	disputes := NewDisputeService(f.deps, NewPenaltyEngine(f.deps))
	releaser := NewEscrowReleaser(f.deps)
	ctx := context.Background()

	complaint, err := disputes.File(ctx, f.actor(f.buyer), complaintInput(escrow.ID))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if !complaint.Blocking {
		t.Fatal("complaint filed while funds are held must block release")
	}

	f.clock.advance(f.deps.Policy.HoldPeriod)
	res, err := releaser.ReleaseDue(ctx)
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if res.Skipped != 1 || res.Succeeded != 0 {
		t.Errorf("expected the release to be skipped, got %+v", res)
	}
	if bal := f.balance(f.seller); bal != 0 {
		t.Errorf("seller paid despite open complaint: %d", bal)
	}

	if _, err := disputes.Cancel(ctx, f.actor(f.buyer), complaint.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if outcome, err := releaser.ReleaseOne(ctx, escrow.ID); err != nil || outcome != ReleaseReleased {
		t.Fatalf("release after cancel: outcome=%q err=%v", outcome, err)
	}
	if bal := f.balance(f.seller); bal != escrow.SellerPayout {
		t.Errorf("seller balance: got %d, want %d", bal, escrow.SellerPayout)
	}
}

func TestReleaseDue_NextTickAfterComplaintCloses(t *testing.T) {
	cases := []struct {
		name  string
		want  string
		close func(ctx context.Context, f *fixture, d *DisputeService, id uuid.UUID) error
	}{
		{
			name: "cancelled by buyer",
			want: models.ComplaintStatusCancelled,
			close: func(ctx context.Context, f *fixture, d *DisputeService, id uuid.UUID) error {
				_, err := d.Cancel(ctx, f.actor(f.buyer), id)
				return err
			},
		},
		{
			name: "resolved by agreement",
			want: models.ComplaintStatusResolved,
			close: func(ctx context.Context, f *fixture, d *DisputeService, id uuid.UUID) error {
				if _, err := d.StartWork(ctx, f.actor(f.seller), id); err != nil {
					return err
				}
				if _, err := d.ProposeResolution(ctx, f.actor(f.seller), id, "refunded the missing gold"); err != nil {
					return err
				}
				_, err := d.ConfirmResolution(ctx, f.actor(f.buyer), id, true)
				return err
			},
		},
		{
			name: "closed by admin",
			want: models.ComplaintStatusClosedByAdmin,
			close: func(ctx context.Context, f *fixture, d *DisputeService, id uuid.UUID) error {
				if _, err := d.StartWork(ctx, f.actor(f.seller), id); err != nil {
					return err
				}
				if _, err := d.Escalate(ctx, f.actor(f.buyer), id, longReason); err != nil {
					return err
				}
				_, err := d.AdminDecide(ctx, f.actor(f.admin), id, DecideInput{
					Outcome: models.ComplaintStatusClosedByAdmin,
					Note:    "no evidence of a fault",
				})
				return err
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			escrow := f.activated(t, 200)
			disputes := NewDisputeService(f.deps, NewPenaltyEngine(f.deps))
			releaser := NewEscrowReleaser(f.deps)
			ctx := context.Background()

			complaint, err := disputes.File(ctx, f.actor(f.buyer), complaintInput(escrow.ID))
			if err != nil {
				t.Fatalf("File: %v", err)
			}
			f.clock.advance(f.deps.Policy.HoldPeriod)
			if res, err := releaser.ReleaseDue(ctx); err != nil || res.Succeeded != 0 {
				t.Fatalf("release while disputed: res=%+v err=%v", res, err)
			}

			if err := tc.close(ctx, f, disputes, complaint.ID); err != nil {
				t.Fatalf("closing complaint: %v", err)
			}
			if got := f.store.Complaint(complaint.ID).Status; got != tc.want {
				t.Fatalf("complaint status: got %q, want %q", got, tc.want)
			}

			res, err := releaser.ReleaseDue(ctx)
			if err != nil {
				t.Fatalf("ReleaseDue: %v", err)
			}
			if res.Succeeded != 1 {
				t.Errorf("expected release on the next tick, got %+v", res)
			}
			if got := f.store.EscrowTx(escrow.ID).Status; got != models.EscrowStatusCompleted {
				t.Errorf("escrow status: got %q, want completed", got)
			}
			if bal := f.balance(f.seller); bal != escrow.SellerPayout {
				t.Errorf("seller balance: got %d, want %d", bal, escrow.SellerPayout)
			}
		})
	}
}

func TestFile_AfterReleaseIsInformational(t *testing.T) {
	f := newFixture(t)
	escrow := f.activated(t, 200)
	ctx := context.Background()

	f.clock.advance(f.deps.Policy.HoldPeriod)
	if outcome, err := NewEscrowReleaser(f.deps).ReleaseOne(ctx, escrow.ID); err != nil || outcome != ReleaseReleased {
		t.Fatalf("release: outcome=%q err=%v", outcome, err)
	}

	complaint, err := NewDisputeService(f.deps, NewPenaltyEngine(f.deps)).File(ctx, f.actor(f.buyer), complaintInput(escrow.ID))
	if err != nil {
		t.Fatalf("File after release: %v", err)
	}
	if complaint.Blocking {
		t.Error("complaint filed after release must not be blocking")
	}
	if bal := f.balance(f.seller); bal != escrow.SellerPayout {
		t.Errorf("late complaint must not affect the payout: balance %d", bal)
	}
}
