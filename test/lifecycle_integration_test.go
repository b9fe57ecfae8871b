package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/kyc"
	"escrowflow/payment"
	"escrowflow/test/infra"
	"escrowflow/webhook"
)

var (
	testPool *pgxpool.Pool
	pgC      *infra.PGContainer
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		dsn string
		err error
	)
	pgC, dsn, err = infra.StartPostgres16(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, cleanup, err := infra.ApplyMigrations(ctx, dsn, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		_ = pgC.Terminate(ctx)
		os.Exit(1)
	}
	testPool = pool

	code := m.Run()

	pool.Close()
	_ = cleanup(context.Background())
	_ = pgC.Terminate(context.Background())
	os.Exit(code)
}

type stack struct {
	auth     *auth.Service
	escrow   *escrow.Service
	kyc      *kyc.Service
	dispute  *dispute.Service
	payout   *payment.Service
	webhook  *webhook.Service
	payments *payment.Repository
}

func newStack() *stack {
	auditor := audit.NewWriter()
	escrowRepo := escrow.NewRepository(testPool)
	paymentRepo := payment.NewRepository(testPool)
	escrowSvc := escrow.NewService(testPool, escrowRepo, paymentRepo, auditor)

	return &stack{
		auth:     auth.NewService(auth.NewRepository(testPool), "integration-secret", time.Hour),
		escrow:   escrowSvc,
		kyc:      kyc.NewService(testPool, nil, auditor),
		dispute:  dispute.NewService(testPool, nil, escrowRepo, escrowSvc, auditor),
		payout:   payment.NewService(testPool, paymentRepo, auditor),
		webhook:  webhook.NewService(testPool, nil, paymentRepo, escrowRepo, auditor, "hooksecret"),
		payments: paymentRepo,
	}
}

func registerUser(t *testing.T, s *stack, role auth.Role) *auth.User {
	t.Helper()
	email := fmt.Sprintf("%s-%s@example.com", role, uuid.NewString()[:8])
	user, err := s.auth.Register(context.Background(), auth.RegisterRequest{
		Email:    email,
		Password: "correct-horse-battery",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", role, err)
	}
	return user
}

func verifySeller(t *testing.T, s *stack, sellerID, adminID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.kyc.Submit(ctx, sellerID, kyc.SubmitRequest{DocumentURL: "https://docs.example.com/id.pdf"}); err != nil {
		t.Fatalf("submit kyc: %v", err)
	}
	if _, err := s.kyc.Verify(ctx, adminID, sellerID, kyc.SubmissionVerified); err != nil {
		t.Fatalf("verify kyc: %v", err)
	}
}

func createFundedEscrow(t *testing.T, s *stack, buyerID, sellerID, pgRef string) escrow.Transaction {
	t.Helper()
	ctx := context.Background()

	rec, err := s.escrow.Create(ctx, escrow.CreateTxParams{
		ActorID:  buyerID,
		BuyerID:  buyerID,
		SellerID: sellerID,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	rec, err = s.escrow.Fund(ctx, escrow.FundParams{
		EscrowID:    rec.ID,
		ActorID:     buyerID,
		Method:      "qr",
		PGReference: pgRef,
	})
	if err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	if rec.Status != escrow.StatusFunded {
		t.Fatalf("expected funded, got %s", rec.Status)
	}
	return rec
}

func TestEscrowLifecycle_HappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	tracking := "TRK1"
	rec, err := s.escrow.Ship(ctx, escrow.ShipParams{
		EscrowID:       rec.ID,
		ActorID:        seller.ID,
		TrackingNumber: &tracking,
	})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if rec.Status != escrow.StatusShipped {
		t.Fatalf("expected shipped, got %s", rec.Status)
	}
	if rec.SellerReceiptNumber == nil || *rec.SellerReceiptNumber != "TRK1" {
		t.Fatalf("expected tracking number persisted, got %+v", rec.SellerReceiptNumber)
	}

	if rec, err = s.escrow.UploadReceipt(ctx, rec.ID, buyer.ID, "https://proof.example.com/recv.jpg"); err != nil {
		t.Fatalf("upload receipt: %v", err)
	}
	if rec.Status != escrow.StatusShipped {
		t.Fatalf("receipt upload must not transition, got %s", rec.Status)
	}

	if rec, err = s.escrow.Confirm(ctx, rec.ID, buyer.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rec.Status != escrow.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", rec.Status)
	}

	if rec, err = s.escrow.Release(ctx, rec.ID, buyer.ID, string(auth.RoleBuyer)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec.Status != escrow.StatusReleased {
		t.Fatalf("expected released, got %s", rec.Status)
	}

	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Status != payment.PayoutPending {
		t.Fatalf("expected one pending payout, got %+v", payouts)
	}
	if !payouts[0].Amount.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected payout of 100, got %s", payouts[0].Amount)
	}

	if rec, err = s.escrow.Complete(ctx, rec.ID, admin.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.Status != escrow.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}

	payouts, err = s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if payouts[0].Status != payment.PayoutSent {
		t.Fatalf("expected payout sent after completion, got %s", payouts[0].Status)
	}
}

func TestShip_RequiresVerifiedSeller(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	tracking := "TRK2"
	_, err := s.escrow.Ship(ctx, escrow.ShipParams{
		EscrowID:       rec.ID,
		ActorID:        seller.ID,
		TrackingNumber: &tracking,
	})
	if err == nil {
		t.Fatalf("expected kyc gate to block shipping")
	}
}

func TestDispute_FavorSellerReleasesEscrow(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	d, err := s.dispute.Open(ctx, dispute.OpenParams{
		EscrowID: rec.ID,
		ActorID:  buyer.ID,
		Reason:   "item not as described",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	if rec, err = s.escrow.Get(ctx, buyer.ID, string(auth.RoleBuyer), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusDispute {
		t.Fatalf("expected escrow in dispute, got %s", rec.Status)
	}

	if _, err := s.dispute.AddEvidence(ctx, dispute.EvidenceParams{
		DisputeID: d.ID,
		ActorID:   seller.ID,
		FileURL:   "https://proof.example.com/shipment.jpg",
	}); err != nil {
		t.Fatalf("add evidence: %v", err)
	}

	resolved, err := s.dispute.Resolve(ctx, d.ID, admin.ID, dispute.DecisionFavorSeller)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != dispute.StatusResolved {
		t.Fatalf("expected dispute resolved, got %s", resolved.Status)
	}

	if rec, err = s.escrow.Get(ctx, admin.ID, string(auth.RoleAdmin), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusReleased {
		t.Fatalf("expected escrow released for seller, got %s", rec.Status)
	}

	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("expected one payout, got %d", len(payouts))
	}

	// Resolving again must fail: the dispute is no longer open.
	if _, err := s.dispute.Resolve(ctx, d.ID, admin.ID, dispute.DecisionFavorBuyer); err == nil {
		t.Fatalf("expected second resolution to fail")
	}
}

func TestDispute_AdminRefund(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	if _, err := s.dispute.Open(ctx, dispute.OpenParams{
		EscrowID: rec.ID,
		ActorID:  buyer.ID,
		Reason:   "never arrived",
	}); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	rec, err := s.escrow.Refund(ctx, rec.ID, admin.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if rec.Status != escrow.StatusCancelled {
		t.Fatalf("expected cancelled after refund, got %s", rec.Status)
	}
}

func TestPaymentWebhook_DoubleDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	pgRef := "pi_" + uuid.NewString()[:8]
	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, pgRef)

	body := []byte(fmt.Sprintf(`{"event":"payment_succeeded","pg_reference":"%s"}`, pgRef))
	evt := webhook.PaymentEvent{Event: webhook.EventPaymentSucceeded, PGReference: pgRef}

	res, err := s.webhook.HandlePaymentEvent(ctx, evt, body)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("first delivery must not be a duplicate")
	}

	res, err = s.webhook.HandlePaymentEvent(ctx, evt, body)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("second delivery must be reported as duplicate")
	}

	if rec, err = s.escrow.Get(ctx, buyer.ID, string(auth.RoleBuyer), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusFunded {
		t.Fatalf("expected escrow still funded, got %s", rec.Status)
	}

	var events int
	err = testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE external_reference = $1`, pgRef,
	).Scan(&events)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected exactly one recorded event, got %d", events)
	}
}

func TestRelease_ConcurrentCallsCreateOnePayout(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	tracking := "TRK9"
	var err error
	if rec, err = s.escrow.Ship(ctx, escrow.ShipParams{EscrowID: rec.ID, ActorID: seller.ID, TrackingNumber: &tracking}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if rec, err = s.escrow.Confirm(ctx, rec.ID, buyer.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.escrow.Release(gctx, rec.ID, buyer.ID, string(auth.RoleBuyer))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent release: %v", err)
	}

	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("expected exactly one payout after concurrent release, got %d", len(payouts))
	}
}

func TestRelease_BuyerBlockedDuringDispute(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	d, err := s.dispute.Open(ctx, dispute.OpenParams{
		EscrowID: rec.ID,
		ActorID:  buyer.ID,
		Reason:   "wrong item",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	if _, err := s.escrow.Release(ctx, rec.ID, buyer.ID, string(auth.RoleBuyer)); !errors.Is(err, escrow.ErrInvalidTransition) {
		t.Fatalf("expected buyer release to be rejected mid-dispute, got %v", err)
	}

	if rec, err = s.escrow.Get(ctx, buyer.ID, string(auth.RoleBuyer), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusDispute {
		t.Fatalf("expected escrow still in dispute, got %s", rec.Status)
	}
	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 0 {
		t.Fatalf("expected no payout, got %d", len(payouts))
	}

	// The admin resolution path still owns the dispute -> released step.
	if _, err := s.dispute.Resolve(ctx, d.ID, admin.ID, dispute.DecisionFavorSeller); err != nil {
		t.Fatalf("resolve favor_seller: %v", err)
	}
	if rec, err = s.escrow.Get(ctx, admin.ID, string(auth.RoleAdmin), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusReleased {
		t.Fatalf("expected released after resolution, got %s", rec.Status)
	}
}

func TestReleaseComplete_DoubleInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	tracking := "TRK5"
	var err error
	if rec, err = s.escrow.Ship(ctx, escrow.ShipParams{EscrowID: rec.ID, ActorID: seller.ID, TrackingNumber: &tracking}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if rec, err = s.escrow.Confirm(ctx, rec.ID, buyer.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	for i := 0; i < 2; i++ {
		if rec, err = s.escrow.Release(ctx, rec.ID, admin.ID, string(auth.RoleAdmin)); err != nil {
			t.Fatalf("release call %d: %v", i+1, err)
		}
		if rec.Status != escrow.StatusReleased {
			t.Fatalf("release call %d: expected released, got %s", i+1, rec.Status)
		}
	}
	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("expected one payout after repeated release, got %d", len(payouts))
	}

	for i := 0; i < 2; i++ {
		if rec, err = s.escrow.Complete(ctx, rec.ID, admin.ID); err != nil {
			t.Fatalf("complete call %d: %v", i+1, err)
		}
		if rec.Status != escrow.StatusCompleted {
			t.Fatalf("complete call %d: expected completed, got %s", i+1, rec.Status)
		}
	}
	payouts, err = s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Status != payment.PayoutSent {
		t.Fatalf("expected one sent payout after repeated complete, got %+v", payouts)
	}
}

func TestDisputeApprove_DoubleInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	d, err := s.dispute.Open(ctx, dispute.OpenParams{
		EscrowID: rec.ID,
		ActorID:  buyer.ID,
		Reason:   "never arrived",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	for i := 0; i < 2; i++ {
		if d, err = s.dispute.Approve(ctx, d.ID, admin.ID); err != nil {
			t.Fatalf("approve call %d: %v", i+1, err)
		}
		if d.Status != dispute.StatusResolved || d.Decision == nil || *d.Decision != dispute.DecisionApproved {
			t.Fatalf("approve call %d: unexpected state %+v", i+1, d)
		}
	}

	if rec, err = s.escrow.Get(ctx, admin.ID, string(auth.RoleAdmin), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusCancelled {
		t.Fatalf("expected escrow cancelled, got %s", rec.Status)
	}
}

func TestDisputeReject_DoubleInvocation(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	d, err := s.dispute.Open(ctx, dispute.OpenParams{
		EscrowID: rec.ID,
		ActorID:  buyer.ID,
		Reason:   "buyer remorse",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	for i := 0; i < 2; i++ {
		if d, err = s.dispute.Reject(ctx, d.ID, admin.ID); err != nil {
			t.Fatalf("reject call %d: %v", i+1, err)
		}
		if d.Status != dispute.StatusRejected || d.Decision == nil || *d.Decision != dispute.DecisionRejected {
			t.Fatalf("reject call %d: unexpected state %+v", i+1, d)
		}
	}

	if rec, err = s.escrow.Get(ctx, admin.ID, string(auth.RoleAdmin), rec.ID); err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if rec.Status != escrow.StatusCompleted {
		t.Fatalf("expected escrow completed, got %s", rec.Status)
	}
}

func TestPayoutWebhook_SentAfterAlreadySent(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires Docker")
	}
	ctx := context.Background()
	s := newStack()

	buyer := registerUser(t, s, auth.RoleBuyer)
	seller := registerUser(t, s, auth.RoleSeller)
	admin := registerUser(t, s, auth.RoleAdmin)
	verifySeller(t, s, seller.ID, admin.ID)

	rec := createFundedEscrow(t, s, buyer.ID, seller.ID, "pi_"+uuid.NewString()[:8])

	tracking := "TRK7"
	var err error
	if rec, err = s.escrow.Ship(ctx, escrow.ShipParams{EscrowID: rec.ID, ActorID: seller.ID, TrackingNumber: &tracking}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if rec, err = s.escrow.Confirm(ctx, rec.ID, buyer.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rec, err = s.escrow.Release(ctx, rec.ID, buyer.ID, string(auth.RoleBuyer)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, err = s.escrow.Complete(ctx, rec.ID, admin.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	payouts, err := s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Status != payment.PayoutSent {
		t.Fatalf("expected one sent payout, got %+v", payouts)
	}

	// A late gateway callback under a fresh reference misses the dedup
	// constraint but must still be reported as already processed.
	ref := "po_" + uuid.NewString()[:8]
	body := []byte(fmt.Sprintf(`{"event":"payout_sent","payout_id":"%s","pg_reference":"%s"}`, payouts[0].ID, ref))
	res, err := s.webhook.HandlePayoutEvent(ctx, webhook.PayoutEvent{
		Event:       webhook.EventPayoutSent,
		PayoutID:    payouts[0].ID,
		PGReference: ref,
	}, body)
	if err != nil {
		t.Fatalf("late payout_sent delivery: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("expected late payout_sent to report already processed, got %+v", res)
	}

	payouts, err = s.payouts(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if payouts[0].Status != payment.PayoutSent {
		t.Fatalf("expected payout still sent, got %s", payouts[0].Status)
	}
}

func (s *stack) payouts(ctx context.Context, escrowID string) ([]payment.Payout, error) {
	all, err := s.payments.ListPayouts(ctx, "", 100)
	if err != nil {
		return nil, err
	}
	out := []payment.Payout{}
	for _, p := range all {
		if p.EscrowID == escrowID {
			out = append(out, p)
		}
	}
	return out, nil
}
