package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/kyc"
	"escrowflow/payment"
	"escrowflow/webhook"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

const sessionCookie = "escrow_session"

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Refresh(ctx context.Context, tokenString string) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
}

type escrowService interface {
	Create(ctx context.Context, params escrow.CreateTxParams) (escrow.Transaction, error)
	Get(ctx context.Context, actorID, actorRole, escrowID string) (escrow.Transaction, error)
	ListForUser(ctx context.Context, userID string, status escrow.Status, page, pageSize int) ([]escrow.Transaction, int, error)
	ListAll(ctx context.Context, status escrow.Status, page, pageSize int) ([]escrow.Transaction, int, error)
	Fund(ctx context.Context, params escrow.FundParams) (escrow.Transaction, error)
	Ship(ctx context.Context, params escrow.ShipParams) (escrow.Transaction, error)
	UploadReceipt(ctx context.Context, escrowID, actorID, proofURL string) (escrow.Transaction, error)
	Confirm(ctx context.Context, escrowID, actorID string) (escrow.Transaction, error)
	Release(ctx context.Context, escrowID, actorID, actorRole string) (escrow.Transaction, error)
	Complete(ctx context.Context, escrowID, actorID string) (escrow.Transaction, error)
	Cancel(ctx context.Context, escrowID, actorID string) (escrow.Transaction, error)
	Refund(ctx context.Context, escrowID, actorID string) (escrow.Transaction, error)
}

type kycService interface {
	Submit(ctx context.Context, userID string, req kyc.SubmitRequest) (kyc.Submission, error)
	Verify(ctx context.Context, reviewerID, userID string, verdict kyc.SubmissionStatus) (kyc.Submission, error)
	ListForUser(ctx context.Context, userID string) ([]kyc.Submission, error)
}

type disputeService interface {
	Open(ctx context.Context, params dispute.OpenParams) (dispute.Record, error)
	AddEvidence(ctx context.Context, params dispute.EvidenceParams) (dispute.Evidence, error)
	Resolve(ctx context.Context, disputeID, actorID string, decision dispute.Decision) (dispute.Record, error)
	Approve(ctx context.Context, disputeID, actorID string) (dispute.Record, error)
	Reject(ctx context.Context, disputeID, actorID string) (dispute.Record, error)
	Get(ctx context.Context, actorID, actorRole, disputeID string) (dispute.Record, []dispute.Evidence, error)
	List(ctx context.Context, actorID, actorRole string, status dispute.Status) ([]dispute.Record, error)
}

type webhookService interface {
	VerifySignature(body []byte, signature string) error
	HandlePaymentEvent(ctx context.Context, evt webhook.PaymentEvent, rawBody []byte) (webhook.Result, error)
	HandlePayoutEvent(ctx context.Context, evt webhook.PayoutEvent, rawBody []byte) (webhook.Result, error)
}

type payoutService interface {
	ListPayouts(ctx context.Context, status payment.PayoutStatus, limit int) ([]payment.Payout, error)
	ResolvePayout(ctx context.Context, payoutID, actorID string) (payment.Payout, error)
}

// Server routes HTTP requests to the domain services.
type Server struct {
	authService    authService
	escrowService  escrowService
	kycService     kycService
	disputeService disputeService
	webhookService webhookService
	payoutService  payoutService
	logger         *slog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("/api/auth/logout", s.handleLogout)

	mux.HandleFunc("/api/escrow", s.requireAuth(s.handleEscrows))
	mux.HandleFunc("/api/escrow/", s.requireAuth(s.handleEscrowDetail))

	mux.HandleFunc("/api/disputes", s.requireAuth(s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.requireAuth(s.handleDisputeDetail))

	mux.HandleFunc("/api/users/kyc", s.requireAuth(s.handleKyc))
	mux.HandleFunc("/api/users/", s.requireAuth(s.requireAdmin(s.handleKycVerify)))

	mux.HandleFunc("/api/admin/escrows", s.requireAuth(s.requireAdmin(s.handleAdminEscrows)))
	mux.HandleFunc("/api/admin/escrows/", s.requireAuth(s.requireAdmin(s.handleAdminEscrowAction)))
	mux.HandleFunc("/api/admin/disputes", s.requireAuth(s.requireAdmin(s.handleAdminDisputes)))
	mux.HandleFunc("/api/admin/disputes/", s.requireAuth(s.requireAdmin(s.handleAdminDisputeAction)))
	mux.HandleFunc("/api/admin/payouts", s.requireAuth(s.requireAdmin(s.handleAdminPayouts)))
	mux.HandleFunc("/api/admin/payouts/", s.requireAuth(s.requireAdmin(s.handleAdminPayoutAction)))

	mux.HandleFunc("/webhooks/payments", s.handlePaymentWebhook)
	mux.HandleFunc("/webhooks/payouts", s.handlePayoutWebhook)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "registered",
		"user":    toUserResponse(*user),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.setSessionCookie(w, result.Token)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "logged in",
		"token":   result.Token,
		"user":    toUserResponse(result.User),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := requestToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}

	result, err := s.authService.Refresh(r.Context(), token)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.setSessionCookie(w, result.Token)
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "refreshed",
		"token":   result.Token,
		"user":    toUserResponse(result.User),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- escrow ---

func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateEscrow(w, r)
	case http.MethodGet:
		s.handleListEscrows(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BuyerID  string `json:"buyer_id"`
		SellerID string `json:"seller_id"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	rec, err := s.escrowService.Create(r.Context(), escrow.CreateTxParams{
		ActorID:  userID(r),
		BuyerID:  body.BuyerID,
		SellerID: body.SellerID,
		Amount:   amount,
		Currency: body.Currency,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "escrow created",
		"escrow":  toEscrowResponse(rec),
	})
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	status := escrow.Status(r.URL.Query().Get("status"))
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	items, total, err := s.escrowService.ListForUser(r.Context(), userID(r), status, page, pageSize)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": toEscrowResponses(items),
		"total": total,
	})
}

// handleEscrowDetail serves /api/escrow/{id} and /api/escrow/{id}/{action}.
func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/escrow/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	escrowID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.escrowService.Get(r.Context(), userID(r), role(r), escrowID)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"escrow": toEscrowResponse(rec)})
		return
	}

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[1] {
	case "fund":
		s.handleFundEscrow(w, r, escrowID)
	case "ship":
		s.handleShipEscrow(w, r, escrowID)
	case "receipt":
		s.handleUploadReceipt(w, r, escrowID)
	case "confirm":
		s.respondTransition(w, "escrow confirmed")(s.escrowService.Confirm(r.Context(), escrowID, userID(r)))
	case "release":
		s.respondTransition(w, "escrow released")(s.escrowService.Release(r.Context(), escrowID, userID(r), role(r)))
	case "cancel":
		s.respondTransition(w, "escrow cancelled")(s.escrowService.Cancel(r.Context(), escrowID, userID(r)))
	case "dispute":
		s.handleOpenDispute(w, r, escrowID)
	default:
		respondError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request, escrowID string) {
	var body struct {
		Method      string `json:"method"`
		PGReference string `json:"pg_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	s.respondTransition(w, "escrow funded")(s.escrowService.Fund(r.Context(), escrow.FundParams{
		EscrowID:    escrowID,
		ActorID:     userID(r),
		Method:      body.Method,
		PGReference: body.PGReference,
	}))
}

func (s *Server) handleShipEscrow(w http.ResponseWriter, r *http.Request, escrowID string) {
	var body struct {
		ProofURL       *string `json:"proof_url"`
		TrackingNumber *string `json:"tracking_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	s.respondTransition(w, "escrow shipped")(s.escrowService.Ship(r.Context(), escrow.ShipParams{
		EscrowID:       escrowID,
		ActorID:        userID(r),
		ProofURL:       body.ProofURL,
		TrackingNumber: body.TrackingNumber,
	}))
}

func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request, escrowID string) {
	var body struct {
		ProofURL string `json:"proof_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	s.respondTransition(w, "receipt uploaded")(s.escrowService.UploadReceipt(r.Context(), escrowID, userID(r), body.ProofURL))
}

// respondTransition writes the uniform transition response once the service
// call returns.
func (s *Server) respondTransition(w http.ResponseWriter, message string) func(escrow.Transaction, error) {
	return func(rec escrow.Transaction, err error) {
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": message,
			"escrow":  toEscrowResponse(rec),
		})
	}
}

// --- disputes ---

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request, escrowID string) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rec, err := s.disputeService.Open(r.Context(), dispute.OpenParams{
		EscrowID: escrowID,
		ActorID:  userID(r),
		Reason:   body.Reason,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "dispute opened",
		"dispute": toDisputeResponse(rec),
	})
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := dispute.Status(r.URL.Query().Get("status"))
	items, err := s.disputeService.List(r.Context(), userID(r), role(r), status)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": toDisputeResponses(items)})
}

// handleDisputeDetail serves /api/disputes/{id} and /api/disputes/{id}/{action}.
func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/disputes/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	disputeID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, evidence, err := s.disputeService.Get(r.Context(), userID(r), role(r), disputeID)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"dispute":  toDisputeResponse(rec),
			"evidence": toEvidenceResponses(evidence),
		})
		return
	}

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[1] {
	case "evidence":
		s.handleAddEvidence(w, r, disputeID)
	case "resolve":
		s.handleResolveDispute(w, r, disputeID)
	default:
		respondError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleAddEvidence(w http.ResponseWriter, r *http.Request, disputeID string) {
	var body struct {
		FileURL string `json:"file_url"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ev, err := s.disputeService.AddEvidence(r.Context(), dispute.EvidenceParams{
		DisputeID: disputeID,
		ActorID:   userID(r),
		FileURL:   body.FileURL,
		Note:      body.Note,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":  "evidence added",
		"evidence": toEvidenceResponse(ev),
	})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, disputeID string) {
	if role(r) != string(auth.RoleAdmin) {
		respondError(w, http.StatusForbidden, "admin only")
		return
	}

	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rec, err := s.disputeService.Resolve(r.Context(), disputeID, userID(r), dispute.Decision(body.Decision))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "dispute resolved",
		"dispute": toDisputeResponse(rec),
	})
}

// --- kyc ---

func (s *Server) handleKyc(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req kyc.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		sub, err := s.kycService.Submit(r.Context(), userID(r), req)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]any{
			"message":    "kyc submitted",
			"submission": toSubmissionResponse(sub),
		})
	case http.MethodGet:
		items, err := s.kycService.ListForUser(r.Context(), userID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": toSubmissionResponses(items)})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleKycVerify serves POST /api/users/{id}/kyc/verify.
func (s *Server) handleKycVerify(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "kyc" || parts[2] != "verify" {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req kyc.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sub, err := s.kycService.Verify(r.Context(), userID(r), parts[0], req.Status)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    "kyc reviewed",
		"submission": toSubmissionResponse(sub),
	})
}

// --- admin ---

func (s *Server) handleAdminEscrows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := escrow.Status(r.URL.Query().Get("status"))
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	items, total, err := s.escrowService.ListAll(r.Context(), status, page, pageSize)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": toEscrowResponses(items),
		"total": total,
	})
}

// handleAdminEscrowAction serves POST /api/admin/escrows/{id}/{release|complete|refund}.
func (s *Server) handleAdminEscrowAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/escrows/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	escrowID := parts[0]

	switch parts[1] {
	case "release":
		s.respondTransition(w, "escrow released")(s.escrowService.Release(r.Context(), escrowID, userID(r), role(r)))
	case "complete":
		s.respondTransition(w, "escrow completed")(s.escrowService.Complete(r.Context(), escrowID, userID(r)))
	case "refund":
		s.respondTransition(w, "escrow refunded")(s.escrowService.Refund(r.Context(), escrowID, userID(r)))
	default:
		respondError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleAdminDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := dispute.Status(r.URL.Query().Get("status"))
	items, err := s.disputeService.List(r.Context(), userID(r), role(r), status)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": toDisputeResponses(items)})
}

// handleAdminDisputeAction serves POST /api/admin/disputes/{id}/{approve|reject}.
func (s *Server) handleAdminDisputeAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/disputes/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		rec dispute.Record
		err error
	)
	switch parts[1] {
	case "approve":
		rec, err = s.disputeService.Approve(r.Context(), parts[0], userID(r))
	case "reject":
		rec, err = s.disputeService.Reject(r.Context(), parts[0], userID(r))
	default:
		respondError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "dispute " + parts[1] + "d",
		"dispute": toDisputeResponse(rec),
	})
}

func (s *Server) handleAdminPayouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := payment.PayoutStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	items, err := s.payoutService.ListPayouts(r.Context(), status, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": toPayoutResponses(items)})
}

// handleAdminPayoutAction serves POST /api/admin/payouts/{id}/resolve.
func (s *Server) handleAdminPayoutAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/payouts/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "resolve" {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := s.payoutService.ResolvePayout(r.Context(), parts[0], userID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "payout resolved",
		"payout":  toPayoutResponse(rec),
	})
}

// --- webhooks ---

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readSignedWebhook(w, r)
	if !ok {
		return
	}

	var evt webhook.PaymentEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.webhookService.HandlePaymentEvent(r.Context(), evt, body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": result.Message})
}

func (s *Server) handlePayoutWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readSignedWebhook(w, r)
	if !ok {
		return
	}

	var evt webhook.PayoutEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.webhookService.HandlePayoutEvent(r.Context(), evt, body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": result.Message})
}

func (s *Server) readSignedWebhook(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}

	if err := s.webhookService.VerifySignature(body, r.Header.Get("X-Signature")); err != nil {
		respondError(w, http.StatusUnauthorized, "bad signature")
		return nil, false
	}
	return body, true
}

// --- middleware ---

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing token")
			return
		}

		uid, userRole, err := s.authService.VerifyToken(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, uid)
		ctx = context.WithValue(ctx, ctxKeyRole, string(userRole))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if role(r) != string(auth.RoleAdmin) {
			respondError(w, http.StatusForbidden, "admin only")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requestToken returns the bearer token, falling back to the session cookie.
func requestToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func userID(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUserID).(string)
	return v
}

func role(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyRole).(string)
	return v
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// --- error mapping ---

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, payment.ErrPayoutNotFound),
		errors.Is(err, payment.ErrIntentNotFound),
		errors.Is(err, kyc.ErrNoPendingSubmission):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, escrow.ErrForbidden),
		errors.Is(err, dispute.ErrForbidden),
		errors.Is(err, escrow.ErrSellerNotVerified):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, webhook.ErrBadSignature):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, escrow.ErrValidation),
		errors.Is(err, dispute.ErrNotOpen),
		errors.Is(err, dispute.ErrEscrowNotActive),
		errors.Is(err, dispute.ErrValidation),
		errors.Is(err, kyc.ErrValidation),
		errors.Is(err, kyc.ErrAlreadySubmitted),
		errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, webhook.ErrValidation),
		errors.Is(err, webhook.ErrUnknownEvent):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("unhandled service error", "error", err)
		}
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
