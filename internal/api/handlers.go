/**
 * @description
 * HTTP handlers for the staff API. Each handler decodes the request, calls the
 * application service, and maps business rejections onto status codes.
 * Quantities are always rendered with two fractional digits.
 *
 * @dependencies
 * - internal/app: The ledger service.
 * - github.com/shopspring/decimal: Quantities in request and response bodies.
 */
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/app"
	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/report"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

// Handlers holds the application service that handlers interact with.
type Handlers struct {
	service        *app.Service
	logger         *slog.Logger
	defaultHorizon int
}

// NewHandlers creates the handler set. defaultHorizon is used when a
// materialize request omits horizon_days.
func NewHandlers(service *app.Service, logger *slog.Logger, defaultHorizon int) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger, defaultHorizon: defaultHorizon}
}

type depositRequest struct {
	UserID       uuid.UUID       `json:"user_id"`
	GroupID      *uuid.UUID      `json:"group_id,omitempty"`
	SourcePlanID *uuid.UUID      `json:"source_plan_id,omitempty"`
	Hours        decimal.Decimal `json:"hours"`
}

type withdrawRequest struct {
	UserID uuid.UUID       `json:"user_id"`
	Hours  decimal.Decimal `json:"hours"`
}

type grantRequest struct {
	HolderType  string     `json:"holder_type"`
	HolderID    string     `json:"holder_id"`
	PlanID      uuid.UUID  `json:"plan_id"`
	PurchaserID *uuid.UUID `json:"purchaser_id,omitempty"`
	SourceRef   string     `json:"source_ref"`
}

type consumeRequest struct {
	HolderType string          `json:"holder_type"`
	HolderID   string          `json:"holder_id"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
}

type materializeRequest struct {
	HorizonDays int `json:"horizon_days"`
}

type templateRequest struct {
	ProgramID uuid.UUID        `json:"program_id"`
	Weekday   int              `json:"weekday"`
	StartTime domain.TimeOfDay `json:"start_time"`
	EndTime   domain.TimeOfDay `json:"end_time"`
	CoachID   *uuid.UUID       `json:"coach_id,omitempty"`
}

type reassignCoachRequest struct {
	CoachID *uuid.UUID `json:"coach_id"`
}

type occurrenceRequest struct {
	ProgramID uuid.UUID  `json:"program_id"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    time.Time  `json:"ends_at"`
	CoachID   *uuid.UUID `json:"coach_id,omitempty"`
}

type attendanceRequest struct {
	OccurrenceID  uuid.UUID `json:"occurrence_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

type enrollRequest struct {
	UserID             uuid.UUID `json:"user_id"`
	ProgramID          uuid.UUID `json:"program_id"`
	PackagePurchaseRef string    `json:"package_purchase_ref"`
	Sessions           int       `json:"sessions"`
}

type creditBalanceResponse struct {
	ID             int64      `json:"id"`
	OwnerUserID    uuid.UUID  `json:"owner_user_id"`
	GroupID        *uuid.UUID `json:"group_id,omitempty"`
	SourcePlanID   *uuid.UUID `json:"source_plan_id,omitempty"`
	HoursRemaining string     `json:"hours_remaining"`
	CreatedAt      time.Time  `json:"created_at"`
}

type consumptionResponse struct {
	ID            int64      `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	ActingAdminID uuid.UUID  `json:"acting_admin_id"`
	CreditID      int64      `json:"credit_id"`
	GroupID       *uuid.UUID `json:"group_id,omitempty"`
	Hours         string     `json:"hours"`
	CreatedAt     time.Time  `json:"created_at"`
}

type withdrawalResponse struct {
	Consumed         string                `json:"consumed"`
	RemainingBalance string                `json:"remaining_balance"`
	Records          []consumptionResponse `json:"records"`
}

type balanceResponse struct {
	UserID           uuid.UUID   `json:"user_id"`
	Balance          string      `json:"balance"`
	EligibleGroupIDs []uuid.UUID `json:"eligible_group_ids"`
}

type usageResponse struct {
	HolderType string    `json:"holder_type"`
	HolderID   uuid.UUID `json:"holder_id"`
	Kind       string    `json:"kind"`
	Granted    string    `json:"granted"`
	Consumed   string    `json:"consumed"`
	Remaining  string    `json:"remaining"`
}

type grantResponse struct {
	GrantEventID   *uuid.UUID              `json:"grant_event_id,omitempty"`
	AlreadyGranted bool                    `json:"already_granted"`
	Deposits       []creditBalanceResponse `json:"deposits"`
}

func toCreditBalanceResponse(c domain.CreditBalance) creditBalanceResponse {
	return creditBalanceResponse{
		ID:             c.ID,
		OwnerUserID:    c.OwnerUserID,
		GroupID:        c.GroupID,
		SourcePlanID:   c.SourcePlanID,
		HoursRemaining: domain.FormatQuantity(c.HoursRemaining),
		CreatedAt:      c.CreatedAt,
	}
}

func toConsumptionResponses(records []domain.ConsumptionRecord) []consumptionResponse {
	out := make([]consumptionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, consumptionResponse{
			ID:            rec.ID,
			UserID:        rec.UserID,
			ActingAdminID: rec.ActingAdminID,
			CreditID:      rec.CreditID,
			GroupID:       rec.GroupID,
			Hours:         domain.FormatQuantity(rec.Hours),
			CreatedAt:     rec.CreatedAt,
		})
	}
	return out
}

func toUsageResponse(u *domain.EntitlementUsage) usageResponse {
	return usageResponse{
		HolderType: string(u.Holder.Type),
		HolderID:   u.Holder.ID,
		Kind:       string(u.Kind),
		Granted:    domain.FormatQuantity(u.Granted),
		Consumed:   domain.FormatQuantity(u.Consumed),
		Remaining:  domain.FormatQuantity(u.Remaining),
	}
}

// HealthHandler reports whether the backing store is reachable.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// DepositHandler adds hours to a user's or group's balance.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.service.Deposit(r.Context(), domain.DepositRequest{
		OwnerUserID:  req.UserID,
		GroupID:      req.GroupID,
		SourcePlanID: req.SourcePlanID,
		Hours:        req.Hours,
	})
	if err != nil {
		h.handleServiceError(w, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toCreditBalanceResponse(*balance))
}

// WithdrawHandler consumes hours on behalf of the acting admin.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetActingAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req withdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.WithdrawHours(r.Context(), req.UserID, req.Hours, adminID)
	if err != nil {
		h.handleServiceError(w, "withdraw", err)
		return
	}
	h.writeJSON(w, http.StatusOK, withdrawalResponse{
		Consumed:         domain.FormatQuantity(result.Consumed),
		RemainingBalance: domain.FormatQuantity(result.RemainingBalance),
		Records:          toConsumptionResponses(result.Records),
	})
}

// BalanceHandler returns the balance a user can draw on.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.uuidParam(w, r, "userID")
	if !ok {
		return
	}

	view, err := h.service.BalanceOf(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{
		UserID:           view.UserID,
		Balance:          domain.FormatQuantity(view.Balance),
		EligibleGroupIDs: view.EligibleGroupIDs,
	})
}

// ConsumptionHistoryHandler lists a user's newest consumption records.
func (h *Handlers) ConsumptionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.uuidParam(w, r, "userID")
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.service.ConsumptionHistory(r.Context(), userID, limit)
	if err != nil {
		h.handleServiceError(w, "consumption_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toConsumptionResponses(records))
}

// ExportConsumptionsHandler streams a user's consumption history as a workbook.
func (h *Handlers) ExportConsumptionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.uuidParam(w, r, "userID")
	if !ok {
		return
	}

	records, err := h.service.ConsumptionHistory(r.Context(), userID, 500)
	if err != nil {
		h.handleServiceError(w, "export_consumptions", err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteConsumptions(&buf, records, h.service.Location()); err != nil {
		h.handleServiceError(w, "export_consumptions", err)
		return
	}
	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=consumptions-%s.xlsx", userID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GrantHandler applies a purchased plan to a holder.
func (h *Handlers) GrantHandler(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	holder, err := domain.ParseHolderRef(req.HolderType, req.HolderID)
	if err != nil {
		h.handleServiceError(w, "grant", err)
		return
	}

	result, err := h.service.GrantEntitlements(r.Context(), app.GrantRequest{
		Holder:      holder,
		PlanID:      req.PlanID,
		PurchaserID: req.PurchaserID,
		SourceRef:   req.SourceRef,
	})
	if err != nil {
		h.handleServiceError(w, "grant", err)
		return
	}

	resp := grantResponse{AlreadyGranted: result.AlreadyGranted, Deposits: make([]creditBalanceResponse, 0, len(result.Deposits))}
	if result.Event != nil {
		resp.GrantEventID = &result.Event.ID
	}
	for _, dep := range result.Deposits {
		resp.Deposits = append(resp.Deposits, toCreditBalanceResponse(dep))
	}
	status := http.StatusCreated
	if result.AlreadyGranted {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// ConsumeHandler consumes a counter-tracked entitlement.
func (h *Handlers) ConsumeHandler(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	holder, err := domain.ParseHolderRef(req.HolderType, req.HolderID)
	if err != nil {
		h.handleServiceError(w, "consume", err)
		return
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		h.handleServiceError(w, "consume", err)
		return
	}

	usage, err := h.service.ConsumeEntitlement(r.Context(), holder, kind, req.Amount)
	if err != nil {
		h.handleServiceError(w, "consume", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUsageResponse(usage))
}

// RemainingHandler returns granted, consumed and remaining for a holder.
func (h *Handlers) RemainingHandler(w http.ResponseWriter, r *http.Request) {
	holder, err := domain.ParseHolderRef(chi.URLParam(r, "holderType"), chi.URLParam(r, "holderID"))
	if err != nil {
		h.handleServiceError(w, "remaining", err)
		return
	}
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.handleServiceError(w, "remaining", err)
		return
	}

	usage, err := h.service.RemainingEntitlement(r.Context(), holder, kind)
	if err != nil {
		h.handleServiceError(w, "remaining", err)
		return
	}
	h.writeJSON(w, http.StatusOK, toUsageResponse(usage))
}

// MaterializeHandler runs a materialisation pass on demand.
func (h *Handlers) MaterializeHandler(w http.ResponseWriter, r *http.Request) {
	req := materializeRequest{}
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = h.defaultHorizon
	}

	created, err := h.service.MaterializeWindow(r.Context(), req.HorizonDays)
	if err != nil {
		h.handleServiceError(w, "materialize", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"created": created, "horizon_days": req.HorizonDays})
}

// CreateTemplateHandler registers a weekly recurrence template.
func (h *Handlers) CreateTemplateHandler(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !h.decode(w, r, &req) {
		return
	}

	tmpl, err := h.service.CreateTemplate(r.Context(), app.TemplateRequest{
		ProgramID: req.ProgramID,
		Weekday:   time.Weekday(req.Weekday),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		CoachID:   req.CoachID,
	})
	if err != nil {
		h.handleServiceError(w, "create_template", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tmpl)
}

// ReassignCoachHandler changes the coach for future occurrences of a template.
func (h *Handlers) ReassignCoachHandler(w http.ResponseWriter, r *http.Request) {
	templateID, ok := h.uuidParam(w, r, "templateID")
	if !ok {
		return
	}
	var req reassignCoachRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ReassignTemplateCoach(r.Context(), templateID, req.CoachID); err != nil {
		h.handleServiceError(w, "reassign_coach", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScheduleOccurrenceHandler creates a one-off occurrence.
func (h *Handlers) ScheduleOccurrenceHandler(w http.ResponseWriter, r *http.Request) {
	var req occurrenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	occ, err := h.service.ScheduleOccurrence(r.Context(), app.OccurrenceRequest{
		ProgramID: req.ProgramID,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		CoachID:   req.CoachID,
	})
	if err != nil {
		h.handleServiceError(w, "schedule_occurrence", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, occ)
}

// CancelOccurrenceHandler soft-cancels an occurrence.
func (h *Handlers) CancelOccurrenceHandler(w http.ResponseWriter, r *http.Request) {
	occurrenceID, ok := h.uuidParam(w, r, "occurrenceID")
	if !ok {
		return
	}
	if err := h.service.CancelOccurrence(r.Context(), occurrenceID); err != nil {
		h.handleServiceError(w, "cancel_occurrence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAttendanceHandler marks a participant present and consumes a session.
func (h *Handlers) MarkAttendanceHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetActingAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req attendanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.MarkAttendance(r.Context(), req.OccurrenceID, req.ParticipantID, adminID)
	if err != nil {
		h.handleServiceError(w, "mark_attendance", err)
		return
	}
	status := http.StatusCreated
	if result.Outcome == domain.AttendanceAlreadyMarked {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// EnrollHandler creates an enrollment for a program package purchase.
func (h *Handlers) EnrollHandler(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	enrollment, created, err := h.service.Enroll(r.Context(), app.EnrollRequest{
		UserID:             req.UserID,
		ProgramID:          req.ProgramID,
		PackagePurchaseRef: req.PackagePurchaseRef,
		Sessions:           req.Sessions,
	})
	if err != nil {
		h.handleServiceError(w, "enroll", err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	h.writeJSON(w, status, enrollment)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrConcurrentUpdateConflict),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, store.ErrOccurrenceExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoEligibleEnrollment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrMembershipNotFound),
		errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrPlanNotFound),
		errors.Is(err, store.ErrTemplateNotFound),
		errors.Is(err, store.ErrOccurrenceNotFound),
		errors.Is(err, store.ErrEnrollmentNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "component", "api", "endpoint", endpoint, "error", err)
		h.writeError(w, status, "Internal server error")
		return
	}
	h.logger.Warn("request rejected", "component", "api", "endpoint", endpoint, "status", status, "error", err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeError(w, status, err.Error())
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
