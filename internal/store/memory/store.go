/**
 * @description
 * In-memory implementation of store.Repository. A single mutex stands in for
 * the database row locks: each repository call is atomic, and the
 * version-checked writes behave exactly like their SQL counterparts. Used for
 * local runs (STORE_DRIVER=memory) and by the engine tests.
 */
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/filipilijevski/sports-booking-sub001/internal/domain"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

type counterKey struct {
	holder domain.HolderRef
	kind   domain.Kind
}

type markKey struct {
	occurrenceID uuid.UUID
	userID       uuid.UUID
}

// Store keeps all ledger state in process memory.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	plans        map[uuid.UUID][]domain.EntitlementGrant
	memberships  map[uuid.UUID]domain.Membership
	groups       map[uuid.UUID]domain.MembershipGroup
	grantEvents  []domain.GrantEvent
	grantRefs    map[string]struct{}
	credits      []*domain.CreditBalance
	consumptions []domain.ConsumptionRecord
	counters     map[counterKey]*domain.UsageCounter
	templates    map[uuid.UUID]*domain.RecurrenceTemplate
	occurrences  map[uuid.UUID]*domain.Occurrence
	occByKey     map[domain.OccurrenceKey]uuid.UUID
	enrollments  map[uuid.UUID]*domain.Enrollment
	marks        map[markKey]domain.AttendanceMark

	nextCreditID      int64
	nextConsumptionID int64
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		plans:       make(map[uuid.UUID][]domain.EntitlementGrant),
		memberships: make(map[uuid.UUID]domain.Membership),
		groups:      make(map[uuid.UUID]domain.MembershipGroup),
		grantRefs:   make(map[string]struct{}),
		counters:    make(map[counterKey]*domain.UsageCounter),
		templates:   make(map[uuid.UUID]*domain.RecurrenceTemplate),
		occurrences: make(map[uuid.UUID]*domain.Occurrence),
		occByKey:    make(map[domain.OccurrenceKey]uuid.UUID),
		enrollments: make(map[uuid.UUID]*domain.Enrollment),
		marks:       make(map[markKey]domain.AttendanceMark),
	}
}

// SetClock overrides the timestamp source used for created_at values.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddPlan registers a plan and its grants.
func (s *Store) AddPlan(planID uuid.UUID, grants ...domain.EntitlementGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]domain.EntitlementGrant, 0, len(grants))
	for _, g := range grants {
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		g.PlanID = planID
		list = append(list, g)
	}
	s.plans[planID] = list
}

// AddMembership registers an individual membership.
func (s *Store) AddMembership(m domain.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.ID] = m
}

// AddGroup registers a membership group.
func (s *Store) AddGroup(g domain.MembershipGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) FindMembershipByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, store.ErrMembershipNotFound
	}
	return &m, nil
}

func (s *Store) FindGroupByID(ctx context.Context, id uuid.UUID) (*domain.MembershipGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	return &g, nil
}

func (s *Store) EligibleGroupIDs(ctx context.Context, userID uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, m := range s.memberships {
		if m.UserID != userID || m.GroupID == nil || !m.IsCurrent(at) {
			continue
		}
		g, ok := s.groups[*m.GroupID]
		if !ok || !g.IsCurrent(at) {
			continue
		}
		if _, dup := seen[g.ID]; dup {
			continue
		}
		seen[g.ID] = struct{}{}
		ids = append(ids, g.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *Store) ListPlanGrants(ctx context.Context, planID uuid.UUID) ([]domain.EntitlementGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	out := make([]domain.EntitlementGrant, len(grants))
	copy(out, grants)
	return out, nil
}

func (s *Store) RecordGrantEvent(ctx context.Context, event *domain.GrantEvent, deposits []domain.DepositRequest) ([]domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.grantRefs[event.SourceRef]; dup {
		return nil, store.ErrDuplicateGrant
	}
	event.CreatedAt = s.now()
	s.grantRefs[event.SourceRef] = struct{}{}
	s.grantEvents = append(s.grantEvents, *event)

	balances := make([]domain.CreditBalance, 0, len(deposits))
	for _, dep := range deposits {
		balances = append(balances, *s.insertCreditLocked(dep))
	}
	return balances, nil
}

func (s *Store) GrantedTotal(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, ev := range s.grantEvents {
		if ev.Holder != holder {
			continue
		}
		for _, g := range s.plans[ev.PlanID] {
			if g.Kind == kind {
				total = total.Add(g.Amount)
			}
		}
	}
	return total, nil
}

func (s *Store) insertCreditLocked(req domain.DepositRequest) *domain.CreditBalance {
	s.nextCreditID++
	balance := &domain.CreditBalance{
		ID:             s.nextCreditID,
		OwnerUserID:    req.OwnerUserID,
		GroupID:        req.GroupID,
		SourcePlanID:   req.SourcePlanID,
		HoursRemaining: req.Hours,
		CreatedAt:      s.now(),
	}
	s.credits = append(s.credits, balance)
	copied := *balance
	return &copied
}

func (s *Store) CreateCreditBalance(ctx context.Context, req domain.DepositRequest) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCreditLocked(req), nil
}

func (s *Store) SumCreditBalance(ctx context.Context, userID uuid.UUID, groupIDs []uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, c := range s.credits {
		if c.HoursRemaining.IsPositive() && domain.CreditBelongsTo(*c, userID, groupIDs) {
			total = total.Add(c.HoursRemaining)
		}
	}
	return total, nil
}

func (s *Store) WithdrawCredits(ctx context.Context, req domain.WithdrawalRequest) (*domain.WithdrawalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byID := make(map[int64]*domain.CreditBalance)
	var candidates []domain.CreditBalance
	for _, c := range s.credits {
		if c.HoursRemaining.IsPositive() && domain.CreditBelongsTo(*c, req.UserID, req.GroupIDs) {
			byID[c.ID] = c
			candidates = append(candidates, *c)
		}
	}

	slices, total, err := domain.PlanWithdrawal(candidates, req.Amount)
	if err != nil {
		return nil, err
	}

	result := &domain.WithdrawalResult{
		Consumed:         req.Amount,
		RemainingBalance: total.Sub(req.Amount),
		Records:          make([]domain.ConsumptionRecord, 0, len(slices)),
	}
	for _, slice := range slices {
		row := byID[slice.CreditID]
		row.HoursRemaining = row.HoursRemaining.Sub(slice.Hours)

		s.nextConsumptionID++
		record := domain.ConsumptionRecord{
			ID:            s.nextConsumptionID,
			UserID:        req.UserID,
			ActingAdminID: req.ActingAdminID,
			CreditID:      slice.CreditID,
			GroupID:       slice.GroupID,
			Hours:         slice.Hours,
			CreatedAt:     s.now(),
		}
		s.consumptions = append(s.consumptions, record)
		result.Records = append(result.Records, record)
	}
	return result, nil
}

func (s *Store) ListConsumptionRecords(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ConsumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.ConsumptionRecord
	for i := len(s.consumptions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.consumptions[i].UserID == userID {
			out = append(out, s.consumptions[i])
		}
	}
	return out, nil
}

func (s *Store) EnsureCounter(ctx context.Context, holder domain.HolderRef, kind domain.Kind) (*domain.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{holder: holder, kind: kind}
	c, ok := s.counters[key]
	if !ok {
		c = &domain.UsageCounter{
			ID:             uuid.New(),
			Holder:         holder,
			Kind:           kind,
			AmountConsumed: decimal.Zero,
			UpdatedAt:      s.now(),
		}
		s.counters[key] = c
	}
	copied := *c
	return &copied, nil
}

func (s *Store) UpdateCounterIfVersion(ctx context.Context, counterID uuid.UUID, expectedVersion int64, consumed decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.counters {
		if c.ID != counterID {
			continue
		}
		if c.Version != expectedVersion {
			return false, nil
		}
		c.AmountConsumed = consumed
		c.Version++
		c.UpdatedAt = s.now()
		return true, nil
	}
	return false, nil
}

func (s *Store) CreateTemplate(ctx context.Context, tmpl *domain.RecurrenceTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl.CreatedAt = s.now()
	copied := *tmpl
	s.templates[tmpl.ID] = &copied
	return nil
}

func (s *Store) UpdateTemplateCoach(ctx context.Context, templateID uuid.UUID, coachID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[templateID]
	if !ok {
		return store.ErrTemplateNotFound
	}
	tmpl.CoachID = coachID
	return nil
}

func (s *Store) ListActiveTemplates(ctx context.Context) ([]domain.RecurrenceTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RecurrenceTemplate
	for _, tmpl := range s.templates {
		if tmpl.Active {
			out = append(out, *tmpl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListOccurrenceKeys(ctx context.Context, from, to time.Time) (map[domain.OccurrenceKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[domain.OccurrenceKey]struct{})
	for _, occ := range s.occurrences {
		if !occ.StartsAt.Before(from) && occ.StartsAt.Before(to) {
			keys[occ.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (s *Store) InsertOccurrences(ctx context.Context, occurrences []domain.Occurrence) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, occ := range occurrences {
		key := occ.Key()
		if _, exists := s.occByKey[key]; exists {
			continue
		}
		occ.CreatedAt = s.now()
		copied := occ
		s.occurrences[occ.ID] = &copied
		s.occByKey[key] = occ.ID
		inserted++
	}
	return inserted, nil
}

func (s *Store) FindOccurrenceByID(ctx context.Context, id uuid.UUID) (*domain.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.occurrences[id]
	if !ok {
		return nil, store.ErrOccurrenceNotFound
	}
	copied := *occ
	return &copied, nil
}

func (s *Store) CancelOccurrence(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	occ, ok := s.occurrences[id]
	if !ok {
		return store.ErrOccurrenceNotFound
	}
	occ.Cancelled = true
	return nil
}

func (s *Store) CreateEnrollment(ctx context.Context, enrollment *domain.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.PackagePurchaseRef == enrollment.PackagePurchaseRef {
			return store.ErrDuplicateEnroll
		}
	}
	enrollment.Version = 0
	enrollment.CreatedAt = s.now()
	copied := *enrollment
	s.enrollments[enrollment.ID] = &copied
	return nil
}

func (s *Store) FindEnrollmentByPurchaseRef(ctx context.Context, ref string) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.PackagePurchaseRef == ref {
			copied := *e
			return &copied, nil
		}
	}
	return nil, store.ErrEnrollmentNotFound
}

func (s *Store) FindEligibleEnrollment(ctx context.Context, userID, programID uuid.UUID) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Enrollment
	for _, e := range s.enrollments {
		if e.UserID != userID || e.ProgramID != programID || !e.Eligible() {
			continue
		}
		if best == nil || e.CreatedAt.Before(best.CreatedAt) ||
			(e.CreatedAt.Equal(best.CreatedAt) && e.ID.String() < best.ID.String()) {
			best = e
		}
	}
	if best == nil {
		return nil, store.ErrEnrollmentNotFound
	}
	copied := *best
	return &copied, nil
}

func (s *Store) FindAttendanceMark(ctx context.Context, occurrenceID, userID uuid.UUID) (*domain.AttendanceMark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.marks[markKey{occurrenceID: occurrenceID, userID: userID}]
	if !ok {
		return nil, store.ErrMarkNotFound
	}
	return &m, nil
}

func (s *Store) RecordAttendance(ctx context.Context, mark *domain.AttendanceMark, expectedVersion int64) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[mark.EnrollmentID]
	if !ok || e.Version != expectedVersion || !e.Eligible() {
		return nil, store.ErrVersionConflict
	}
	key := markKey{occurrenceID: mark.OccurrenceID, userID: mark.UserID}
	if _, exists := s.marks[key]; exists {
		return nil, domain.ErrAlreadyMarked
	}

	e.SessionsRemaining, e.Status = e.AfterSession()
	e.Version++
	mark.CreatedAt = s.now()
	s.marks[key] = *mark

	copied := *e
	return &copied, nil
}

// Snapshot helpers used by tests and the local driver.

// Credits returns copies of every balance row in insertion order.
func (s *Store) Credits() []domain.CreditBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CreditBalance, 0, len(s.credits))
	for _, c := range s.credits {
		out = append(out, *c)
	}
	return out
}

// Occurrences returns copies of every occurrence ordered by start time.
func (s *Store) Occurrences() []domain.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Occurrence, 0, len(s.occurrences))
	for _, occ := range s.occurrences {
		out = append(out, *occ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

// Enrollment returns a copy of the enrollment with id.
func (s *Store) Enrollment(id uuid.UUID) (domain.Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return domain.Enrollment{}, false
	}
	return *e, true
}
