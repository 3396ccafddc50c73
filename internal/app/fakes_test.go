package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/chainclient"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

type memberKey struct {
	org  uuid.UUID
	user uuid.UUID
}

type idempotencyRow struct {
	hash      string
	completed bool
	response  []byte
}

// memRepo is an in-memory store.Repository. Runs are unique per
// (stream, remote execution) just like the database constraint.
type memRepo struct {
	mu sync.Mutex

	roles      map[memberKey]domain.MemberRole
	treasuries map[uuid.UUID]string
	employees  map[uuid.UUID]*domain.EmployeeProfile
	wallets    map[uuid.UUID]string
	subjects   map[string]uuid.UUID
	streams    map[uuid.UUID]*domain.PayrollStream
	runs       map[uuid.UUID][]domain.StreamRun
	ledger     map[uuid.UUID]*domain.ProviderLedger
	keys       map[domain.IdempotencyScope]*idempotencyRow

	createStreamErr    error
	updateStatusErr    error
	recordSignatureErr error
	acquireKeyErr      error
	updateStatusCalls  int
	remoteStateWrites int
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:      map[memberKey]domain.MemberRole{},
		treasuries: map[uuid.UUID]string{},
		employees:  map[uuid.UUID]*domain.EmployeeProfile{},
		wallets:    map[uuid.UUID]string{},
		subjects:   map[string]uuid.UUID{},
		streams:    map[uuid.UUID]*domain.PayrollStream{},
		runs:       map[uuid.UUID][]domain.StreamRun{},
		ledger:     map[uuid.UUID]*domain.ProviderLedger{},
		keys:       map[domain.IdempotencyScope]*idempotencyRow{},
	}
}

func (r *memRepo) FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.subjects[subject]
	if !ok {
		return uuid.Nil, store.ErrUserNotFound
	}
	return id, nil
}

func (r *memRepo) FindMemberRole(ctx context.Context, organizationID, userID uuid.UUID) (domain.MemberRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[memberKey{organizationID, userID}]
	if !ok {
		return "", store.ErrMemberNotFound
	}
	return role, nil
}

func (r *memRepo) FindOrganizationTreasury(ctx context.Context, organizationID uuid.UUID) (*domain.OrganizationTreasury, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.treasuries[organizationID]
	if !ok {
		return nil, store.ErrOrganizationNotFound
	}
	return &domain.OrganizationTreasury{OrganizationID: organizationID, TreasuryAddress: addr}, nil
}

func (r *memRepo) FindEmployeeProfile(ctx context.Context, organizationID, employeeID uuid.UUID) (*domain.EmployeeProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.employees[employeeID]
	if !ok || profile.OrganizationID != organizationID {
		return nil, store.ErrEmployeeNotFound
	}
	copied := *profile
	return &copied, nil
}

func (r *memRepo) FindUserWalletAddress(ctx context.Context, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wallet, ok := r.wallets[userID]
	if !ok {
		return "", store.ErrUserNotFound
	}
	return wallet, nil
}

func (r *memRepo) CreateStream(ctx context.Context, stream *domain.PayrollStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createStreamErr != nil {
		return r.createStreamErr
	}
	stream.CreatedAt = time.Now().UTC()
	stream.UpdatedAt = stream.CreatedAt
	copied := *stream
	r.streams[stream.ID] = &copied
	return nil
}

func (r *memRepo) FindStreamByID(ctx context.Context, streamID uuid.UUID) (*domain.PayrollStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[streamID]
	if !ok {
		return nil, store.ErrStreamNotFound
	}
	copied := *stream
	return &copied, nil
}

func (r *memRepo) ListStreamsByOrganization(ctx context.Context, organizationID uuid.UUID) ([]domain.PayrollStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PayrollStream, 0)
	for _, s := range r.streams {
		if s.OrganizationID == organizationID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveTrackableStreams(ctx context.Context) ([]domain.PayrollStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PayrollStream, 0)
	for _, s := range r.streams {
		if s.Status == domain.StreamStatusActive && s.Trackable() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *memRepo) UpdateStreamStatus(ctx context.Context, streamID uuid.UUID, from, to domain.StreamStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateStatusCalls++
	if r.updateStatusErr != nil {
		return false, r.updateStatusErr
	}
	stream, ok := r.streams[streamID]
	if !ok || stream.Status != from {
		return false, nil
	}
	stream.Status = to
	stream.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memRepo) UpdateStreamRemoteState(ctx context.Context, streamID uuid.UUID, state store.RemoteStateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream, ok := r.streams[streamID]
	if !ok {
		return store.ErrStreamNotFound
	}
	r.remoteStateWrites++
	status := state.RemoteStatus
	stream.RemoteStatus = &status
	stream.NextExecutionAt = state.NextExecutionAt
	if state.LastExecutionAt != nil {
		stream.LastExecutionAt = state.LastExecutionAt
	}
	stream.RemainingAmount = state.RemainingAmount
	synced := state.SyncedAt
	stream.RemoteSyncedAt = &synced
	return nil
}

func (r *memRepo) InsertStreamRunIfAbsent(ctx context.Context, run *domain.StreamRun) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.runs[run.StreamID] {
		if existing.RemoteExecutionID == run.RemoteExecutionID {
			return false, nil
		}
	}
	run.CreatedAt = time.Now().UTC()
	r.runs[run.StreamID] = append(r.runs[run.StreamID], *run)
	return true, nil
}

func (r *memRepo) ListStreamRuns(ctx context.Context, streamID uuid.UUID) ([]domain.StreamRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamRun(nil), r.runs[streamID]...), nil
}

func (r *memRepo) CreateLedgerEntry(ctx context.Context, entry *domain.ProviderLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := entry.Metadata.Validate(); err != nil {
		return err
	}
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt
	copied := *entry
	r.ledger[entry.ID] = &copied
	return nil
}

func (r *memRepo) FindLedgerEntryByID(ctx context.Context, ledgerID uuid.UUID) (*domain.ProviderLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.ledger[ledgerID]
	if !ok {
		return nil, store.ErrLedgerNotFound
	}
	copied := *entry
	return &copied, nil
}

func (r *memRepo) ListLedgerEntriesByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.ProviderLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProviderLedger, 0)
	for _, entry := range r.ledger {
		if entry.OwnerID == ownerID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (r *memRepo) RecordLedgerSignature(ctx context.Context, ledgerID uuid.UUID, signature string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordSignatureErr != nil {
		return false, r.recordSignatureErr
	}
	entry, ok := r.ledger[ledgerID]
	if !ok || entry.Status != domain.LedgerStatusPending || entry.TransactionSignature != nil {
		return false, nil
	}
	sig := signature
	entry.TransactionSignature = &sig
	return true, nil
}

func (r *memRepo) SettleLedgerEntry(ctx context.Context, ledgerID uuid.UUID, params store.SettleLedgerParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.ledger[ledgerID]
	if !ok || entry.Status != domain.LedgerStatusPending {
		return false, nil
	}
	entry.Status = params.Status
	if params.Signature != nil {
		entry.TransactionSignature = params.Signature
	}
	entry.ErrorDetail = params.ErrorDetail
	entry.ConfirmedAt = params.ConfirmedAt
	return true, nil
}

func (r *memRepo) AcquireIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope, requestHash string, ttl, staleWindow time.Duration) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquireKeyErr != nil {
		return nil, false, r.acquireKeyErr
	}
	row, ok := r.keys[scope]
	if !ok {
		r.keys[scope] = &idempotencyRow{hash: requestHash}
		return nil, true, nil
	}
	if row.hash != requestHash {
		return nil, false, store.ErrIdempotencyKeyConflict
	}
	if !row.completed {
		return nil, false, store.ErrIdempotencyKeyInProgress
	}
	return row.response, false, nil
}

func (r *memRepo) CompleteIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope, response []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.keys[scope]
	if !ok {
		return store.ErrIdempotencyKeyInProgress
	}
	row.completed = true
	row.response = append([]byte(nil), response...)
	return nil
}

func (r *memRepo) ReleaseIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.keys[scope]; ok && !row.completed {
		delete(r.keys, scope)
	}
	return nil
}

func (r *memRepo) streamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *memRepo) runCount(streamID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs[streamID])
}

func (r *memRepo) ledgerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledger)
}

// gatewayStub is a scriptable Gateway. Error slices are consumed one per call.
type gatewayStub struct {
	mu sync.Mutex

	createErrs   []error
	createCalls  int
	createKeys   []string
	lastCreate   gridclient.CreateStandingOrderRequest
	nextOrderID  string
	orders       map[string]*gridclient.StandingOrder
	getErrs      map[string]error
	getCalls     int
	updateErrs   []error
	updateStatus []string
	// When set, a failing update still changes the remote status (a lost response).
	updateAppliesOnError bool
	cancelErr            error
	cancelCalls          int

	balance   *gridclient.Balance
	transfers []gridclient.Transfer

	prepareErrs  []error
	prepareCalls int
	signResult   *gridclient.SignAndSendResult
	signErr      error
	signCalls    int
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{orders: map[string]*gridclient.StandingOrder{}, getErrs: map[string]error{}}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (g *gatewayStub) CreateStandingOrder(ctx context.Context, treasuryAddress string, req gridclient.CreateStandingOrderRequest, idempotencyKey string) (*gridclient.StandingOrderCreated, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.createKeys = append(g.createKeys, idempotencyKey)
	g.lastCreate = req
	if err := popErr(&g.createErrs); err != nil {
		return nil, err
	}
	id := g.nextOrderID
	if id == "" {
		id = "so_" + uuid.NewString()
	}
	g.orders[id] = &gridclient.StandingOrder{ID: id, Status: gridclient.StandingOrderActive}
	return &gridclient.StandingOrderCreated{ID: id, Status: gridclient.StandingOrderActive}, nil
}

func (g *gatewayStub) GetStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) (*gridclient.StandingOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if err := g.getErrs[standingOrderID]; err != nil {
		return nil, err
	}
	order, ok := g.orders[standingOrderID]
	if !ok {
		return nil, &gridclient.ErrorResponse{StatusCode: http.StatusNotFound, Code: "not_found"}
	}
	copied := *order
	copied.Executions = append([]gridclient.Execution(nil), order.Executions...)
	return &copied, nil
}

func (g *gatewayStub) UpdateStandingOrderStatus(ctx context.Context, treasuryAddress, standingOrderID, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateStatus = append(g.updateStatus, status)
	err := popErr(&g.updateErrs)
	if err == nil || g.updateAppliesOnError {
		if order, ok := g.orders[standingOrderID]; ok {
			order.Status = status
		}
	}
	return err
}

func (g *gatewayStub) CancelStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if g.cancelErr != nil {
		return g.cancelErr
	}
	if order, ok := g.orders[standingOrderID]; ok {
		order.Status = gridclient.StandingOrderCancelled
	}
	return nil
}

func (g *gatewayStub) GetTransfers(ctx context.Context, accountAddress string, limit int) ([]gridclient.Transfer, error) {
	return g.transfers, nil
}

func (g *gatewayStub) GetAccountBalance(ctx context.Context, accountAddress string) (*gridclient.Balance, error) {
	if g.balance == nil {
		return nil, &gridclient.ErrorResponse{StatusCode: http.StatusServiceUnavailable}
	}
	return g.balance, nil
}

func (g *gatewayStub) PrepareStakeTransaction(ctx context.Context, accountAddress string, req gridclient.PrepareStakeRequest) (*gridclient.PreparedTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prepareCalls++
	if err := popErr(&g.prepareErrs); err != nil {
		return nil, err
	}
	return &gridclient.PreparedTransaction{TransactionPayload: "unsigned-" + req.Operation}, nil
}

func (g *gatewayStub) SignAndSend(ctx context.Context, req gridclient.SignAndSendRequest) (*gridclient.SignAndSendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signCalls++
	if g.signErr != nil {
		return nil, g.signErr
	}
	return g.signResult, nil
}

func (g *gatewayStub) setExecutions(standingOrderID string, executions ...gridclient.Execution) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[standingOrderID].Executions = executions
}

func (g *gatewayStub) remoteStatus(standingOrderID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders[standingOrderID].Status
}

type publisherStub struct {
	mu     sync.Mutex
	err    error
	events []domain.NotificationEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := body.(domain.NotificationEvent); ok {
		p.events = append(p.events, event)
	}
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) count(template string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.TemplateType == template {
			n++
		}
	}
	return n
}

type verifierStub struct {
	mu       sync.Mutex
	statuses []chainclient.SignatureState
	err      error
	calls    int
}

func (v *verifierStub) SignatureStatus(ctx context.Context, signature string) (*chainclient.SignatureStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	state := chainclient.SignaturePending
	if len(v.statuses) > 0 {
		state = v.statuses[0]
		v.statuses = v.statuses[1:]
	}
	status := &chainclient.SignatureStatus{State: state}
	if state == chainclient.SignatureFailed {
		status.Detail = "InstructionError"
	}
	return status, nil
}

type limiterStub struct {
	count  int
	scope  string
	window time.Duration
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	l.scope = scope
	l.window = window
	return l.count, 30, nil
}

type fixture struct {
	repo      *memRepo
	gateway   *gatewayStub
	publisher *publisherStub
	verifier  *verifierStub
	svc       *Service

	orgID    uuid.UUID
	ownerID  uuid.UUID
	memberID uuid.UUID
}

const testTreasury = "TreasuryAddress1111111111111111111111111111"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemRepo(),
		gateway:   newGatewayStub(),
		publisher: &publisherStub{},
		verifier:  &verifierStub{},
		orgID:     uuid.New(),
		ownerID:   uuid.New(),
		memberID:  uuid.New(),
	}
	f.repo.treasuries[f.orgID] = testTreasury
	f.repo.roles[memberKey{f.orgID, f.ownerID}] = domain.MemberRoleOwner
	f.repo.roles[memberKey{f.orgID, f.memberID}] = domain.MemberRoleMember
	f.repo.wallets[f.ownerID] = "OwnerWallet111111111111111111111111111111111"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.gateway, f.verifier, f.publisher, logger, Options{
		GatewayMaxAttempts: 3,
		ConfirmAttempts:    3,
		SyncConcurrency:    4,
	})
	return f
}

// seedStream stores an active stream backed by a remote standing order.
func (f *fixture) seedStream(status domain.StreamStatus) *domain.PayrollStream {
	orderID := "so_" + uuid.NewString()
	f.gateway.orders[orderID] = &gridclient.StandingOrder{ID: orderID, Status: gridclient.StandingOrderActive}
	stream := &domain.PayrollStream{
		ID:              uuid.New(),
		OrganizationID:  f.orgID,
		PayeeAddress:    "PayeeWallet11111111111111111111111111111111",
		AmountMonthly:   mustDecimal("1000"),
		Cadence:         domain.CadenceMonthly,
		Status:          status,
		StandingOrderID: &orderID,
		StartDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:       f.ownerID,
	}
	f.repo.streams[stream.ID] = stream
	return stream
}

func testSignature(seed byte) string {
	var sig solana.Signature
	for i := range sig {
		sig[i] = seed + byte(i)
	}
	return sig.String()
}

func transientErr() error {
	return &gridclient.ErrorResponse{StatusCode: http.StatusServiceUnavailable, Code: "unavailable"}
}

func permanentErr() error {
	return &gridclient.ErrorResponse{StatusCode: http.StatusBadRequest, Code: "invalid"}
}

func mustDecimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
