package backoffice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evetabi/racesettle/internal/backoffice"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const period = int64(20250716013)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakePeriods struct{}

func (fakePeriods) GetByID(_ context.Context, id int64) (*domain.Period, error) {
	if id != period {
		return nil, domain.ErrPeriodNotFound
	}
	return &domain.Period{ID: id, Status: domain.PeriodDrawing, DrawResult: domain.DrawResult{3, 7, 1, 2, 4, 5, 6, 8, 9, 10}}, nil
}

func (f fakePeriods) ListRecent(ctx context.Context, _, _ int) ([]*domain.Period, error) {
	p, _ := f.GetByID(ctx, period)
	return []*domain.Period{p}, nil
}

type fakeBets struct{}

func (fakeBets) CountByPeriod(context.Context, int64) (domain.BetCounts, error) {
	return domain.BetCounts{
		Total: 10, Settled: 7, Unsettled: 3, Unrebated: 3,
		TotalStake: decimal.NewFromInt(1000), TotalWinAmount: decimal.NewFromInt(2940),
	}, nil
}

type fakeRecords struct{}

func (fakeRecords) GetRecord(context.Context, int64) (*domain.SettlementRecord, error) {
	return nil, domain.ErrRecordNotFound
}

type fakeLedger struct{}

func (fakeLedger) ListByPeriod(context.Context, int64, int, int) ([]*domain.Transaction, error) {
	return []*domain.Transaction{}, nil
}

func (fakeLedger) RebateTotal(context.Context, int64) (decimal.Decimal, error) {
	return decimal.RequireFromString("2.10"), nil
}

type fakeSettler struct {
	status  domain.SettleStatus
	err     error
	resumed int
}

func (f *fakeSettler) Preview(_ context.Context, id int64) (*domain.SettlementPreview, error) {
	return &domain.SettlementPreview{PeriodID: id, Status: domain.PeriodDrawing}, nil
}

func (f *fakeSettler) ResumePeriod(_ context.Context, id int64) (*domain.SettleResult, error) {
	f.resumed++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SettleResult{PeriodID: id, Status: f.status}, nil
}

type fakeTasks struct {
	resetErr error
}

func (fakeTasks) GetTask(_ context.Context, id uuid.UUID) (*domain.CompensationTask, error) {
	return nil, domain.ErrTaskNotFound
}

func (fakeTasks) ListTasks(context.Context, domain.TaskStatus, int, int) ([]*domain.CompensationTask, error) {
	return []*domain.CompensationTask{}, nil
}

func (f fakeTasks) ResetTask(_ context.Context, id uuid.UUID, now time.Time) (*domain.CompensationTask, error) {
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return &domain.CompensationTask{ID: id, PeriodID: period, Status: domain.TaskPending, NextAttemptAt: now}, nil
}

// ── Harness ───────────────────────────────────────────────────────────────────

type fixture struct {
	h       http.Handler
	authSvc *service.AuthService
	settler *fakeSettler
}

func newFixture(t *testing.T, settler *fakeSettler, tasks fakeTasks, allowedIPs string) fixture {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs},
		JWT:    config.JWTConfig{AccessSecret: "test-access-secret-abcdefghijklmnop", AccessTTL: time.Hour},
	}
	authSvc := service.NewAuthService(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		Ctx:     ctx,
		AuthSvc: authSvc,
		Periods: fakePeriods{},
		Bets:    fakeBets{},
		Records: fakeRecords{},
		Ledger:  fakeLedger{},
		Tasks:   tasks,
		Settler: settler,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cfg:     cfg,
	})
	return fixture{h: r, authSvc: authSvc, settler: settler}
}

func (f fixture) do(t *testing.T, method, path string, role domain.OperatorRole) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, &bytes.Buffer{})
	if role != "" {
		tok, _, err := f.authSvc.IssueAccessToken("op-"+string(role), role)
		if err != nil {
			t.Fatalf("IssueAccessToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)

	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("%s %s: response is not JSON: %v", method, path, err)
	}
	return rr, body
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestAccessControl(t *testing.T) {
	resume := "/admin/periods/20250716013/resume"
	tests := []struct {
		name   string
		method string
		path   string
		role   domain.OperatorRole
		want   int
	}{
		{"anonymous dashboard", http.MethodGet, "/admin/dashboard", "", http.StatusUnauthorized},
		{"readonly dashboard", http.MethodGet, "/admin/dashboard", domain.RoleReadOnly, http.StatusOK},
		{"readonly resume", http.MethodPost, resume, domain.RoleReadOnly, http.StatusForbidden},
		{"ops resume", http.MethodPost, resume, domain.RoleOps, http.StatusOK},
		{"admin resume", http.MethodPost, resume, domain.RoleAdmin, http.StatusOK},
		{"readonly retry", http.MethodPost, "/admin/compensation/" + uuid.NewString() + "/retry", domain.RoleReadOnly, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeSettler{status: domain.SettleComplete}, fakeTasks{}, "")
			rr, body := f.do(t, tc.method, tc.path, tc.role)
			if rr.Code != tc.want {
				t.Errorf("%s %s as %q = %d, want %d (body %v)", tc.method, tc.path, tc.role, rr.Code, tc.want, body)
			}
		})
	}
}

func TestPeriodDetail(t *testing.T) {
	f := newFixture(t, &fakeSettler{}, fakeTasks{}, "")

	rr, body := f.do(t, http.MethodGet, "/admin/periods/20250716013", domain.RoleReadOnly)
	if rr.Code != http.StatusOK {
		t.Fatalf("detail = %d, body %v", rr.Code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["record"] != nil {
		t.Errorf("record = %v, want null", data["record"])
	}
	if data["complete"] != false {
		t.Errorf("complete = %v, want false", data["complete"])
	}
	if data["rebate_total"] != "2.1" {
		t.Errorf("rebate_total = %v", data["rebate_total"])
	}

	tests := []struct {
		path string
		want int
		code string
	}{
		{"/admin/periods/abc", http.StatusBadRequest, "ERR_INVALID_ID"},
		{"/admin/periods/20250716000", http.StatusBadRequest, "ERR_INVALID_ID"},
		{"/admin/periods/20250716014", http.StatusNotFound, "ERR_NOT_FOUND"},
	}
	for _, tc := range tests {
		rr, body := f.do(t, http.MethodGet, tc.path, domain.RoleReadOnly)
		if rr.Code != tc.want || body["code"] != tc.code {
			t.Errorf("GET %s = %d %v, want %d %s", tc.path, rr.Code, body["code"], tc.want, tc.code)
		}
	}
}

func TestResumeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		settler *fakeSettler
		want    int
	}{
		{"complete", &fakeSettler{status: domain.SettleComplete}, http.StatusOK},
		{"already settled", &fakeSettler{status: domain.SettleAlreadySettled}, http.StatusOK},
		{"lock held", &fakeSettler{status: domain.SettleLocked}, http.StatusAccepted},
		{"partial", &fakeSettler{status: domain.SettlePartial}, http.StatusAccepted},
		{"still betting", &fakeSettler{err: domain.ErrInvalidTransition}, http.StatusConflict},
		{"no draw", &fakeSettler{err: domain.ErrNoDrawResult}, http.StatusConflict},
		{"bad draw", &fakeSettler{err: &domain.DataIntegrityError{PeriodID: period, Reason: "duplicate number"}}, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.settler, fakeTasks{}, "")
			rr, body := f.do(t, http.MethodPost, "/admin/periods/20250716013/resume", domain.RoleOps)
			if rr.Code != tc.want {
				t.Errorf("resume = %d, want %d (body %v)", rr.Code, tc.want, body)
			}
			if tc.settler.resumed != 1 {
				t.Errorf("ResumePeriod calls = %d, want 1", tc.settler.resumed)
			}
		})
	}
}

func TestCompensationRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"reopened", nil, http.StatusOK},
		{"not failed", domain.ErrTaskNotFound, http.StatusNotFound},
		{"period has open task", domain.ErrTaskPending, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeSettler{}, fakeTasks{resetErr: tc.err}, "")
			rr, body := f.do(t, http.MethodPost, "/admin/compensation/"+uuid.NewString()+"/retry", domain.RoleAdmin)
			if rr.Code != tc.want {
				t.Errorf("retry = %d, want %d (body %v)", rr.Code, tc.want, body)
			}
		})
	}

	f := newFixture(t, &fakeSettler{}, fakeTasks{}, "")
	rr, _ := f.do(t, http.MethodPost, "/admin/compensation/not-a-uuid/retry", domain.RoleAdmin)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("retry with bad id = %d, want 400", rr.Code)
	}
}

func TestCompensationListValidatesStatus(t *testing.T) {
	f := newFixture(t, &fakeSettler{}, fakeTasks{}, "")
	if rr, _ := f.do(t, http.MethodGet, "/admin/compensation?status=failed", domain.RoleReadOnly); rr.Code != http.StatusOK {
		t.Errorf("status=failed = %d, want 200", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodGet, "/admin/compensation?status=lost", domain.RoleReadOnly); rr.Code != http.StatusBadRequest {
		t.Errorf("status=lost = %d, want 400", rr.Code)
	}
}

func TestIPWhitelist(t *testing.T) {
	// httptest requests come from 192.0.2.1
	f := newFixture(t, &fakeSettler{}, fakeTasks{}, "10.0.0.1, 10.0.0.2")
	rr, body := f.do(t, http.MethodGet, "/admin/dashboard", domain.RoleAdmin)
	if rr.Code != http.StatusForbidden || body["code"] != "ERR_IP_DENIED" {
		t.Errorf("non-whitelisted = %d %v, want 403", rr.Code, body)
	}

	f = newFixture(t, &fakeSettler{}, fakeTasks{}, "192.0.2.1")
	if rr, _ := f.do(t, http.MethodGet, "/admin/dashboard", domain.RoleAdmin); rr.Code != http.StatusOK {
		t.Errorf("whitelisted = %d, want 200", rr.Code)
	}
}
