package rewards

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
)

func TestNewRuleTable(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		table, err := NewRuleTable(DefaultRules())
		require.NoError(t, err)
		assert.Len(t, table.Active(), len(KnownEvents))
	})

	bad := []struct {
		name  string
		rules []Rule
	}{
		{"unknown event", []Rule{{Event: "birthday", Amount: 10, Description: "x", Active: true}}},
		{"zero amount", []Rule{{Event: EventReferral, Amount: 0, Description: "x", Active: true}}},
		{"empty description", []Rule{{Event: EventReferral, Amount: 10, Description: " ", Active: true}}},
		{"duplicate", []Rule{
			{Event: EventReferral, Amount: 10, Description: "x", Active: true},
			{Event: EventReferral, Amount: 20, Description: "y", Active: true},
		}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleTable(tt.rules)
			assert.ErrorIs(t, err, common.ErrInvalidRewardRule)
		})
	}
}

func TestRuleTable_Lookup(t *testing.T) {
	table, err := NewRuleTable([]Rule{
		{Event: EventReferral, Amount: 500, Description: "ref", Active: true},
		{Event: EventQuickResponse, Amount: 25, Description: "quick", Active: false},
	})
	require.NoError(t, err)

	r, err := table.Lookup(EventReferral)
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Amount)

	_, err = table.Lookup(EventQuickResponse)
	assert.ErrorIs(t, err, common.ErrRewardRuleInactive)

	_, err = table.Lookup(EventFirstService)
	assert.ErrorIs(t, err, common.ErrUnknownRewardEvent)

	assert.Len(t, table.Active(), 1)
}

func newTestService(t *testing.T, rules []Rule) (*Service, *ledger.Service) {
	t.Helper()
	table, err := NewRuleTable(rules)
	require.NoError(t, err)
	l := ledger.NewService(ledger.NewMemoryStore())
	return NewService(l, table), l
}

func TestService_Dispatch(t *testing.T) {
	ctx := context.Background()
	svc, l := newTestService(t, []Rule{
		{Event: EventPositiveReview, Amount: 50, Description: "good review", Active: true},
		{Event: EventQuickResponse, Amount: -20, Description: "slow response", Active: true},
		{Event: EventFirstService, Amount: 300, Description: "first service", Active: true},
	})

	t.Run("positive amount credits", func(t *testing.T) {
		entry, err := svc.Dispatch(ctx, "alice", EventPositiveReview, "", ledger.Metadata{"review_id": "r-1"})
		require.NoError(t, err)
		assert.Equal(t, ledger.KindCredit, entry.Kind)
		assert.Equal(t, int64(50), entry.Amount)
		assert.Equal(t, "Reward: good review", entry.Reason)
		assert.Equal(t, "positive_review", entry.Metadata["event"])
		assert.Equal(t, int64(50), entry.Metadata["rule_amount"])
		assert.Equal(t, "r-1", entry.Metadata["review_id"])
	})

	t.Run("negative amount debits absolute value", func(t *testing.T) {
		entry, err := svc.Dispatch(ctx, "alice", EventQuickResponse, "", nil)
		require.NoError(t, err)
		assert.Equal(t, ledger.KindDebit, entry.Kind)
		assert.Equal(t, int64(-20), entry.Amount)
		assert.Equal(t, "Penalty: slow response", entry.Reason)

		b, err := l.GetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(30), b)
	})

	t.Run("penalty without funds fails", func(t *testing.T) {
		_, err := svc.Dispatch(ctx, "bob", EventQuickResponse, "", nil)
		assert.ErrorIs(t, err, common.ErrAccountNotFound)
	})

	t.Run("one-time event is granted once", func(t *testing.T) {
		_, err := svc.Dispatch(ctx, "carol", EventFirstService, "", nil)
		require.NoError(t, err)
		_, err = svc.Dispatch(ctx, "carol", EventFirstService, "", nil)
		assert.ErrorIs(t, err, common.ErrDuplicateReference)

		b, err := l.GetBalance(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, int64(300), b)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := svc.Dispatch(ctx, "alice", EventReferral, "", nil)
		assert.ErrorIs(t, err, common.ErrUnknownRewardEvent)
	})
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewRepository(mock)

	defaults := DefaultRules()[:2]
	mock.ExpectExec("INSERT INTO credit_rules").
		WithArgs(string(defaults[0].Event), defaults[0].Amount, defaults[0].Description, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO credit_rules").
		WithArgs(string(defaults[1].Event), defaults[1].Amount, defaults[1].Description, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := repo.SeedDefaults(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	mock.ExpectQuery("FROM credit_rules").
		WillReturnRows(pgxmock.NewRows([]string{"event", "amount", "description", "is_active"}).
			AddRow("positive_review", int64(75), "edited by admin", true).
			AddRow("referral", int64(500), "ref", false))

	rules, err := repo.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, EventPositiveReview, rules[0].Event)
	assert.Equal(t, int64(75), rules[0].Amount)
	assert.False(t, rules[1].Active)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers(t *testing.T) {
	svc, _ := newTestService(t, DefaultRules())
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/rewards/rules", h.ListRules)
	r.Post("/admin/rewards/{event}", h.Dispatch)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rewards/rules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []Rule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Len(t, env.Data, len(KnownEvents))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rewards/referral",
		strings.NewReader(`{"owner_id":"alice","reference_id":"ref-bob"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rewards/birthday",
		strings.NewReader(`{"owner_id":"alice"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
