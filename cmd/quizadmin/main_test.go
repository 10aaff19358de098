package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
	"quizora/internal/ledger"
	"quizora/internal/middleware"
	"quizora/internal/pricing"
)

type memoryKeys struct {
	key string
}

func (m *memoryKeys) SetGeminiAPIKey(_ context.Context, key string) error {
	m.key = key
	return nil
}

func (m *memoryKeys) ClearGeminiAPIKey(context.Context) (bool, error) {
	had := m.key != ""
	m.key = ""
	return had, nil
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, pricing.Default(), ledger.Options{Logger: zerolog.Nop()})
	_, err := svc.EnsureAccount(context.Background(), "acct", "s@quizora.id", domain.AccountRoleUser)
	require.NoError(t, err)
	return &env{svc: svc, history: ledger.NewHistory(store), keys: &memoryKeys{}, jwtSecret: "cli-secret"}
}

func executeCLI(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(context.Context) (*env, error) { return e, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGrantAndBalance(t *testing.T) {
	e := newTestEnv(t)

	out, err := executeCLI(t, e, "grant", "acct", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 45")

	_, err = executeCLI(t, e, "grant", "acct", "-3")
	assert.Error(t, err)

	out, err = executeCLI(t, e, "balance", "acct")
	require.NoError(t, err)
	assert.Contains(t, out, "balance:  45")
	assert.Contains(t, out, "plan:     none")
}

func TestSubscribeThenCancel(t *testing.T) {
	e := newTestEnv(t)

	out, err := executeCLI(t, e, "subscribe", "acct", "pro")
	require.NoError(t, err)
	assert.Contains(t, out, "+500 credits, balance 530")
	_, err = executeCLI(t, e, "subscribe", "acct", "pro")
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	grant, err := e.svc.ActiveSubscription(context.Background(), "acct")
	require.NoError(t, err)
	require.NotNil(t, grant)

	out, err = executeCLI(t, e, "cancel-subscription", grant.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "reclaimed 500, balance 30")

	_, err = executeCLI(t, e, "subscribe", "ghost", "pro")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUsageJSON(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.Charge(context.Background(), ledger.ChargeRequest{AccountID: "acct", Kind: domain.KindTextQuestion, InputRef: "2+2"},
		func(context.Context) (ledger.Outcome, error) { return ledger.Outcome{Output: "4"}, nil })
	require.NoError(t, err)

	out, err := executeCLI(t, e, "usage", "acct", "--json")
	require.NoError(t, err)
	var page ledger.HistoryPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, domain.UsageStatusCommitted, page.Events[0].Status)

	out, err = executeCLI(t, e, "usage", "acct")
	require.NoError(t, err)
	assert.Contains(t, out, "text-question")
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	e := newTestEnv(t)

	_, err := executeCLI(t, e, "delete-account", "acct")
	require.Error(t, err)

	_, err = executeCLI(t, e, "delete-account", "acct", "--yes")
	require.NoError(t, err)
	_, err = e.svc.Account(context.Background(), "acct")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGeminiKeyAndToken(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	_, err := executeCLI(t, e, "gemini-key", "set")
	assert.Error(t, err)

	_, err = executeCLI(t, e, "gemini-key", "set", "--key", "k-123")
	require.NoError(t, err)
	assert.Equal(t, "k-123", e.keys.(*memoryKeys).key)

	_, err = executeCLI(t, e, "gemini-key", "set", "k-456")
	require.NoError(t, err)
	assert.Equal(t, "k-456", e.keys.(*memoryKeys).key)

	out, err := executeCLI(t, e, "gemini-key", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = executeCLI(t, e, "token", "ops", "--role", "admin")
	require.NoError(t, err)
	claims, err := middleware.VerifyJWT("cli-secret", string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = executeCLI(t, e, "token", "ops", "--role", "root")
	assert.Error(t, err)
}

func TestSweepReportsCounts(t *testing.T) {
	out, err := executeCLI(t, newTestEnv(t), "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "failed 0, skipped 0, expired 0")
}
