package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	apierrors "github.com/jordanlanch/callops/pkg/api/errors"
	custommw "github.com/jordanlanch/callops/pkg/api/middleware"
	"github.com/jordanlanch/callops/pkg/database/dbtest"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

const (
	testSecret   = "handler-test-secret"
	acmeNumber   = "+12125550100"
	globexNumber = "+16465550199"
	outsider     = "+13055550123"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func init() {
	apierrors.SetLogger(logger.Discard())
}

type testEnv struct {
	store  *store.Store
	echo   *echo.Echo
	api    *echo.Group
	acme   string
	globex string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s := store.New(dbtest.Open(t), logger.Discard())

	acme, err := s.CreateOrganization(ctx, "Acme")
	require.NoError(t, err)
	_, err = s.AssignPhoneNumber(ctx, acme.ID, acmeNumber)
	require.NoError(t, err)

	globex, err := s.CreateOrganization(ctx, "Globex")
	require.NoError(t, err)
	_, err = s.AssignPhoneNumber(ctx, globex.ID, globexNumber)
	require.NoError(t, err)

	e := echo.New()
	return &testEnv{
		store:  s,
		echo:   e,
		api:    e.Group("/api/v1", custommw.JWTMiddleware(testSecret)),
		acme:   acme.ID,
		globex: globex.ID,
	}
}

func token(t *testing.T, orgID, role string) string {
	t.Helper()
	tok, err := custommw.GenerateJWT(orgID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (env *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func at(d time.Duration) *time.Time {
	t := day.Add(d)
	return &t
}

func seedCalls(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()

	_, err := env.store.UpsertCalls(ctx, env.acme, []models.Call{
		{ExternalCallID: "a1", FromDigits: "13055550123", ToDigits: "12125550100", Status: models.CallStatusCompleted, QueueName: "Sales", StartedAt: at(9 * time.Hour)},
		{ExternalCallID: "a2", FromDigits: "13055550123", ToDigits: "12125550100", Status: models.CallStatusMissed, QueueName: "Sales", StartedAt: at(10 * time.Hour)},
		{ExternalCallID: "a3", FromDigits: "13055550124", ToDigits: "12125550100", Status: models.CallStatusTransferred, QueueName: "Support", StartedAt: at(26 * time.Hour)},
	})
	require.NoError(t, err)

	_, err = env.store.UpsertCalls(ctx, env.globex, []models.Call{
		{ExternalCallID: "g1", FromDigits: "13055550123", ToDigits: "16465550199", Status: models.CallStatusMissed, StartedAt: at(11 * time.Hour)},
	})
	require.NoError(t, err)
}
