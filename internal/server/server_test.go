package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/alerts"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/buffer"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/cooldown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/crypto"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/evidence"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/lockdown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/message_processor"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/metrics"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/repository"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/router"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/rules"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const testRules = `
version: "api-test"
labels:
  secrecy:
    severity: CRITICAL
    patterns:
      - src: "/don'?t tell (your )?(mom|dad|parents)/i"
        name: secrecy request
  compliments:
    severity: LOW
    patterns:
      - '\byou.re so mature\b'
`

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, logger))

	clock := scheduler.NewVirtual(time.UnixMilli(1_700_000_000_000))
	m := metrics.New()

	engine := rules.NewEngine(m, logger)
	doc, err := rules.ParseDocument([]byte(testRules))
	require.NoError(t, err)
	engine.Load(doc)

	window, err := buffer.NewRollingWindow(buffer.WindowConfig{MaxInteractions: 10, MaxAge: time.Minute, CleanupInterval: time.Second}, clock, logger)
	require.NoError(t, err)
	sealer, err := evidence.NewSealer(evidence.Config{}, logger)
	require.NoError(t, err)

	vault := keyvault.New(repository.NewKeyRepository(db, logger), clock, keyvault.Config{Iterations: crypto.MinIterations}, logger)
	evidenceRepo := repository.NewEvidenceRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	block := service.NewBlockState(clock, logger)
	timer := lockdown.NewTimer(clock, logger)

	r, err := router.New(router.Deps{
		Window:    window,
		Rules:     engine,
		Cooldown:  cooldown.NewFilter(repository.NewCooldownRepository(db), logger),
		Sealer:    sealer,
		Keys:      vault,
		Evidence:  evidenceRepo,
		Alerts:    alerts.NewRecorder(alerts.NewLogSink(logger), alertRepo, logger),
		Block:     block,
		Educator:  block,
		Lockdown:  timer,
		Metrics:   m,
		Scheduler: clock,
		Logger:    logger,
	}, router.Config{})
	require.NoError(t, err)

	guardian, err := service.NewGuardianService(vault, evidenceRepo, alertRepo, clock,
		service.AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef"}, logger)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Guardian: guardian,
		Ingest:   message_processor.NewProcessor(r, time.Second, logger),
		Status: &service.StatusReporter{
			Block:    block,
			Lockdown: timer,
			Window:   window,
			Rules:    engine,
			Metrics:  m,
		},
		Metrics: m.Handler(),
	}, log)
	return srv.Handler()
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
	raw    string
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(context.Background())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := response{code: rec.Code, header: rec.Header(), raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body))
	}
	return out
}

func interaction(id, text string) map[string]any {
	return map[string]any{
		"id":          id,
		"text":        text,
		"sender":      map[string]any{"id": "stranger-1", "name": "Sam"},
		"platform":    "discord",
		"timestampMs": 1_700_000_000_000,
	}
}

func TestPing(t *testing.T) {
	h := newTestServer(t)
	res := do(t, h, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "pong", res.body["message"])
}

func TestDetectionFlowThroughAPI(t *testing.T) {
	h := newTestServer(t)

	res := do(t, h, http.MethodPost, "/api/interactions", "", interaction("m1", "you're so mature"))
	require.Equal(t, http.StatusOK, res.code, res.raw)
	assert.Equal(t, "advisory", res.body["action"])

	res = do(t, h, http.MethodPost, "/api/interactions", "", interaction("m2", "don't tell your mom about us"))
	require.Equal(t, http.StatusOK, res.code, res.raw)
	assert.Equal(t, "detection", res.body["action"])
	detection := res.body["detection"].(map[string]any)
	assert.Equal(t, "secrecy", detection["label"])
	assert.Equal(t, "CRITICAL", detection["severity"])
	evidenceID := detection["evidenceId"].(string)
	require.NotEmpty(t, evidenceID)

	res = do(t, h, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, res.code)
	device := res.body["device"].(map[string]any)
	assert.Equal(t, float64(1), device["blocks"])
	assert.Equal(t, true, device["lockdown"].(map[string]any)["active"])
	assert.Equal(t, float64(2), res.body["processor"].(map[string]any)["processed"])

	res = do(t, h, http.MethodGet, "/api/evidence", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = do(t, h, http.MethodPost, "/api/guardian/setup", "", map[string]string{"pin": "2468"})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	assert.Regexp(t, `^[A-Z2-9]{4}(-[A-Z2-9]{4}){3}$`, res.body["recoveryCode"])

	res = do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "1111"})
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "unlock failed", res.body["error"])

	res = do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "2468"})
	require.Equal(t, http.StatusOK, res.code, res.raw)
	token := res.body["token"].(string)

	res = do(t, h, http.MethodGet, "/api/evidence", token, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)
	assert.Len(t, res.body["evidence"], 1)

	res = do(t, h, http.MethodGet, "/api/evidence/"+evidenceID, token, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)
	payload := res.body["payload"].(map[string]any)
	assert.Equal(t, "secrecy", payload["label"])
	assert.Len(t, payload["interactions"], 2)

	res = do(t, h, http.MethodGet, "/api/evidence/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, res.code)

	res = do(t, h, http.MethodGet, "/api/alerts", token, nil)
	require.Equal(t, http.StatusOK, res.code)
	alertList := res.body["alerts"].([]any)
	require.Len(t, alertList, 1)
	alert := alertList[0].(map[string]any)
	assert.Equal(t, evidenceID, alert["evidenceId"])
	assert.Equal(t, true, alert["delivered"])

	res = do(t, h, http.MethodGet, "/api/alerts?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = do(t, h, http.MethodPost, "/api/guardian/logout", token, nil)
	assert.Equal(t, http.StatusOK, res.code)
	res = do(t, h, http.MethodGet, "/api/evidence/"+evidenceID, token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	res = do(t, h, http.MethodGet, "/api/evidence", token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	res = do(t, h, http.MethodGet, "/api/alerts", token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.code)
	assert.Contains(t, res.raw, "guardian_blocks_total 1")
}

func TestInvalidInteractionIsRejected(t *testing.T) {
	h := newTestServer(t)

	res := do(t, h, http.MethodPost, "/api/interactions", "", map[string]any{"id": "x", "text": "hi", "platform": "sms"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = do(t, h, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, float64(1), res.body["processor"].(map[string]any)["rejected"])
}

func TestUnlockLockout(t *testing.T) {
	h := newTestServer(t)

	res := do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "2468"})
	assert.Equal(t, http.StatusNotFound, res.code)

	res = do(t, h, http.MethodPost, "/api/guardian/setup", "", map[string]string{"pin": "2468"})
	require.Equal(t, http.StatusCreated, res.code)
	res = do(t, h, http.MethodPost, "/api/guardian/setup", "", map[string]string{"pin": "2468"})
	assert.Equal(t, http.StatusConflict, res.code)

	for i := 0; i < 4; i++ {
		res = do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "0000"})
		require.Equal(t, http.StatusUnauthorized, res.code, "attempt %d", i+1)
	}
	res = do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "2468"})
	assert.Equal(t, http.StatusLocked, res.code)
	assert.Equal(t, "60", res.header.Get("Retry-After"))
	assert.Equal(t, float64(60), res.body["retryAfterSeconds"])
}

func TestResetWithBadCode(t *testing.T) {
	h := newTestServer(t)

	res := do(t, h, http.MethodPost, "/api/guardian/reset", "", map[string]string{"recoveryCode": "AAAA-BBBB-CCCC-DDDD", "newPin": "1"})
	assert.Equal(t, http.StatusNotFound, res.code)

	res = do(t, h, http.MethodPost, "/api/guardian/setup", "", map[string]string{"pin": "2468"})
	require.Equal(t, http.StatusCreated, res.code)
	code := res.body["recoveryCode"].(string)

	res = do(t, h, http.MethodPost, "/api/guardian/reset", "", map[string]string{"recoveryCode": "AAAA-BBBB-CCCC-DDDD", "newPin": "1"})
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "unlock failed", res.body["error"])

	res = do(t, h, http.MethodPost, "/api/guardian/reset", "", map[string]string{"recoveryCode": strings.ToLower(code), "newPin": "1357"})
	require.Equal(t, http.StatusOK, res.code, res.raw)

	res = do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{"pin": "1357"})
	assert.Equal(t, http.StatusOK, res.code)
}

func TestMissingBodyFields(t *testing.T) {
	h := newTestServer(t)
	res := do(t, h, http.MethodPost, "/api/guardian/unlock", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = do(t, h, http.MethodGet, "/api/alerts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
}
