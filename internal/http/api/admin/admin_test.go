package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/linkshelf/storefront/internal/config"
	"github.com/linkshelf/storefront/internal/db"
	"github.com/linkshelf/storefront/internal/models"
	"github.com/linkshelf/storefront/internal/passkey"
	"github.com/linkshelf/storefront/internal/security"
	"github.com/linkshelf/storefront/internal/session"
	"gorm.io/gorm"
)

const testSecret = "test-session-secret"

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	sessions *session.MemoryStore
	cfg      config.SessionConfig
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, errOpen := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestServer(t *testing.T, production bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := openTestDB(t)
	webAuthn, errWebAuthn := security.NewWebAuthn(config.WebAuthnConfig{
		RPID:         "localhost",
		RPName:       "Storefront Admin",
		Origins:      []string{"http://localhost:3000"},
		ChallengeTTL: 5 * time.Minute,
	})
	if errWebAuthn != nil {
		t.Fatalf("webauthn: %v", errWebAuthn)
	}
	service := passkey.NewService(conn, webAuthn, passkey.Options{RPID: "localhost"})
	sessions := session.NewMemoryStore()
	cfg := config.SessionConfig{Secret: testSecret, TTL: time.Hour, CookieName: "admin_session"}

	router := gin.New()
	RegisterAdminRoutes(router, Deps{
		DB:         conn,
		Service:    service,
		Sessions:   sessions,
		Session:    cfg,
		Production: production,
	})
	return &testServer{router: router, db: conn, sessions: sessions, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedAdmin(t *testing.T, email string, credentialIDs ...string) models.Admin {
	t.Helper()
	admin := models.Admin{Email: email, Name: strings.Split(email, "@")[0], Role: models.RoleAdmin, Active: true}
	if errCreate := s.db.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
	for _, id := range credentialIDs {
		cred := models.Credential{
			AdminID:      admin.ID,
			CredentialID: id,
			PublicKey:    []byte("public-key"),
			DeviceName:   "Key " + id,
		}
		if errCreate := s.db.Create(&cred).Error; errCreate != nil {
			t.Fatalf("create credential: %v", errCreate)
		}
	}
	return admin
}

func (s *testServer) signIn(t *testing.T, adminID uint64) *http.Cookie {
	t.Helper()
	sess := session.New(adminID, time.Hour, time.Now())
	if errCreate := s.sessions.Create(t.Context(), sess); errCreate != nil {
		t.Fatalf("create session: %v", errCreate)
	}
	token, errToken := security.GenerateSessionToken(testSecret, sess.ID, adminID, time.Hour)
	if errToken != nil {
		t.Fatalf("sign token: %v", errToken)
	}
	return &http.Cookie{Name: s.cfg.CookieName, Value: token}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if errUnmarshal := json.Unmarshal(rec.Body.Bytes(), &out); errUnmarshal != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), errUnmarshal)
	}
	return out
}

func TestCeremonyEndpointsRejectNonStringEmail(t *testing.T) {
	srv := newTestServer(t, true)
	paths := []string{
		"/api/admin/auth/register/options",
		"/api/admin/auth/register/verify",
		"/api/admin/auth/authenticate/options",
		"/api/admin/auth/authenticate/verify",
	}
	emails := []string{`123`, `true`, `{"a":1}`, `["a@b.co"]`, `null`}

	for _, path := range paths {
		for _, email := range emails {
			body := fmt.Sprintf(`{"email":%s,"credential":{"id":"x"}}`, email)
			if strings.HasSuffix(path, "/options") {
				body = fmt.Sprintf(`{"email":%s}`, email)
			}
			rec := srv.do(t, http.MethodPost, path, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s with email %s: status %d, body %s", path, email, rec.Code, rec.Body.String())
			}
			if _, ok := decodeBody(t, rec)["error"].(string); !ok {
				t.Fatalf("%s: missing error message", path)
			}
		}
		rec := srv.do(t, http.MethodPost, path, `{"credential":{"id":"x"}}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s without email: status %d", path, rec.Code)
		}
	}
}

func TestRegisterOptionsRejectsBlankEmail(t *testing.T) {
	srv := newTestServer(t, true)
	rec := srv.do(t, http.MethodPost, "/api/admin/auth/register/options", `{"email":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"].(string); !strings.Contains(strings.ToLower(msg), "required") {
		t.Fatalf("message = %q", msg)
	}
}

func TestRequestBodiesRejectUnknownFieldsAndLongValues(t *testing.T) {
	srv := newTestServer(t, true)

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"a@example.com","admin":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, hasDetails := body["details"]; hasDetails {
		t.Fatalf("production response leaked details: %v", body)
	}

	longName := strings.Repeat("n", 101)
	rec = srv.do(t, http.MethodPost, "/api/admin/auth/register/verify",
		fmt.Sprintf(`{"email":"a@example.com","credential":{"id":"x"},"deviceName":%q}`, longName))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("long device name: status %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"a@example.com"} {}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("trailing data: status %d", rec.Code)
	}
}

func TestRegisterOptionsProvisionsAdmin(t *testing.T) {
	srv := newTestServer(t, false)

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/register/options", `{"email":"NewAdmin@Example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	challenge, ok := body["challenge"].(string)
	if !ok || challenge == "" {
		t.Fatalf("missing challenge in %v", body)
	}
	rp, _ := body["rp"].(map[string]any)
	if rp["id"] != "localhost" {
		t.Fatalf("rp = %v", body["rp"])
	}

	var admin models.Admin
	if errFind := srv.db.Where("email = ?", "newadmin@example.com").First(&admin).Error; errFind != nil {
		t.Fatalf("admin not provisioned: %v", errFind)
	}
	if _, active := admin.ActiveChallenge(time.Now()); !active {
		t.Fatalf("challenge not stored")
	}
}

func TestRegisterOptionsForExistingAdminNeedsSession(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "keys@example.com", "Y3JlZC0x")

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/register/options", `{"email":"keys@example.com"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous: status %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/auth/register/options", `{"email":"keys@example.com"}`, srv.signIn(t, admin.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed in: status %d body %s", rec.Code, rec.Body.String())
	}
	excluded, _ := decodeBody(t, rec)["excludeCredentials"].([]any)
	if len(excluded) != 1 {
		t.Fatalf("excludeCredentials = %v", excluded)
	}
}

func TestAuthenticateOptions(t *testing.T) {
	srv := newTestServer(t, true)
	srv.seedAdmin(t, "empty@example.com")
	srv.seedAdmin(t, "ready@example.com", "Y3JlZC0x", "Y3JlZC0y")
	srv.seedAdmin(t, "other@example.com", "Y3JlZC0z")

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"empty@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no keys: status %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "No security keys registered") {
		t.Fatalf("no keys message = %q", msg)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"ghost@example.com"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown admin: status %d", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"Ready@Example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: status %d body %s", rec.Code, rec.Body.String())
	}
	allowed, _ := decodeBody(t, rec)["allowCredentials"].([]any)
	if len(allowed) != 2 {
		t.Fatalf("allowCredentials = %v", allowed)
	}
}

func TestAuthenticateOptionsDisabledAdmin(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "off@example.com", "Y3JlZC0x")
	if errUpdate := srv.db.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable: %v", errUpdate)
	}
	rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"off@example.com"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAuthenticateVerifyWithoutChallenge(t *testing.T) {
	srv := newTestServer(t, false)
	srv.seedAdmin(t, "ready@example.com", "Y3JlZC0x")

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/verify", `{"email":"ready@example.com","credential":{"id":"Y3JlZC0x"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if cookies := rec.Result().Cookies(); len(cookies) != 0 {
		t.Fatalf("session cookie issued on failure: %v", cookies)
	}
}

func TestAuthenticateVerifyGarbledAssertionIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, false)
	srv.seedAdmin(t, "ready@example.com", "Y3JlZC0x")

	if rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/options", `{"email":"ready@example.com"}`); rec.Code != http.StatusOK {
		t.Fatalf("options: status %d", rec.Code)
	}
	rec := srv.do(t, http.MethodPost, "/api/admin/auth/authenticate/verify", `{"email":"ready@example.com","credential":{"id":"Y3JlZC0x"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != passkey.MsgAuthenticationFailed {
		t.Fatalf("error = %v", body["error"])
	}
	if _, ok := body["details"]; !ok {
		t.Fatalf("development response should carry details: %v", body)
	}

	var admin models.Admin
	if errFind := srv.db.Where("email = ?", "ready@example.com").First(&admin).Error; errFind != nil {
		t.Fatalf("reload admin: %v", errFind)
	}
	if admin.HasChallengeState() {
		t.Fatalf("challenge not cleared after failed verification")
	}
}

func TestCredentialEndpointsRequireSession(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "keys@example.com", "Y3JlZC0x")

	if rec := srv.do(t, http.MethodGet, "/api/admin/auth/credentials", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status %d", rec.Code)
	}
	garbage := &http.Cookie{Name: "admin_session", Value: "not-a-token"}
	if rec := srv.do(t, http.MethodGet, "/api/admin/auth/credentials", "", garbage); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", rec.Code)
	}

	token, _ := security.GenerateSessionToken(testSecret, "revoked-session", admin.ID, time.Hour)
	revoked := &http.Cookie{Name: "admin_session", Value: token}
	if rec := srv.do(t, http.MethodGet, "/api/admin/auth/credentials", "", revoked); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown session: status %d", rec.Code)
	}
}

func TestCredentialManagementEndpoints(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "keys@example.com", "Y3JlZC0x")
	other := srv.seedAdmin(t, "other@example.com", "Y3JlZC0y")
	cookie := srv.signIn(t, admin.ID)

	rec := srv.do(t, http.MethodGet, "/api/admin/auth/credentials", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	creds, _ := decodeBody(t, rec)["credentials"].([]any)
	if len(creds) != 1 {
		t.Fatalf("credentials = %v", creds)
	}
	first := creds[0].(map[string]any)
	if _, leaked := first["publicKey"]; leaked {
		t.Fatalf("credential summary leaked public key: %v", first)
	}
	firstID := uint64(first["id"].(float64))

	rec = srv.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/auth/credentials/%d", firstID), "", cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("delete last: status %d", rec.Code)
	}
	if msg := decodeBody(t, rec)["error"]; msg != passkey.MsgLastCredential {
		t.Fatalf("delete last message = %v", msg)
	}

	var otherCred models.Credential
	if errFind := srv.db.Where("admin_id = ?", other.ID).First(&otherCred).Error; errFind != nil {
		t.Fatalf("load other credential: %v", errFind)
	}
	if rec := srv.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/auth/credentials/%d", otherCred.ID), "", cookie); rec.Code != http.StatusNotFound {
		t.Fatalf("delete foreign: status %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodDelete, "/api/admin/auth/credentials/abc", "", cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete bad id: status %d", rec.Code)
	}

	second := models.Credential{AdminID: admin.ID, CredentialID: "Y3JlZC0z", PublicKey: []byte("pk"), DeviceName: "Spare"}
	if errCreate := srv.db.Create(&second).Error; errCreate != nil {
		t.Fatalf("create spare: %v", errCreate)
	}
	rec = srv.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/auth/credentials/%d", second.ID), `{"deviceName":"Desk <YubiKey>"}`, cookie)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["deviceName"] != "Desk YubiKey" {
		t.Fatalf("rename: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/auth/credentials/%d", firstID), "", cookie)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != true {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}
	var remaining int64
	srv.db.Model(&models.Credential{}).Where("admin_id = ?", admin.ID).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("remaining credentials = %d", remaining)
	}
}

func TestMeAndLogout(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "me@example.com", "Y3JlZC0x")
	cookie := srv.signIn(t, admin.ID)

	rec := srv.do(t, http.MethodGet, "/api/admin/auth/me", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	profile, _ := decodeBody(t, rec)["admin"].(map[string]any)
	if profile["email"] != "me@example.com" || len(profile) != 4 {
		t.Fatalf("profile = %v", profile)
	}

	rec = srv.do(t, http.MethodPost, "/api/admin/auth/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}
	if srv.sessions.Len() != 0 {
		t.Fatalf("session not revoked")
	}
	if rec := srv.do(t, http.MethodGet, "/api/admin/auth/me", "", cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d", rec.Code)
	}
}

func TestDisabledAdminSessionIsRevoked(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "gone@example.com", "Y3JlZC0x")
	cookie := srv.signIn(t, admin.ID)
	if errUpdate := srv.db.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable: %v", errUpdate)
	}

	if rec := srv.do(t, http.MethodGet, "/api/admin/auth/me", "", cookie); rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}
	if srv.sessions.Len() != 0 {
		t.Fatalf("session of disabled admin kept")
	}
}

func TestCreateInviteEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	admin := srv.seedAdmin(t, "lead@example.com", "Y3JlZC0x")
	cookie := srv.signIn(t, admin.ID)

	rec := srv.do(t, http.MethodPost, "/api/admin/auth/invites", `{"email":"hire@example.com"}`, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	invite, _ := decodeBody(t, rec)["invite"].(map[string]any)
	token, _ := invite["token"].(string)
	if !strings.HasPrefix(token, "inv_") || invite["email"] != "hire@example.com" {
		t.Fatalf("invite = %v", invite)
	}

	if rec := srv.do(t, http.MethodPost, "/api/admin/auth/invites", `{"email":"boss@example.com","role":"owner"}`, cookie); rec.Code != http.StatusForbidden {
		t.Fatalf("owner invite by admin: status %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, true)
	rec := srv.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["ok"] != true {
		t.Fatalf("healthz: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = srv.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: status %d", rec.Code)
	}
}
