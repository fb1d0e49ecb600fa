package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/linkshelf/storefront/internal/db"
	"github.com/linkshelf/storefront/internal/models"
	"gorm.io/gorm"
)

// fakeProvider stands in for *webauthn.WebAuthn. It binds responses to the session
// challenge and the allowed credential list the way the real library does.
type fakeProvider struct {
	mu  sync.Mutex
	seq int

	beginErr  error
	createErr error
	loginErr  error

	lastLoginUser webauthn.User
}

func (f *fakeProvider) nextChallenge(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-challenge-%d", prefix, f.seq)
}

func (f *fakeProvider) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	challenge := f.nextChallenge("reg")
	creation := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: protocol.URLEncodedBase64(challenge),
		},
	}
	for _, opt := range opts {
		opt(&creation.Response)
	}
	return creation, &webauthn.SessionData{Challenge: challenge, UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if response.Response.CollectedClientData.Challenge != session.Challenge {
		return nil, errors.New("challenge mismatch")
	}
	if !bytes.Equal(session.UserID, user.WebAuthnID()) {
		return nil, errors.New("user mismatch")
	}
	if session.Expires.IsZero() || len(session.CredParams) == 0 {
		return nil, errors.New("incomplete session")
	}
	return &webauthn.Credential{
		ID:              response.RawID,
		PublicKey:       []byte("public-key"),
		AttestationType: "none",
		Transport:       response.Response.Transports,
		Authenticator:   webauthn.Authenticator{AAGUID: []byte("aaguid")},
	}, nil
}

func (f *fakeProvider) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	f.mu.Lock()
	f.lastLoginUser = user
	f.mu.Unlock()

	challenge := f.nextChallenge("auth")
	assertion := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(challenge),
			AllowedCredentials: webauthn.Credentials(user.WebAuthnCredentials()).CredentialDescriptors(),
		},
	}
	for _, opt := range opts {
		opt(&assertion.Response)
	}
	return assertion, &webauthn.SessionData{Challenge: challenge, UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if response.Response.CollectedClientData.Challenge != session.Challenge {
		return nil, errors.New("challenge mismatch")
	}
	allowed := false
	for _, id := range session.AllowedCredentialIDs {
		if bytes.Equal(id, response.RawID) {
			allowed = true
		}
	}
	if !allowed {
		return nil, errors.New("credential not allowed")
	}
	for _, cred := range user.WebAuthnCredentials() {
		if bytes.Equal(cred.ID, response.RawID) {
			validated := cred
			validated.Authenticator.UpdateCounter(response.Response.AuthenticatorData.Counter)
			return &validated, nil
		}
	}
	return nil, errors.New("unknown credential")
}

// fakeResponse is the browser payload understood by fakeParser.
type fakeResponse struct {
	ID         string   `json:"id"`
	Challenge  string   `json:"challenge"`
	Counter    uint32   `json:"counter"`
	Transports []string `json:"transports"`
}

type fakeParser struct{}

func (fakeParser) decode(data []byte) (fakeResponse, []byte, error) {
	var resp fakeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fakeResponse{}, nil, err
	}
	if resp.ID == "" {
		return fakeResponse{}, nil, errors.New("missing id")
	}
	return resp, []byte(resp.ID), nil
}

func (p fakeParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	resp, rawID, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(resp.Transports))
	for _, t := range resp.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	parsed := &protocol.ParsedCredentialCreationData{}
	parsed.ID = base64.RawURLEncoding.EncodeToString(rawID)
	parsed.RawID = rawID
	parsed.Response.CollectedClientData.Challenge = resp.Challenge
	parsed.Response.Transports = transports
	return parsed, nil
}

func (p fakeParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	resp, rawID, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.ID = base64.RawURLEncoding.EncodeToString(rawID)
	parsed.RawID = rawID
	parsed.Response.CollectedClientData.Challenge = resp.Challenge
	parsed.Response.AuthenticatorData.Counter = resp.Counter
	return parsed, nil
}

func credentialJSON(t *testing.T, id, challenge string, counter uint32, transports ...string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fakeResponse{ID: id, Challenge: challenge, Counter: counter, Transports: transports})
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	return raw
}

func emailJSON(email string) json.RawMessage {
	raw, _ := json.Marshal(email)
	return raw
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	provider *fakeProvider
	clock    *testClock
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

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	conn := openTestDB(t)
	provider := &fakeProvider{}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if opts.RPID == "" {
		opts.RPID = "localhost"
	}
	svc := NewService(conn, provider, opts)
	svc.parser = fakeParser{}
	svc.clock = clock.Now
	return &testEnv{db: conn, svc: svc, provider: provider, clock: clock}
}

func (e *testEnv) loadAdmin(t *testing.T, email string) models.Admin {
	t.Helper()
	var admin models.Admin
	if errFind := e.db.Where("email = ?", email).First(&admin).Error; errFind != nil {
		t.Fatalf("load admin %s: %v", email, errFind)
	}
	return admin
}

func (e *testEnv) credentials(t *testing.T, adminID uint64) []models.Credential {
	t.Helper()
	var creds []models.Credential
	if errFind := e.db.Where("admin_id = ?", adminID).Order("id ASC").Find(&creds).Error; errFind != nil {
		t.Fatalf("load credentials: %v", errFind)
	}
	return creds
}

// register runs both registration steps for email with credential id rawID.
func (e *testEnv) register(t *testing.T, email, rawID string, actor uint64) models.Admin {
	t.Helper()
	creation, errBegin := e.svc.BeginRegistration(t.Context(), BeginRegistrationInput{Email: emailJSON(email), ActorAdminID: actor})
	if errBegin != nil {
		t.Fatalf("begin registration: %v", errBegin)
	}
	errFinish := e.svc.FinishRegistration(t.Context(), FinishRegistrationInput{
		Email:      emailJSON(email),
		Credential: credentialJSON(t, rawID, string(creation.Response.Challenge), 0, "usb"),
		DeviceName: "Key " + rawID,
	})
	if errFinish != nil {
		t.Fatalf("finish registration: %v", errFinish)
	}
	return e.loadAdmin(t, email)
}

func (e *testEnv) setActive(t *testing.T, adminID uint64, active bool) {
	t.Helper()
	if errUpdate := e.db.Model(&models.Admin{}).Where("id = ?", adminID).Update("active", active).Error; errUpdate != nil {
		t.Fatalf("set active: %v", errUpdate)
	}
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var pkErr *Error
	if !errors.As(err, &pkErr) {
		t.Fatalf("expected *passkey.Error, got %T: %v", err, err)
	}
	if pkErr.Kind != kind {
		t.Fatalf("error kind = %s (%q), want %s", pkErr.Kind, pkErr.Message, kind)
	}
	return pkErr
}
