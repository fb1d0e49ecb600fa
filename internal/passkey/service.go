package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/linkshelf/storefront/internal/metrics"
	"github.com/linkshelf/storefront/internal/models"
	"github.com/linkshelf/storefront/internal/security"
	"github.com/linkshelf/storefront/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Defaults applied when Options leaves a duration unset.
const (
	DefaultChallengeTTL = 5 * time.Minute
	DefaultInviteTTL    = 72 * time.Hour
)

// Options configures the ceremonies.
type Options struct {
	// RPID is the relying party ID the provider verifies against.
	RPID          string
	ChallengeTTL  time.Duration
	RequireInvite bool
	InviteTTL     time.Duration
}

// Service runs the admin passkey ceremonies and credential management.
type Service struct {
	store    *Store
	provider Provider
	parser   Parser
	opts     Options
	clock    func() time.Time
}

// NewService builds a Service over db using provider for ceremony verification.
func NewService(db *gorm.DB, provider Provider, opts Options) *Service {
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = DefaultChallengeTTL
	}
	if opts.InviteTTL <= 0 {
		opts.InviteTTL = DefaultInviteTTL
	}
	return &Service{
		store:    NewStore(db),
		provider: provider,
		parser:   defaultParser{},
		opts:     opts,
		clock:    time.Now,
	}
}

// Store exposes the persistence layer, used by the janitor.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// AdminProfile is the public view of an admin. It never carries credential or challenge data.
type AdminProfile struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func profileOf(admin models.Admin) AdminProfile {
	return AdminProfile{ID: admin.ID, Email: admin.Email, Name: admin.Name, Role: admin.Role}
}

// CredentialSummary is the display view of a credential.
type CredentialSummary struct {
	ID         uint64     `json:"id"`
	DeviceName string     `json:"deviceName"`
	Transports []string   `json:"transports"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// BeginRegistrationInput is the register/options request.
type BeginRegistrationInput struct {
	Email       json.RawMessage
	InviteToken string
	// ActorAdminID is the admin of the calling session, or 0 when anonymous.
	ActorAdminID uint64
}

// FinishRegistrationInput is the register/verify request.
type FinishRegistrationInput struct {
	Email      json.RawMessage
	Credential json.RawMessage
	DeviceName string
}

// FinishAuthenticationInput is the authenticate/verify request.
type FinishAuthenticationInput struct {
	Email      json.RawMessage
	Credential json.RawMessage
}

// InviteResult is returned once when an invite is created. Token is not stored in clear.
type InviteResult struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func observe(ceremony, stage string, err error) {
	result := "ok"
	if err != nil {
		result = AsError(err).Kind.String()
	}
	metrics.ObserveCeremony(ceremony, stage, result)
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// BeginRegistration looks up or provisions the admin and issues a registration challenge.
func (s *Service) BeginRegistration(ctx context.Context, in BeginRegistrationInput) (_ *protocol.CredentialCreation, err error) {
	defer func() { observe(metrics.CeremonyRegistration, metrics.StageBegin, err) }()

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()

	invite, err := s.matchInvite(ctx, email, in.InviteToken, now)
	if err != nil {
		return nil, err
	}

	admin, errFind := s.store.AdminByEmail(ctx, email)
	switch {
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		if s.opts.RequireInvite && invite == nil {
			return nil, s.refuseUninvited(email)
		}
		admin, err = s.provisionAdmin(ctx, email, invite)
		if err != nil {
			return nil, err
		}
	case errFind != nil:
		return nil, internalError(fmt.Errorf("find admin: %w", errFind))
	}
	if !admin.Active {
		return nil, newError(KindForbidden, MsgAccountDisabled, nil)
	}

	creds, errCreds := s.store.Credentials(ctx, admin.ID)
	if errCreds != nil {
		return nil, internalError(fmt.Errorf("list credentials: %w", errCreds))
	}
	if len(creds) > 0 && in.ActorAdminID != admin.ID {
		return nil, newError(KindForbidden, MsgSignInToAddKey, nil)
	}
	// An admin without keys is still unclaimed, so the invite gate applies to every
	// begin call until the first key is stored.
	if len(creds) == 0 && s.opts.RequireInvite && invite == nil {
		return nil, s.refuseUninvited(email)
	}

	user := newAdminUser(admin, creds)
	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, errBegin := s.provider.BeginRegistration(user, options...)
	if errBegin != nil {
		return nil, internalError(fmt.Errorf("begin registration: %w", errBegin))
	}
	if err = s.issueChallenge(ctx, admin.ID, models.ChallengeRegistration, session, now); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies an attestation against the outstanding registration
// challenge and stores the new credential. The challenge is cleared on every outcome.
func (s *Service) FinishRegistration(ctx context.Context, in FinishRegistrationInput) (err error) {
	defer func() { observe(metrics.CeremonyRegistration, metrics.StageFinish, err) }()

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return err
	}
	if isEmptyJSON(in.Credential) {
		return validationError(MsgCredentialRequired)
	}
	now := s.now()

	admin, errFind := s.store.AdminByEmail(ctx, email)
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return newError(KindState, MsgRegistrationExpired, nil)
		}
		return internalError(fmt.Errorf("find admin: %w", errFind))
	}

	pending, ok := s.takeChallenge(ctx, admin, models.ChallengeRegistration, now)
	if !ok {
		return newError(KindState, MsgRegistrationExpired, nil)
	}
	defer s.clearChallenge(ctx, admin.ID, pending.Value)

	if !admin.Active {
		return newError(KindForbidden, MsgAccountDisabled, nil)
	}

	parsed, errParse := s.parser.ParseCredentialCreationResponseBytes(in.Credential)
	if errParse != nil {
		return newError(KindVerification, MsgRegistrationFailed, errParse)
	}

	creds, errCreds := s.store.Credentials(ctx, admin.ID)
	if errCreds != nil {
		return internalError(fmt.Errorf("list credentials: %w", errCreds))
	}
	user := newAdminUser(admin, creds)
	session := webauthn.SessionData{
		Challenge:        pending.Value,
		RelyingPartyID:   s.opts.RPID,
		UserID:           user.WebAuthnID(),
		Expires:          pending.ExpiresAt,
		UserVerification: protocol.VerificationPreferred,
		CredParams:       webauthn.CredentialParametersDefault(),
	}

	credential, errVerify := s.provider.CreateCredential(user, session, parsed)
	if errVerify != nil {
		log.WithError(errVerify).WithField("admin_id", admin.ID).Warn("passkey registration verification failed")
		return newError(KindVerification, MsgRegistrationFailed, errVerify)
	}
	if credential == nil || len(credential.ID) == 0 {
		return internalError(errors.New("verified credential has no id"))
	}

	row, errRow := newCredentialRow(admin.ID, credential, SanitizeDeviceName(in.DeviceName))
	if errRow != nil {
		return internalError(errRow)
	}
	if errAdd := s.store.AddCredential(ctx, &row, email, now); errAdd != nil {
		if errors.Is(errAdd, ErrDuplicateCredential) {
			return newError(KindState, MsgCredentialExists, errAdd)
		}
		return internalError(fmt.Errorf("store credential: %w", errAdd))
	}

	log.WithFields(log.Fields{"admin_id": admin.ID, "credential": row.ID}).Info("passkey registered")
	return nil
}

// BeginAuthentication issues an authentication challenge scoped to the admin's credentials.
func (s *Service) BeginAuthentication(ctx context.Context, rawEmail json.RawMessage) (_ *protocol.CredentialAssertion, err error) {
	defer func() { observe(metrics.CeremonyAuthentication, metrics.StageBegin, err) }()

	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	now := s.now()

	admin, errFind := s.store.AdminByEmail(ctx, email)
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, MsgAdminNotFound, nil)
		}
		return nil, internalError(fmt.Errorf("find admin: %w", errFind))
	}
	if !admin.Active {
		return nil, newError(KindForbidden, MsgAccountDisabled, nil)
	}

	creds, errCreds := s.store.Credentials(ctx, admin.ID)
	if errCreds != nil {
		return nil, internalError(fmt.Errorf("list credentials: %w", errCreds))
	}
	user := newAdminUser(admin, creds)
	if len(user.credentials) == 0 {
		return nil, newError(KindState, MsgNoCredentials, nil)
	}

	assertion, session, errBegin := s.provider.BeginLogin(user, webauthn.WithUserVerification(protocol.VerificationPreferred))
	if errBegin != nil {
		return nil, internalError(fmt.Errorf("begin login: %w", errBegin))
	}
	if err = s.issueChallenge(ctx, admin.ID, models.ChallengeAuthentication, session, now); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishAuthentication verifies an assertion against the outstanding authentication
// challenge, advances the credential counter and returns the admin profile. The
// challenge is cleared on every outcome.
func (s *Service) FinishAuthentication(ctx context.Context, in FinishAuthenticationInput) (_ AdminProfile, err error) {
	defer func() { observe(metrics.CeremonyAuthentication, metrics.StageFinish, err) }()

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return AdminProfile{}, err
	}
	if isEmptyJSON(in.Credential) {
		return AdminProfile{}, validationError(MsgCredentialRequired)
	}
	now := s.now()

	admin, errFind := s.store.AdminByEmail(ctx, email)
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return AdminProfile{}, newError(KindState, MsgAuthenticationExpired, nil)
		}
		return AdminProfile{}, internalError(fmt.Errorf("find admin: %w", errFind))
	}

	pending, ok := s.takeChallenge(ctx, admin, models.ChallengeAuthentication, now)
	if !ok {
		return AdminProfile{}, newError(KindState, MsgAuthenticationExpired, nil)
	}
	defer s.clearChallenge(ctx, admin.ID, pending.Value)

	if !admin.Active {
		return AdminProfile{}, newError(KindForbidden, MsgAccountDisabled, nil)
	}

	parsed, errParse := s.parser.ParseCredentialRequestResponseBytes(in.Credential)
	if errParse != nil {
		return AdminProfile{}, newError(KindVerification, MsgAuthenticationFailed, errParse)
	}

	creds, errCreds := s.store.Credentials(ctx, admin.ID)
	if errCreds != nil {
		return AdminProfile{}, internalError(fmt.Errorf("list credentials: %w", errCreds))
	}
	stored, found := findCredential(creds, parsed.RawID)
	if !found {
		return AdminProfile{}, newError(KindState, MsgCredentialNotFound, nil)
	}

	user := newAdminUser(admin, creds)
	allowed := make([][]byte, 0, len(user.credentials))
	for _, cred := range user.credentials {
		allowed = append(allowed, cred.ID)
	}
	session := webauthn.SessionData{
		Challenge:            pending.Value,
		RelyingPartyID:       s.opts.RPID,
		UserID:               user.WebAuthnID(),
		AllowedCredentialIDs: allowed,
		Expires:              pending.ExpiresAt,
		UserVerification:     protocol.VerificationPreferred,
	}

	validated, errVerify := s.provider.ValidateLogin(user, session, parsed)
	if errVerify != nil {
		log.WithError(errVerify).WithField("admin_id", admin.ID).Warn("passkey authentication failed")
		return AdminProfile{}, newError(KindVerification, MsgAuthenticationFailed, errVerify)
	}
	if validated == nil {
		return AdminProfile{}, internalError(errors.New("validated credential is nil"))
	}

	reported := parsed.Response.AuthenticatorData.Counter
	if validated.Authenticator.CloneWarning || counterRegressed(stored.SignCount, reported) {
		log.WithFields(log.Fields{
			"admin_id":     admin.ID,
			"credential":   stored.ID,
			"stored_count": stored.SignCount,
			"new_count":    reported,
		}).Warn("passkey signature counter regressed, possible cloned authenticator")
		return AdminProfile{}, newError(KindVerification, MsgAuthenticationFailed, ErrCounterRegressed)
	}

	errRecord := s.store.RecordAuthentication(ctx, admin.ID, stored.ID, reported, validated.Flags.BackupState, now)
	if errRecord != nil {
		if errors.Is(errRecord, ErrCounterRegressed) {
			return AdminProfile{}, newError(KindVerification, MsgAuthenticationFailed, errRecord)
		}
		return AdminProfile{}, internalError(fmt.Errorf("record authentication: %w", errRecord))
	}

	log.WithFields(log.Fields{"admin_id": admin.ID, "credential": stored.ID}).Info("admin authenticated with passkey")
	return profileOf(admin), nil
}

// counterRegressed reports whether a reported signature counter fails to advance.
// Authenticators that always report zero are accepted.
func counterRegressed(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}

func findCredential(creds []models.Credential, rawID []byte) (models.Credential, bool) {
	if len(rawID) == 0 {
		return models.Credential{}, false
	}
	encoded := encodeCredentialID(rawID)
	for _, cred := range creds {
		if cred.CredentialID == encoded {
			return cred, true
		}
	}
	return models.Credential{}, false
}

func newCredentialRow(adminID uint64, credential *webauthn.Credential, deviceName string) (models.Credential, error) {
	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}
	encodedTransports, errMarshal := json.Marshal(transports)
	if errMarshal != nil {
		return models.Credential{}, fmt.Errorf("encode transports: %w", errMarshal)
	}
	return models.Credential{
		AdminID:         adminID,
		CredentialID:    encodeCredentialID(credential.ID),
		PublicKey:       credential.PublicKey,
		SignCount:       credential.Authenticator.SignCount,
		Transports:      datatypes.JSON(encodedTransports),
		DeviceName:      deviceName,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}, nil
}

// issueChallenge persists the challenge produced by the provider.
func (s *Service) issueChallenge(ctx context.Context, adminID uint64, kind models.ChallengeKind, session *webauthn.SessionData, now time.Time) error {
	if session == nil || strings.TrimSpace(session.Challenge) == "" {
		return internalError(errors.New("provider returned no challenge"))
	}
	pending := models.PendingChallenge{
		Value:     session.Challenge,
		Kind:      kind,
		ExpiresAt: now.Add(s.opts.ChallengeTTL),
	}
	if errSet := s.store.SetChallenge(ctx, adminID, pending, now); errSet != nil {
		return internalError(fmt.Errorf("store challenge: %w", errSet))
	}
	return nil
}

// takeChallenge returns the admin's active challenge of the given kind. Any challenge
// state that cannot be redeemed by this ceremony is cleared.
func (s *Service) takeChallenge(ctx context.Context, admin models.Admin, kind models.ChallengeKind, now time.Time) (models.PendingChallenge, bool) {
	pending, ok := admin.ActiveChallenge(now)
	if !ok {
		if admin.HasChallengeState() {
			if errClear := s.store.ClearStaleChallenge(context.WithoutCancel(ctx), admin.ID, now); errClear != nil {
				log.WithError(errClear).WithField("admin_id", admin.ID).Warn("clear stale challenge failed")
			}
		}
		return models.PendingChallenge{}, false
	}
	if pending.Kind != kind {
		s.clearChallenge(ctx, admin.ID, pending.Value)
		return models.PendingChallenge{}, false
	}
	return pending, true
}

func (s *Service) clearChallenge(ctx context.Context, adminID uint64, value string) {
	if errClear := s.store.ClearChallenge(context.WithoutCancel(ctx), adminID, value); errClear != nil {
		log.WithError(errClear).WithField("admin_id", adminID).Warn("clear challenge failed")
	}
}

// matchInvite resolves an invite token for email. An empty token yields no invite.
func (s *Service) matchInvite(ctx context.Context, email, token string, now time.Time) (*models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	invites, errFind := s.store.UsableInvites(ctx, email, now)
	if errFind != nil {
		return nil, internalError(fmt.Errorf("find invites: %w", errFind))
	}
	for i := range invites {
		if security.CheckInviteToken(invites[i].TokenHash, token) {
			return &invites[i], nil
		}
	}
	return nil, newError(KindForbidden, MsgInviteInvalid, nil)
}

func (s *Service) refuseUninvited(email string) error {
	log.WithField("email", util.MaskEmail(email)).Warn("registration without invite refused")
	return newError(KindForbidden, MsgInviteRequired, nil)
}

func (s *Service) provisionAdmin(ctx context.Context, email string, invite *models.Invite) (models.Admin, error) {
	role := models.RoleAdmin
	if invite != nil && strings.TrimSpace(invite.Role) != "" {
		role = invite.Role
	}
	admin := models.Admin{
		Email:  email,
		Name:   nameFromEmail(email),
		Role:   role,
		Active: true,
	}
	if errCreate := s.store.CreateAdmin(ctx, &admin); errCreate != nil {
		return models.Admin{}, internalError(fmt.Errorf("create admin: %w", errCreate))
	}
	log.WithFields(log.Fields{"admin_id": admin.ID, "role": admin.Role, "email": util.MaskEmail(email)}).Info("admin provisioned")
	return admin, nil
}

// Profile returns the profile of an active admin, used to validate sessions.
func (s *Service) Profile(ctx context.Context, adminID uint64) (AdminProfile, error) {
	admin, errFind := s.store.AdminByID(ctx, adminID)
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return AdminProfile{}, newError(KindUnauthorized, MsgUnauthorized, nil)
		}
		return AdminProfile{}, internalError(fmt.Errorf("find admin: %w", errFind))
	}
	if !admin.Active {
		return AdminProfile{}, newError(KindForbidden, MsgAccountDisabled, nil)
	}
	return profileOf(admin), nil
}

// ListCredentials lists the admin's credentials for display.
func (s *Service) ListCredentials(ctx context.Context, adminID uint64) ([]CredentialSummary, error) {
	creds, errFind := s.store.Credentials(ctx, adminID)
	if errFind != nil {
		return nil, internalError(fmt.Errorf("list credentials: %w", errFind))
	}
	out := make([]CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		out = append(out, CredentialSummary{
			ID:         cred.ID,
			DeviceName: cred.DeviceName,
			Transports: cred.TransportList(),
			LastUsedAt: cred.LastUsedAt,
			CreatedAt:  cred.CreatedAt,
		})
	}
	return out, nil
}

// DeleteCredential removes one of the admin's own credentials, keeping at least one.
func (s *Service) DeleteCredential(ctx context.Context, adminID, credentialID uint64) error {
	errDelete := s.store.DeleteCredential(ctx, adminID, credentialID)
	switch {
	case errDelete == nil:
		log.WithFields(log.Fields{"admin_id": adminID, "credential": credentialID}).Info("passkey deleted")
		return nil
	case errors.Is(errDelete, ErrCredentialNotFound):
		return newError(KindNotFound, MsgCredentialNotFound, nil)
	case errors.Is(errDelete, ErrLastCredential):
		return newError(KindState, MsgLastCredential, nil)
	default:
		return internalError(fmt.Errorf("delete credential: %w", errDelete))
	}
}

// RenameCredential relabels one of the admin's own credentials and returns the stored label.
func (s *Service) RenameCredential(ctx context.Context, adminID, credentialID uint64, name string) (string, error) {
	label := SanitizeDeviceName(name)
	errRename := s.store.RenameCredential(ctx, adminID, credentialID, label, s.now())
	switch {
	case errRename == nil:
		return label, nil
	case errors.Is(errRename, ErrCredentialNotFound):
		return "", newError(KindNotFound, MsgCredentialNotFound, nil)
	default:
		return "", internalError(fmt.Errorf("rename credential: %w", errRename))
	}
}

// CreateInvite issues an invite for email. Only owners may invite owners.
func (s *Service) CreateInvite(ctx context.Context, actorID uint64, rawEmail json.RawMessage, role string) (InviteResult, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return InviteResult{}, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = models.RoleAdmin
	}
	if role != models.RoleAdmin && role != models.RoleOwner {
		return InviteResult{}, validationError("Role must be admin or owner")
	}

	actor, err := s.Profile(ctx, actorID)
	if err != nil {
		return InviteResult{}, err
	}
	if role == models.RoleOwner && actor.Role != models.RoleOwner {
		return InviteResult{}, newError(KindForbidden, "Only owners can invite owners", nil)
	}

	token, errToken := security.GenerateInviteToken()
	if errToken != nil {
		return InviteResult{}, internalError(errToken)
	}
	hash, errHash := security.HashInviteToken(token)
	if errHash != nil {
		return InviteResult{}, internalError(fmt.Errorf("hash invite token: %w", errHash))
	}

	now := s.now()
	invite := models.Invite{
		Email:     email,
		TokenHash: hash,
		Role:      role,
		CreatedBy: &actorID,
		ExpiresAt: now.Add(s.opts.InviteTTL),
	}
	if errCreate := s.store.CreateInvite(ctx, &invite); errCreate != nil {
		return InviteResult{}, internalError(fmt.Errorf("create invite: %w", errCreate))
	}
	log.WithFields(log.Fields{"admin_id": actorID, "invite": invite.ID, "role": role}).Info("admin invite created")
	return InviteResult{Token: token, Email: email, Role: role, ExpiresAt: invite.ExpiresAt}, nil
}
