// Package vault owns the encrypted calendar credentials. It is the only
// package that sees plaintext tokens; everyone else gets a ready gcal.API.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/Alijeyrad/simorq_calendar/config"
	"github.com/Alijeyrad/simorq_calendar/internal/repo"
	"github.com/Alijeyrad/simorq_calendar/pkg/crypto"
	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
	"github.com/Alijeyrad/simorq_calendar/pkg/logs"
	"github.com/Alijeyrad/simorq_calendar/pkg/util/codes"
)

const (
	stateTTL         = 10 * time.Minute
	defaultSkew      = 5 * time.Minute
	errInvalidGrant  = "invalid_grant"
	stateTokenLength = 24
)

// ProviderFactory builds a provider client over a token source.
type ProviderFactory func(ctx context.Context, ts oauth2.TokenSource) (gcal.API, error)

// GoogleProvider is the production ProviderFactory.
func GoogleProvider(ctx context.Context, ts oauth2.TokenSource) (gcal.API, error) {
	return gcal.New(ctx, oauth2.NewClient(context.WithoutCancel(ctx), ts))
}

// OAuthConfig builds the Google OAuth client configuration.
func OAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{calendar.CalendarScope}
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

type Vault interface {
	// AuthURL starts the consent flow for a practitioner.
	AuthURL(ctx context.Context, practitionerID uuid.UUID) (string, error)
	// Exchange completes the flow and stores the encrypted credentials.
	Exchange(ctx context.Context, state, code string) (*repo.CalendarSync, error)
	// Client returns a provider client with a fresh access token, refreshing
	// and persisting the pair first when it is about to expire.
	Client(ctx context.Context, practitionerID uuid.UUID) (gcal.API, *repo.CalendarSync, error)
}

type Deps struct {
	DB       *repo.Client
	OAuth    *oauth2.Config
	States   StateStore
	Provider ProviderFactory
	// Key is the 32-byte AES-256 key.
	Key []byte
}

type vaultService struct {
	Deps
	skew time.Duration
	now  func() time.Time
}

func New(d Deps, cfg config.CalendarSyncConfig) Vault {
	if d.Provider == nil {
		d.Provider = GoogleProvider
	}
	skew := cfg.TokenRefreshSkew()
	if skew <= 0 {
		skew = defaultSkew
	}
	return &vaultService{Deps: d, skew: skew, now: time.Now}
}

func (v *vaultService) configured() bool {
	return v.OAuth != nil && v.OAuth.ClientID != "" && len(v.Key) == 32
}

func (v *vaultService) AuthURL(ctx context.Context, practitionerID uuid.UUID) (string, error) {
	if !v.configured() {
		return "", ErrNotConfigured
	}
	state, err := codes.GenerateURLSafeToken(stateTokenLength)
	if err != nil {
		return "", err
	}
	if err := v.States.Put(ctx, state, practitionerID, stateTTL); err != nil {
		return "", err
	}
	return v.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (v *vaultService) Exchange(ctx context.Context, state, code string) (*repo.CalendarSync, error) {
	if !v.configured() {
		return nil, ErrNotConfigured
	}
	practitionerID, err := v.States.Take(ctx, state)
	if err != nil {
		return nil, err
	}

	tok, err := v.OAuth.Exchange(ctx, code)
	if err != nil {
		slog.WarnContext(ctx, "oauth code exchange failed", logs.Practitioner(practitionerID), logs.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationError, err)
	}

	existing, err := v.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil && !repo.IsNotFound(err) {
		return nil, fmt.Errorf("get calendar sync: %w", err)
	}

	refresh := tok.RefreshToken
	if refresh == "" && existing != nil && existing.HasCredentials() {
		refresh, err = crypto.Decrypt(v.Key, existing.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	if refresh == "" {
		return nil, ErrNoRefreshToken
	}

	api, err := v.Provider(ctx, v.OAuth.TokenSource(ctx, tok))
	if err != nil {
		return nil, err
	}
	primary, err := api.PrimaryCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read primary calendar: %v", ErrAuthorizationError, err)
	}

	s := existing
	if s == nil {
		s = &repo.CalendarSync{
			PractitionerID: practitionerID,
			SyncDirection:  repo.DirectionTwoWay,
			PrivacyLevel:   repo.PrivacyBusyOnly,
		}
	}
	if s.EncryptedAccessToken, err = crypto.Encrypt(v.Key, tok.AccessToken); err != nil {
		return nil, err
	}
	if s.EncryptedRefreshToken, err = crypto.Encrypt(v.Key, refresh); err != nil {
		return nil, err
	}
	s.TokenExpiry = tok.Expiry
	s.ExternalCalendarID = primary.ID
	s.ConnectedEmail = primary.ID
	s.SyncEnabled = true
	s.NeedsReauth = false

	if err := v.DB.CalendarSync.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("save calendar sync: %w", err)
	}
	slog.InfoContext(ctx, "calendar connected", logs.Practitioner(practitionerID), "calendar", primary.ID)
	return v.DB.CalendarSync.Get(ctx, practitionerID)
}

func (v *vaultService) Client(ctx context.Context, practitionerID uuid.UUID) (gcal.API, *repo.CalendarSync, error) {
	s, err := v.DB.CalendarSync.Get(ctx, practitionerID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil, ErrNotConnected
		}
		return nil, nil, fmt.Errorf("get calendar sync: %w", err)
	}
	if s.NeedsReauth {
		return nil, s, ErrReconnectRequired
	}
	if !s.HasCredentials() {
		return nil, s, ErrNotConnected
	}
	if len(v.Key) != 32 {
		return nil, s, ErrNotConfigured
	}

	tok, err := v.token(s)
	if err != nil {
		return nil, s, err
	}
	if !tok.Expiry.IsZero() && tok.Expiry.Before(v.now().Add(v.skew)) {
		if tok, err = v.refresh(ctx, s, tok.RefreshToken); err != nil {
			return nil, s, err
		}
	}

	api, err := v.Provider(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, s, err
	}
	return api, s, nil
}

func (v *vaultService) token(s *repo.CalendarSync) (*oauth2.Token, error) {
	access, err := crypto.Decrypt(v.Key, s.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := crypto.Decrypt(v.Key, s.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       s.TokenExpiry,
	}, nil
}

// refresh makes one refresh attempt. A rejected refresh token disables sync
// until the practitioner reconnects.
func (v *vaultService) refresh(ctx context.Context, s *repo.CalendarSync, refreshToken string) (*oauth2.Token, error) {
	if v.OAuth == nil {
		return nil, ErrNotConfigured
	}
	tok, err := v.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == errInvalidGrant {
			if derr := v.DB.CalendarSync.DisableSync(ctx, s.PractitionerID, true); derr != nil {
				slog.ErrorContext(ctx, "disable sync after revoked grant", logs.Practitioner(s.PractitionerID), logs.Err(derr))
			}
			slog.WarnContext(ctx, "calendar grant revoked", logs.Practitioner(s.PractitionerID))
			return nil, ErrReconnectRequired
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	access, err := crypto.Encrypt(v.Key, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := crypto.Encrypt(v.Key, tok.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := v.DB.CalendarSync.UpdateCredentials(ctx, s.PractitionerID, access, refresh, tok.Expiry); err != nil {
		return nil, fmt.Errorf("save refreshed credentials: %w", err)
	}
	return tok, nil
}
