package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// ServiceScope defines the OAuth scopes for each service
type ServiceScope string

const (
	ServiceCalendar ServiceScope = "calendar"
)

var (
	// CalendarScopes: read-only calendar access plus the account email, which
	// becomes the user id.
	CalendarScopes = []string{
		calendar.CalendarReadonlyScope,
		oauth2api.UserinfoEmailScope,
	}

	// ErrNoToken is returned when no token is stored for a user and service.
	ErrNoToken = errors.New("no oauth token stored")
	// ErrInvalidState is returned for unknown, expired or mismatched OAuth states.
	ErrInvalidState = errors.New("invalid or expired state parameter")
)

const (
	stateTTL = 10 * time.Minute
	tokenTTL = 30 * 24 * time.Hour
)

// TokenInfo represents stored OAuth token information
type TokenInfo struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	Expiry       time.Time    `json:"expiry"`
	Service      ServiceScope `json:"service"`
	UserID       string       `json:"user_id"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TokenStore manages OAuth tokens using Redis
type TokenStore struct {
	redisClient  *redis.Client
	oauthConfigs map[ServiceScope]*oauth2.Config
	logger       zerolog.Logger
}

// NewTokenStore creates a new token store
func NewTokenStore(redisClient *redis.Client, logger zerolog.Logger) *TokenStore {
	return &TokenStore{
		redisClient:  redisClient,
		oauthConfigs: make(map[ServiceScope]*oauth2.Config),
		logger:       logger.With().Str("component", "token_store").Logger(),
	}
}

// ConfigureService sets up OAuth configuration for a service. A zero endpoint
// means Google's.
func (ts *TokenStore) ConfigureService(service ServiceScope, clientID, clientSecret, redirectURL string, scopes []string, endpoint oauth2.Endpoint) {
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	ts.oauthConfigs[service] = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
	ts.logger.Info().Str("service", string(service)).Int("scopes", len(scopes)).Msg("configured oauth service")
}

// Configured reports whether OAuth is set up for service.
func (ts *TokenStore) Configured(service ServiceScope) bool {
	_, ok := ts.oauthConfigs[service]
	return ok
}

func (ts *TokenStore) config(service ServiceScope) (*oauth2.Config, error) {
	config, exists := ts.oauthConfigs[service]
	if !exists {
		return nil, fmt.Errorf("OAuth config not found for service: %s", service)
	}
	return config, nil
}

// GetAuthURL generates an OAuth authorization URL. The state is kept in Redis
// for ten minutes and bound to userID, which may be a pending placeholder
// until the account email is known.
func (ts *TokenStore) GetAuthURL(ctx context.Context, service ServiceScope, userID string) (string, string, error) {
	config, err := ts.config(service)
	if err != nil {
		return "", "", err
	}

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	pipe := ts.redisClient.TxPipeline()
	pipe.Set(ctx, stateKey(userID, state), string(service), stateTTL)
	pipe.Set(ctx, stateUserKey(state), userID, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", "", fmt.Errorf("failed to store OAuth state: %w", err)
	}

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return authURL, state, nil
}

// ExchangeCode verifies and consumes state, then exchanges the authorization
// code. The token is not stored; callers store it once the owner is known.
func (ts *TokenStore) ExchangeCode(ctx context.Context, service ServiceScope, code, state string) (*oauth2.Token, error) {
	userID, err := ts.ResolveUserIDFromState(ctx, state)
	if err != nil {
		return nil, err
	}
	defer ts.redisClient.Del(ctx, stateKey(userID, state), stateUserKey(state))

	storedService, err := ts.redisClient.Get(ctx, stateKey(userID, state)).Result()
	if err == redis.Nil {
		return nil, ErrInvalidState
	} else if err != nil {
		return nil, fmt.Errorf("failed to verify state: %w", err)
	}
	if ServiceScope(storedService) != service {
		return nil, fmt.Errorf("state parameter service mismatch: %w", ErrInvalidState)
	}

	config, err := ts.config(service)
	if err != nil {
		return nil, err
	}
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

// ResolveUserIDFromState returns the user ID associated with an OAuth state token
func (ts *TokenStore) ResolveUserIDFromState(ctx context.Context, state string) (string, error) {
	userID, err := ts.redisClient.Get(ctx, stateUserKey(state)).Result()
	if err == redis.Nil {
		return "", ErrInvalidState
	} else if err != nil {
		return "", fmt.Errorf("failed to resolve OAuth state: %w", err)
	}
	return userID, nil
}

// StoreToken stores OAuth token information
func (ts *TokenStore) StoreToken(ctx context.Context, service ServiceScope, userID string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if userID == "" {
		return fmt.Errorf("userID is required to store a token")
	}

	now := Now()
	createdAt := now
	if existing, err := ts.getTokenInfo(ctx, service, userID); err == nil {
		createdAt = existing.CreatedAt
		// Google omits the refresh token on re-consent; keep the one we have.
		if token.RefreshToken == "" {
			token.RefreshToken = existing.RefreshToken
		}
	}

	tokenInfo := &TokenInfo{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Service:      service,
		UserID:       userID,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}

	tokenData, err := json.Marshal(tokenInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}

	if err := ts.redisClient.Set(ctx, tokenKey(userID, service), tokenData, tokenTTL).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}

	ts.logger.Info().Str("user_id", userID).Str("service", string(service)).Msg("stored oauth token")
	return nil
}

func (ts *TokenStore) getTokenInfo(ctx context.Context, service ServiceScope, userID string) (*TokenInfo, error) {
	tokenData, err := ts.redisClient.Get(ctx, tokenKey(userID, service)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("user %s, service %s: %w", userID, service, ErrNoToken)
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve token: %w", err)
	}

	var tokenInfo TokenInfo
	if err := json.Unmarshal(tokenData, &tokenInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}
	return &tokenInfo, nil
}

// GetToken retrieves OAuth token for a user and service
func (ts *TokenStore) GetToken(ctx context.Context, service ServiceScope, userID string) (*oauth2.Token, error) {
	tokenInfo, err := ts.getTokenInfo(ctx, service, userID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tokenInfo.AccessToken,
		RefreshToken: tokenInfo.RefreshToken,
		TokenType:    tokenInfo.TokenType,
		Expiry:       tokenInfo.Expiry,
	}, nil
}

// RefreshToken refreshes an expired OAuth token
func (ts *TokenStore) RefreshToken(ctx context.Context, service ServiceScope, userID string) (*oauth2.Token, error) {
	config, err := ts.config(service)
	if err != nil {
		return nil, err
	}

	currentToken, err := ts.GetToken(ctx, service, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get current token: %w", err)
	}
	if currentToken.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available for user %s, service %s", userID, service)
	}

	// Force the cached token to be considered expired so the TokenSource actually refreshes.
	if currentToken.Expiry.After(Now()) {
		currentToken.Expiry = Now().Add(-1 * time.Minute)
	}

	newToken, err := config.TokenSource(ctx, currentToken).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if err := ts.StoreToken(ctx, service, userID, newToken); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	ts.logger.Info().Str("user_id", userID).Str("service", string(service)).Msg("refreshed oauth token")
	return newToken, nil
}

// GetValidToken returns a valid token, refreshing if necessary
func (ts *TokenStore) GetValidToken(ctx context.Context, service ServiceScope, userID string) (*oauth2.Token, error) {
	token, err := ts.GetToken(ctx, service, userID)
	if err != nil {
		return nil, err
	}

	// Check if token is expired or will expire within 5 minutes
	if token.Expiry.Before(Now().Add(5 * time.Minute)) {
		ts.logger.Debug().Str("user_id", userID).Str("service", string(service)).Msg("token near expiry, refreshing")
		return ts.RefreshToken(ctx, service, userID)
	}
	return token, nil
}

// DeleteToken removes stored token for a user and service
func (ts *TokenStore) DeleteToken(ctx context.Context, service ServiceScope, userID string) error {
	if err := ts.redisClient.Del(ctx, tokenKey(userID, service)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	ts.logger.Info().Str("user_id", userID).Str("service", string(service)).Msg("deleted oauth token")
	return nil
}

// ListUserServices returns all services for which user has tokens
func (ts *TokenStore) ListUserServices(ctx context.Context, userID string) ([]ServiceScope, error) {
	prefix := fmt.Sprintf("oauth_token:%s:", userID)
	keys, err := ts.scan(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list user tokens: %w", err)
	}

	var services []ServiceScope
	for _, key := range keys {
		services = append(services, ServiceScope(strings.TrimPrefix(key, prefix)))
	}
	return services, nil
}

// ListUsers returns every user holding a token for service.
func (ts *TokenStore) ListUsers(ctx context.Context, service ServiceScope) ([]string, error) {
	suffix := ":" + string(service)
	keys, err := ts.scan(ctx, "oauth_token:*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to list token owners: %w", err)
	}

	users := make([]string, 0, len(keys))
	for _, key := range keys {
		user := strings.TrimSuffix(strings.TrimPrefix(key, "oauth_token:"), suffix)
		if user != "" {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (ts *TokenStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := ts.redisClient.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func stateKey(userID, state string) string {
	return fmt.Sprintf("oauth_state:%s:%s", userID, state)
}

func stateUserKey(state string) string {
	return fmt.Sprintf("oauth_state_user:%s", state)
}

func tokenKey(userID string, service ServiceScope) string {
	return fmt.Sprintf("oauth_token:%s:%s", userID, service)
}
