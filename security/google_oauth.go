package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleServiceClient provides authenticated access to Google services
type GoogleServiceClient struct {
	tokenStore       *TokenStore
	logger           zerolog.Logger
	calendarEndpoint string
	userinfoEndpoint string
}

// ClientOption customizes a GoogleServiceClient.
type ClientOption func(*GoogleServiceClient)

// WithCalendarEndpoint points Calendar API calls at a different base URL.
func WithCalendarEndpoint(url string) ClientOption {
	return func(g *GoogleServiceClient) { g.calendarEndpoint = url }
}

// WithUserinfoEndpoint points userinfo lookups at a different base URL.
func WithUserinfoEndpoint(url string) ClientOption {
	return func(g *GoogleServiceClient) { g.userinfoEndpoint = url }
}

// NewGoogleServiceClient creates a new Google service client
func NewGoogleServiceClient(tokenStore *TokenStore, logger zerolog.Logger, opts ...ClientOption) *GoogleServiceClient {
	g := &GoogleServiceClient{
		tokenStore: tokenStore,
		logger:     logger.With().Str("component", "google_client").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TokenStore exposes the underlying token store.
func (g *GoogleServiceClient) TokenStore() *TokenStore {
	return g.tokenStore
}

// InitializeCalendar configures the Calendar OAuth client. Missing
// credentials leave OAuth disabled.
func (g *GoogleServiceClient) InitializeCalendar(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint) {
	if clientID == "" || clientSecret == "" {
		g.logger.Warn().Msg("calendar oauth credentials missing; skipping initialization")
		return
	}
	g.tokenStore.ConfigureService(ServiceCalendar, clientID, clientSecret, redirectURL, CalendarScopes, endpoint)
}

// GetCalendarService returns an authenticated Calendar service for a user
func (g *GoogleServiceClient) GetCalendarService(ctx context.Context, userID string) (*calendar.Service, error) {
	token, err := g.tokenStore.GetValidToken(ctx, ServiceCalendar, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get valid Calendar token for user %s: %w", userID, err)
	}
	config, err := g.tokenStore.config(ServiceCalendar)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(config.Client(ctx, token))}
	if g.calendarEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.calendarEndpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return service, nil
}

// FetchUserEmail resolves the Google account email a token belongs to.
func (g *GoogleServiceClient) FetchUserEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	config, err := g.tokenStore.config(ServiceCalendar)
	if err != nil {
		return "", err
	}

	opts := []option.ClientOption{option.WithHTTPClient(config.Client(ctx, token))}
	if g.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.userinfoEndpoint))
	}
	service, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		return "", fmt.Errorf("userinfo response has no email")
	}
	return email, nil
}

// CompleteLogin finishes the OAuth callback: it exchanges the code, resolves
// the account email and stores the token under that email.
func (g *GoogleServiceClient) CompleteLogin(ctx context.Context, code, state string) (string, error) {
	token, err := g.tokenStore.ExchangeCode(ctx, ServiceCalendar, code, state)
	if err != nil {
		return "", err
	}
	email, err := g.FetchUserEmail(ctx, token)
	if err != nil {
		return "", err
	}
	if err := g.tokenStore.StoreToken(ctx, ServiceCalendar, email, token); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	g.logger.Info().Str("user_id", email).Msg("google account connected")
	return email, nil
}

// ValidateCalendarAccess checks if Calendar access is working for a user
func (g *GoogleServiceClient) ValidateCalendarAccess(ctx context.Context, userID string) error {
	service, err := g.GetCalendarService(ctx, userID)
	if err != nil {
		return err
	}

	// Test access by getting calendar list
	if _, err := service.CalendarList.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return fmt.Errorf("Calendar access validation failed: %w", err)
	}

	g.logger.Debug().Str("user_id", userID).Msg("calendar access validated")
	return nil
}

// RevokeServiceAccess revokes access for a specific service
func (g *GoogleServiceClient) RevokeServiceAccess(ctx context.Context, service ServiceScope, userID string) error {
	if err := g.tokenStore.DeleteToken(ctx, service, userID); err != nil {
		return fmt.Errorf("failed to delete token for service %s: %w", service, err)
	}
	g.logger.Info().Str("user_id", userID).Str("service", string(service)).Msg("revoked access")
	return nil
}

// Helper function to allow time mocking in tests
var Now = time.Now

// GetAuthURL provides access to the token store's GetAuthURL method
func (g *GoogleServiceClient) GetAuthURL(ctx context.Context, service ServiceScope, userID string) (string, string, error) {
	return g.tokenStore.GetAuthURL(ctx, service, userID)
}

// GetServiceStatus returns the authentication status for all services
func (g *GoogleServiceClient) GetServiceStatus(ctx context.Context, userID string) map[ServiceScope]string {
	status := make(map[ServiceScope]string)
	services, err := g.tokenStore.ListUserServices(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list user services")
		return status
	}

	for _, service := range services {
		token, err := g.tokenStore.GetToken(ctx, service, userID)
		if err != nil {
			status[service] = "error: " + err.Error()
			continue
		}

		if token.Expiry.Before(Now().Add(5*time.Minute)) && token.RefreshToken == "" {
			status[service] = "expired"
		} else {
			status[service] = "valid"
		}
	}
	return status
}
