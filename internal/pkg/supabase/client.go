package supabase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/tidwall/gjson"

	"github.com/illegalcall/ai-credits/internal/models"
)

var ErrEmptyToken = errors.New("empty access token")

// Client wraps Supabase Auth for the sign-up, sign-in and user admin calls
// the API needs. Admin calls authenticate with the service role key.
type Client struct {
	auth       gotrue.Client
	serviceKey string
	logger     zerolog.Logger
}

// extractProjectRef extracts just the project reference ID from a Supabase URL
// From: https://akrqbuajqkirdekonpzy.supabase.co
// To: akrqbuajqkirdekonpzy
func extractProjectRef(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	parts := strings.Split(url, ".")
	return parts[0]
}

func isHostedURL(url string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	host = strings.TrimRight(host, "/")
	return strings.HasSuffix(host, ".supabase.co")
}

// NewClient builds a client for a hosted project (https://<ref>.supabase.co)
// or for a self-hosted instance, whose auth API is expected at <url>/auth/v1.
func NewClient(supabaseURL, serviceKey string, logger zerolog.Logger) *Client {
	var auth gotrue.Client
	if isHostedURL(supabaseURL) {
		projectRef := extractProjectRef(supabaseURL)
		logger.Info().Str("project_ref", projectRef).Msg("Initializing Supabase auth client")
		auth = gotrue.New(projectRef, serviceKey)
	} else {
		base := strings.TrimRight(supabaseURL, "/") + "/auth/v1"
		logger.Info().Str("url", base).Msg("Initializing self-hosted Supabase auth client")
		auth = gotrue.New("", serviceKey).WithCustomGoTrueURL(base)
	}

	return &Client{
		auth:       auth,
		serviceKey: serviceKey,
		logger:     logger,
	}
}

// Ping checks that the auth server answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.auth.GetSettings(); err != nil {
		return fmt.Errorf("failed to connect to Supabase: %w", err)
	}
	return nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Identity, error) {
	resp, err := c.auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, &AuthError{Message: errorMessage(err), Err: err}
	}

	// With autoconfirm on the user comes back inside the session.
	user := resp.User
	if user.ID == uuid.Nil {
		user = resp.Session.User
	}
	return &models.Identity{ID: user.ID.String(), Email: user.Email}, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Session, *models.Identity, error) {
	resp, err := c.auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, nil, &AuthError{Message: errorMessage(err), Err: err}
	}

	session := &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		ExpiresAt:    resp.ExpiresAt,
	}
	return session, &models.Identity{ID: resp.User.ID.String(), Email: resp.User.Email}, nil
}

// ResolveToken asks the auth server who owns the access token.
func (c *Client) ResolveToken(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	resp, err := c.auth.WithToken(token).GetUser()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &models.Identity{ID: resp.ID.String(), Email: resp.Email}, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]models.Identity, error) {
	resp, err := c.admin().AdminListUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]models.Identity, 0, len(resp.Users))
	for _, u := range resp.Users {
		users = append(users, models.Identity{ID: u.ID.String(), Email: u.Email})
	}
	return users, nil
}

func (c *Client) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := c.admin().AdminDeleteUser(types.AdminDeleteUserRequest{UserID: id}); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

func (c *Client) admin() gotrue.Client {
	return c.auth.WithToken(c.serviceKey)
}

// AuthError is a rejected sign-up or sign-in. Message is safe to show the caller.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

// errorMessage pulls the human readable reason out of a gotrue error of the
// form "response status code 400: {...}".
func errorMessage(err error) string {
	msg := err.Error()
	i := strings.Index(msg, ": {")
	if i < 0 {
		return msg
	}
	body := msg[i+2:]
	for _, path := range []string{"msg", "error_description", "message", "error"} {
		if v := gjson.Get(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return msg
}
