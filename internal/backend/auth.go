package backend

import (
	"context"
	"net/http"
	"time"
)

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        User   `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return s.AccessToken == "" || (s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt)
}

// SignIn exchanges credentials for a session and uses its token for
// subsequent calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", body, &session); err != nil {
		return Session{}, err
	}
	c.SetAccessToken(session.AccessToken)
	return session, nil
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", body, &session); err != nil {
		return Session{}, err
	}
	c.SetAccessToken(session.AccessToken)
	return session, nil
}

type ResetRequested struct {
	Message string `json:"message"`
	// DevResetToken is only returned when the server has no mailer.
	DevResetToken string `json:"devResetToken,omitempty"`
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (ResetRequested, error) {
	var out ResetRequested
	err := c.do(ctx, http.MethodPost, "/auth/v1/recover", map[string]string{"email": email}, &out)
	return out, err
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/reset", map[string]string{"token": token, "password": password}, nil)
}

func (c *Client) GetUser(ctx context.Context) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, &user)
	return user, err
}

func (c *Client) SignOut() {
	c.SetAccessToken("")
}
