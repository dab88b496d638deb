package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// User is an account as reported by the backend.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	TotalScan int    `json:"totalScan,omitempty"`
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

// Session is the token pair and profile returned on login.
type Session struct {
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	var out Session
	if err := c.postJSON(ctx, "login", "/api/auth/login", creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. The backend answers with the new user and, in
// some deployments, a token pair as well; tokens are empty otherwise.
func (c *Client) Register(ctx context.Context, reg Registration) (*Session, error) {
	var out Session
	if err := c.postJSON(ctx, "register", "/api/auth/register", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users lists all accounts with their scan totals.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	const op = "list users"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/userList", nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.do(req, op, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}
