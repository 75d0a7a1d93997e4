package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Tyrowin/matchlink/internal/model"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	Password  string `json:"password"`
}

// AuthData is returned by login and registration.
type AuthData struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
}

var errMissingCredentials = errors.New("api: email and password are required")

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (AuthData, error) {
	if email == "" || password == "" {
		return AuthData{}, errMissingCredentials
	}
	var out AuthData
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &out); err != nil {
		return AuthData{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// Register creates an account and stores the returned token on the client.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthData, error) {
	if req.Email == "" || req.Password == "" {
		return AuthData{}, errMissingCredentials
	}
	var out AuthData
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return AuthData{}, err
	}
	if out.Token != "" {
		c.SetToken(out.Token)
	}
	return out, nil
}

type userResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out userResponse
	if err := c.getJSON(ctx, "/api/me", nil, &out); err != nil {
		return model.User{}, err
	}
	if out.User == nil {
		return model.User{}, errors.New("api: /api/me returned no user")
	}
	return *out.User, nil
}
