package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Tyrowin/matchlink/internal/model"
)

type connectionsResponse struct {
	Connections []model.Connection `json:"connections"`
	Count       int                `json:"count"`
}

type requestsResponse struct {
	Requests []model.ConnectionRequest `json:"requests"`
	Count    int                       `json:"count"`
}

type requestResponse struct {
	Message string                  `json:"message"`
	Request model.ConnectionRequest `json:"request"`
}

type acceptResponse struct {
	Message    string           `json:"message"`
	Connection model.Connection `json:"connection"`
}

// ConnectionRequestBody is the body of POST /connection-requests/.
type ConnectionRequestBody struct {
	ReceiverID string `json:"receiver_id"`
	Message    string `json:"message,omitempty"`
}

type skipBody struct {
	TargetUserID string `json:"target_userId"`
}

// Connections returns the established connections with both profiles.
func (c *Client) Connections(ctx context.Context) ([]model.Connection, error) {
	var out connectionsResponse
	if err := c.getJSON(ctx, "/connections/", url.Values{"mode": {"full"}}, &out); err != nil {
		return nil, err
	}
	return out.Connections, nil
}

// DeleteConnection removes a connection.
func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/connections/"+url.PathEscape(connectionID), nil, nil)
}

// ConnectionRequests returns the pending requests addressed to the user.
func (c *Client) ConnectionRequests(ctx context.Context) ([]model.ConnectionRequest, error) {
	var out requestsResponse
	if err := c.getJSON(ctx, "/connection-requests/", nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// SendConnectionRequest asks another user to connect.
func (c *Client) SendConnectionRequest(ctx context.Context, body ConnectionRequestBody) (model.ConnectionRequest, error) {
	var out requestResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/connection-requests/", body, &out); err != nil {
		return model.ConnectionRequest{}, err
	}
	return out.Request, nil
}

// SkipConnection hides a recommended user.
func (c *Client) SkipConnection(ctx context.Context, targetUserID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/connection-requests/skip", skipBody{TargetUserID: targetUserID}, nil)
}

// AcceptRequest accepts a pending request and returns the new connection.
func (c *Client) AcceptRequest(ctx context.Context, requestID string) (model.Connection, error) {
	var out acceptResponse
	if err := c.sendJSON(ctx, http.MethodPut, "/connection-requests/"+url.PathEscape(requestID)+"/accept", nil, &out); err != nil {
		return model.Connection{}, err
	}
	return out.Connection, nil
}

// DeclineRequest declines a pending request.
func (c *Client) DeclineRequest(ctx context.Context, requestID string) error {
	return c.sendJSON(ctx, http.MethodPut, "/connection-requests/"+url.PathEscape(requestID)+"/decline", nil, nil)
}
