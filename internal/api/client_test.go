package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/matchlink/internal/model"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	ctype  string
	body   []byte
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		rec.ctype = r.Header.Get("Content-Type")
		rec.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestLoginStoresToken(t *testing.T) {
	srv, rec := newTestServer(t, http.StatusOK, `{"message":"ok","token":"tok-1","user":{"id":"u1","first_name":"Ada"}}`)
	c := NewClient(srv.URL+"/", "")

	data, err := c.Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "tok-1", data.Token)
	assert.Equal(t, "u1", data.User.ID)
	assert.Equal(t, "tok-1", c.Token())
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/auth/login", rec.path)
	assert.Empty(t, rec.auth)
	assert.Equal(t, "application/json", rec.ctype)
	assert.JSONEq(t, `{"email":"ada@example.com","password":"pw"}`, string(rec.body))
}

func TestLoginRequiresCredentials(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.Login(context.Background(), "", "pw")
	assert.Error(t, err)
}

// TestEndpoints verifies each call hits the expected method and path with
// bearer auth.
func TestEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		response string
		call     func(c *Client) error
		method   string
		path     string
		query    string
		wantBody string
	}{
		{
			name:     "chat list",
			response: `{"chats":[{"connection_id":"c1","unread_count":2}],"total_chats":1,"unread_total":2}`,
			call: func(c *Client) error {
				list, err := c.ChatList(context.Background())
				if err == nil && (len(list.Chats) != 1 || list.Chats[0].UnreadCount != 2) {
					t.Errorf("unexpected chat list %+v", list)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/messages/chat-list",
		},
		{
			name:     "connection messages",
			response: `{"messages":[{"id":"m1"}],"count":1,"limit":50,"offset":0}`,
			call: func(c *Client) error {
				page, err := c.ConnectionMessages(context.Background(), "c1", 50, 0)
				if err == nil && len(page.Messages) != 1 {
					t.Errorf("unexpected page %+v", page)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/messages/connection/c1",
			query:  "limit=50",
		},
		{
			name:     "send text",
			response: `{"message":"sent","data":{"id":"m2","content":"hi"}}`,
			call: func(c *Client) error {
				msg, err := c.SendText(context.Background(), SendTextRequest{ConnectionID: "c1", Content: "hi"})
				if err == nil && msg.ID != "m2" {
					t.Errorf("unexpected message %+v", msg)
				}
				return err
			},
			method:   http.MethodPost,
			path:     "/messages/text",
			wantBody: `{"connection_id":"c1","content":"hi"}`,
		},
		{
			name:     "mark read",
			response: `{"message":"ok"}`,
			call:     func(c *Client) error { return c.MarkRead(context.Background(), "c1") },
			method:   http.MethodPut,
			path:     "/messages/connection/c1/read",
		},
		{
			name:     "unread count",
			response: `{"unread_count":7}`,
			call: func(c *Client) error {
				n, err := c.UnreadCount(context.Background())
				if err == nil && n != 7 {
					t.Errorf("unread = %d", n)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/messages/unread-count",
		},
		{
			name:     "connections",
			response: `{"connections":[{"id":"c1"}],"count":1}`,
			call: func(c *Client) error {
				conns, err := c.Connections(context.Background())
				if err == nil && len(conns) != 1 {
					t.Errorf("unexpected connections %+v", conns)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/connections/",
			query:  "mode=full",
		},
		{
			name:     "delete connection",
			response: `{"message":"deleted"}`,
			call:     func(c *Client) error { return c.DeleteConnection(context.Background(), "c1") },
			method:   http.MethodDelete,
			path:     "/connections/c1",
		},
		{
			name:     "connection requests",
			response: `{"requests":[{"id":"r1"},{"id":"r2"}],"count":2}`,
			call: func(c *Client) error {
				reqs, err := c.ConnectionRequests(context.Background())
				if err == nil && len(reqs) != 2 {
					t.Errorf("unexpected requests %+v", reqs)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/connection-requests/",
		},
		{
			name:     "send request",
			response: `{"message":"ok","request":{"id":"r3"}}`,
			call: func(c *Client) error {
				_, err := c.SendConnectionRequest(context.Background(), ConnectionRequestBody{ReceiverID: "u2"})
				return err
			},
			method:   http.MethodPost,
			path:     "/connection-requests/",
			wantBody: `{"receiver_id":"u2"}`,
		},
		{
			name:     "skip",
			response: `{"message":"ok"}`,
			call:     func(c *Client) error { return c.SkipConnection(context.Background(), "u3") },
			method:   http.MethodPost,
			path:     "/connection-requests/skip",
			wantBody: `{"target_userId":"u3"}`,
		},
		{
			name:     "accept",
			response: `{"message":"ok","connection":{"id":"c9"}}`,
			call: func(c *Client) error {
				conn, err := c.AcceptRequest(context.Background(), "r1")
				if err == nil && conn.ID != "c9" {
					t.Errorf("unexpected connection %+v", conn)
				}
				return err
			},
			method: http.MethodPut,
			path:   "/connection-requests/r1/accept",
		},
		{
			name:     "decline",
			response: `{"message":"ok"}`,
			call:     func(c *Client) error { return c.DeclineRequest(context.Background(), "r1") },
			method:   http.MethodPut,
			path:     "/connection-requests/r1/decline",
		},
		{
			name:     "me",
			response: `{"message":"ok","user":{"id":"u1","first_name":"Ada"}}`,
			call: func(c *Client) error {
				me, err := c.Me(context.Background())
				if err == nil && me.FirstName != "Ada" {
					t.Errorf("unexpected user %+v", me)
				}
				return err
			},
			method: http.MethodGet,
			path:   "/api/me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newTestServer(t, http.StatusOK, tt.response)
			c := NewClient(srv.URL, "tok")

			require.NoError(t, tt.call(c))
			assert.Equal(t, tt.method, rec.method)
			assert.Equal(t, tt.path, rec.path)
			assert.Equal(t, tt.query, rec.query)
			assert.Equal(t, "Bearer tok", rec.auth)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, string(rec.body))
			}
		})
	}
}

func TestSendMediaMultipart(t *testing.T) {
	var fields map[string]string
	var fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		fields = map[string]string{
			"connection_id": r.FormValue("connection_id"),
			"text":          r.FormValue("text"),
		}
		f, hdr, err := r.FormFile("media")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		raw, _ := io.ReadAll(f)
		fileName, fileBody = hdr.Filename, string(raw)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "ok", "data": model.Message{ID: "m5", Type: model.MessageMixed}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	msg, err := c.SendMedia(context.Background(), MediaUpload{
		ConnectionID: "c1",
		Filename:     "cat.png",
		Body:         strings.NewReader("png-bytes"),
		Text:         "look",
	})
	require.NoError(t, err)

	assert.Equal(t, "m5", msg.ID)
	assert.Equal(t, "c1", fields["connection_id"])
	assert.Equal(t, "look", fields["text"])
	assert.Equal(t, "cat.png", fileName)
	assert.Equal(t, "png-bytes", fileBody)
}

func TestAPIErrorBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadRequest, `{"error":"Invalid input","details":"content is required"}`)
	c := NewClient(srv.URL, "tok")

	_, err := c.SendText(context.Background(), SendTextRequest{ConnectionID: "c1"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid input", apiErr.Message)
	assert.Equal(t, "content is required", apiErr.Details)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestAPIErrorPlainBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadGateway, "upstream down")
	c := NewClient(srv.URL, "tok")

	_, err := c.ChatList(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestUnauthorizedHook(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized, `{"error":"Unauthorized","details":"token expired"}`)
	called := 0
	c := NewClient(srv.URL, "stale", WithUnauthorizedHandler(func() { called++ }))

	_, err := c.UnreadCount(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, called)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestRequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "tok")
	_, err := c.ChatList(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
