package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Tyrowin/matchlink/internal/model"
)

// ChatList is the inbox summary.
type ChatList struct {
	Chats       []model.ChatListItem `json:"chats"`
	TotalChats  int                  `json:"total_chats"`
	UnreadTotal int                  `json:"unread_total"`
}

// MessagePage is one page of a conversation's history.
type MessagePage struct {
	Messages []model.Message `json:"messages"`
	Count    int             `json:"count"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// SendTextRequest is the body of POST /messages/text.
type SendTextRequest struct {
	ConnectionID string `json:"connection_id"`
	Content      string `json:"content"`
	SenderID     string `json:"sender_id,omitempty"`
	ReceiverID   string `json:"receiver_id,omitempty"`
}

// MediaUpload describes a file attached with SendMedia.
type MediaUpload struct {
	ConnectionID string
	Filename     string
	Body         io.Reader
	Text         string
}

type messageResponse struct {
	Message string        `json:"message"`
	Data    model.Message `json:"data"`
}

type unreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ChatList returns the conversations of the current user.
func (c *Client) ChatList(ctx context.Context) (ChatList, error) {
	var out ChatList
	err := c.getJSON(ctx, "/messages/chat-list", nil, &out)
	return out, err
}

// SendText posts a text message and returns the stored message.
func (c *Client) SendText(ctx context.Context, req SendTextRequest) (model.Message, error) {
	var out messageResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/messages/text", req, &out); err != nil {
		return model.Message{}, err
	}
	return out.Data, nil
}

// SendMedia uploads a media message as multipart form data.
func (c *Client) SendMedia(ctx context.Context, up MediaUpload) (model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("connection_id", up.ConnectionID); err != nil {
		return model.Message{}, err
	}
	if up.Text != "" {
		if err := w.WriteField("text", up.Text); err != nil {
			return model.Message{}, err
		}
	}
	part, err := w.CreateFormFile("media", up.Filename)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return model.Message{}, fmt.Errorf("read media %s: %w", up.Filename, err)
	}
	if err := w.Close(); err != nil {
		return model.Message{}, err
	}

	var out messageResponse
	if err := c.do(ctx, http.MethodPost, "/messages/media", nil, &buf, w.FormDataContentType(), &out); err != nil {
		return model.Message{}, err
	}
	return out.Data, nil
}

// ConnectionMessages returns one page of a conversation, newest page first
// as the server orders it.
func (c *Client) ConnectionMessages(ctx context.Context, connectionID string, limit, offset int) (MessagePage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var out MessagePage
	err := c.getJSON(ctx, "/messages/connection/"+url.PathEscape(connectionID), query, &out)
	return out, err
}

// MarkRead marks every message in a conversation read.
func (c *Client) MarkRead(ctx context.Context, connectionID string) error {
	return c.sendJSON(ctx, http.MethodPut, "/messages/connection/"+url.PathEscape(connectionID)+"/read", nil, nil)
}

// UnreadCount returns the total unread messages of the current user.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out unreadResponse
	if err := c.getJSON(ctx, "/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}
