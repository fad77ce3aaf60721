// Package api is the HTTP collaborator: channel listing, message REST
// calls, and voice membership registration. The core only consumes the
// {success,data}|{error} envelope; everything behind it is the server's
// business.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/harborchat/harbor/internal/chat"
	"github.com/harborchat/harbor/internal/util"
)

// Client talks to the chat server's REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: util.NormalizeBaseURL(baseURL),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// envelope is the response wrapper every endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Channel is one entry in the server's channel list.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "voice"
}

// Channels fetches the channel list.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := c.getJSON(ctx, "/api/channels", &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// SendMessage posts a message for server-side persistence. The broker echo,
// not this call, is what confirms the optimistic entry.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg chat.WireMessage) error {
	path := "/api/channels/" + url.PathEscape(channelID) + "/messages"
	return c.postJSON(ctx, path, msg, nil)
}

// EditMessage updates a message's content server-side.
func (c *Client) EditMessage(ctx context.Context, channelID string, msg chat.WireMessage) error {
	path := "/api/channels/" + url.PathEscape(channelID) + "/messages/" + strconv.FormatInt(msg.ID, 10)
	return c.postJSON(ctx, path, msg, nil)
}

// AddVoiceUser registers the user as a voice channel participant.
func (c *Client) AddVoiceUser(ctx context.Context, channelID string, userID int64) error {
	path := "/api/voice/" + url.PathEscape(channelID) + "/users"
	return c.postJSON(ctx, path, map[string]int64{"userId": userID}, nil)
}

// RemoveVoiceUser deregisters a voice channel participant.
func (c *Client) RemoveVoiceUser(ctx context.Context, channelID string, userID int64) error {
	path := "/api/voice/" + url.PathEscape(channelID) + "/users/remove"
	return c.postJSON(ctx, path, map[string]int64{"userId": userID}, nil)
}

// VoiceParticipants fetches the current participant name list.
func (c *Client) VoiceParticipants(ctx context.Context, channelID string) ([]string, error) {
	var names []string
	path := "/api/voice/" + url.PathEscape(channelID) + "/users"
	if err := c.getJSON(ctx, path, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// getJSON performs a GET, unwraps the envelope, and decodes data into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

// postJSON performs a POST with a JSON body, unwraps the envelope, and
// decodes data into v when v is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %s", req.Method, req.URL.Path, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	if env.Error != "" {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, env.Error)
	}
	if !env.Success {
		return fmt.Errorf("%s %s: server reported failure", req.Method, req.URL.Path)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", req.Method, req.URL.Path, err)
		}
	}
	return nil
}
