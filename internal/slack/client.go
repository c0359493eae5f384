// Package slack is a small Slack Web API and Socket Mode client covering
// what the tower bot needs: receive app mentions, post messages and images,
// and look up a user's avatar.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://slack.com/api/"

// maxDownload caps avatar downloads.
const maxDownload = 8 << 20

type Client struct {
	// AppToken (xapp-...) opens Socket Mode connections.
	AppToken string
	// BotToken (xoxb-...) calls every other Web API method.
	BotToken string

	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger

	// ReconnectDelay is the first pause after a failed connection; it
	// doubles up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func New(appToken, botToken string, logger *zap.Logger) *Client {
	return &Client{
		AppToken: appToken,
		BotToken: botToken,
		Logger:   logger,
	}
}

// APIError is a response with "ok": false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack: %s: %s", e.Method, e.Code)
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: 30 * time.Second}
	}
	return c.HTTPClient
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// call posts form to a Web API method and decodes the response into out.
func (c *Client) call(ctx context.Context, method, token string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+method, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("slack: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: %s: unexpected status %s", method, resp.Status)
	}

	var status apiResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("slack: %s: decode response: %w", method, err)
	}
	if !status.OK {
		return &APIError{Method: method, Code: status.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("slack: %s: decode response: %w", method, err)
	}
	return nil
}

// OpenConnection asks for a Socket Mode websocket URL.
func (c *Client) OpenConnection(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, "apps.connections.open", c.AppToken, url.Values{}, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("slack: apps.connections.open: empty url")
	}
	return out.URL, nil
}

func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	return c.call(ctx, "chat.postMessage", c.BotToken, url.Values{
		"channel": {channel},
		"text":    {text},
	}, nil)
}

// PostImage uploads data as filename and shares it in channel with text as
// the comment.
func (c *Client) PostImage(ctx context.Context, channel, text string, data []byte, filename string) error {
	var upload struct {
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	err := c.call(ctx, "files.getUploadURLExternal", c.BotToken, url.Values{
		"filename": {filename},
		"length":   {strconv.Itoa(len(data))},
	}, &upload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upload.UploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("slack: upload %s: %w", filename, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: upload %s: unexpected status %s", filename, resp.Status)
	}

	files, err := json.Marshal([]map[string]string{{"id": upload.FileID, "title": filename}})
	if err != nil {
		return err
	}

	return c.call(ctx, "files.completeUploadExternal", c.BotToken, url.Values{
		"files":           {string(files)},
		"channel_id":      {channel},
		"initial_comment": {text},
	}, nil)
}

type Profile struct {
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`

	ImageOriginal string `json:"image_original"`
	Image1024     string `json:"image_1024"`
	Image512      string `json:"image_512"`
	Image192      string `json:"image_192"`
	Image72       string `json:"image_72"`
	Image48       string `json:"image_48"`
	Image32       string `json:"image_32"`
	Image24       string `json:"image_24"`
}

// Name is the display name, or the real name when no display name is set.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.RealName
}

// ImageURL returns the largest avatar available.
func (p Profile) ImageURL() string {
	for _, u := range []string{
		p.ImageOriginal, p.Image1024, p.Image512, p.Image192,
		p.Image72, p.Image48, p.Image32, p.Image24,
	} {
		if u != "" {
			return u
		}
	}
	return ""
}

func (c *Client) Profile(ctx context.Context, user string) (Profile, error) {
	var out struct {
		Profile Profile `json:"profile"`
	}
	if err := c.call(ctx, "users.profile.get", c.BotToken, url.Values{"user": {user}}, &out); err != nil {
		return Profile{}, err
	}
	return out.Profile, nil
}

// Icon downloads the user's avatar. A user without one yields no data and
// no error.
func (c *Client) Icon(ctx context.Context, user string) ([]byte, error) {
	p, err := c.Profile(ctx, user)
	if err != nil {
		return nil, err
	}

	src := p.ImageURL()
	if src == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: download icon for %s: %w", user, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack: download icon for %s: unexpected status %s", user, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}

var leadingMention = regexp.MustCompile(`^<@[0-9A-Z]+>`)

// StripMention removes the bot mention that starts an app_mention text.
func StripMention(text string) string {
	return strings.TrimSpace(leadingMention.ReplaceAllString(text, ""))
}

// Mention formats a user mention.
func Mention(user string) string {
	return "<@" + user + ">"
}
