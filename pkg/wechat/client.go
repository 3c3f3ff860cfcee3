package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

const (
	// DefaultBaseURL is the official-account API host.
	DefaultBaseURL = "https://api.weixin.qq.com"

	// tokenRefreshMargin refreshes access tokens this long before expiry.
	tokenRefreshMargin = 5 * time.Minute

	maxMediaBytes = 20 << 20
)

// Error codes the platform returns for a stale access token.
const (
	errCodeInvalidToken = 40001
	errCodeExpiredToken = 42001
)

var ErrNotConfigured = errors.New("wechat: app id and secret not configured")

// APIError is the {errcode, errmsg} body returned by the platform API.
type APIError struct {
	Code    int    `json:"errcode"`
	Message string `json:"errmsg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error %d: %s", e.Code, e.Message)
}

func (e *APIError) tokenRejected() bool {
	return e.Code == errCodeInvalidToken || e.Code == errCodeExpiredToken
}

// UserInfo is the subset of a follower's profile used when linking.
type UserInfo struct {
	OpenID     string `json:"openid"`
	UnionID    string `json:"unionid"`
	Nickname   string `json:"nickname"`
	HeadImgURL string `json:"headimgurl"`
	Subscribe  int    `json:"subscribe"`
}

// Media is a downloaded media file.
type Media struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ClientConfig configures the platform API client.
type ClientConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
}

// Client calls the official-account API. Access tokens are cached in memory
// and refreshed shortly before they expire.
type Client struct {
	http    *resty.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		http:    resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(cfg.Timeout),
		cfg:     cfg,
		limiter: limiter,
		log:     log.With(logger.Scope("wechat-api")),
		now:     time.Now,
	}
}

// Config returns the effective client configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.AppID != "" && c.cfg.AppSecret != ""
}

// AccessToken returns a cached access token, fetching a new one when the
// cached token is missing or about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type": "client_credential",
			"appid":      c.cfg.AppID,
			"secret":     c.cfg.AppSecret,
		}).
		Get("/cgi-bin/token")
	if err != nil {
		return "", fmt.Errorf("wechat: fetch access token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("wechat: fetch access token: http %d", resp.StatusCode())
	}

	var body struct {
		APIError
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("wechat: decode access token: %w", err)
	}
	if body.Code != 0 {
		return "", &body.APIError
	}
	if body.AccessToken == "" {
		return "", errors.New("wechat: empty access token")
	}

	ttl := time.Duration(body.ExpiresIn)*time.Second - tokenRefreshMargin
	if ttl < 0 {
		ttl = 0
	}
	c.token = body.AccessToken
	c.expiresAt = c.now().Add(ttl)

	c.log.Debug("access token refreshed", slog.Duration("ttl", ttl))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// DownloadMedia fetches a temporary media file by media id. A rejected
// access token is refreshed and the download retried once.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) (*Media, error) {
	media, err := c.downloadMedia(ctx, mediaID)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.tokenRejected() {
		c.log.Info("access token rejected, refreshing", slog.Int("errcode", apiErr.Code))
		c.invalidateToken()
		return c.downloadMedia(ctx, mediaID)
	}
	return media, err
}

func (c *Client) downloadMedia(ctx context.Context, mediaID string) (*Media, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": token,
			"media_id":     mediaID,
		}).
		Get("/cgi-bin/media/get")
	if err != nil {
		return nil, fmt.Errorf("wechat: download media %s: %w", mediaID, err)
	}
	return toMedia(resp, mediaID)
}

// UserInfo fetches the profile of a follower. A rejected access token is
// refreshed and the lookup retried once.
func (c *Client) UserInfo(ctx context.Context, openID string) (*UserInfo, error) {
	info, err := c.userInfo(ctx, openID)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.tokenRejected() {
		c.log.Info("access token rejected, refreshing", slog.Int("errcode", apiErr.Code))
		c.invalidateToken()
		return c.userInfo(ctx, openID)
	}
	return info, err
}

func (c *Client) userInfo(ctx context.Context, openID string) (*UserInfo, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": token,
			"openid":       openID,
			"lang":         "zh_CN",
		}).
		Get("/cgi-bin/user/info")
	if err != nil {
		return nil, fmt.Errorf("wechat: user info: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wechat: user info: http %d", resp.StatusCode())
	}

	var body struct {
		APIError
		UserInfo
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("wechat: decode user info: %w", err)
	}
	if body.Code != 0 {
		return nil, &body.APIError
	}
	return &body.UserInfo, nil
}

// Download fetches a public URL such as an image PicUrl.
func (c *Client) Download(ctx context.Context, url string) (*Media, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("wechat: download %s: %w", url, err)
	}
	return toMedia(resp, "")
}

func toMedia(resp *resty.Response, fallbackName string) (*Media, error) {
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("wechat: download: http %d", resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	// Errors come back as JSON with a 200 status.
	if mediaType == "application/json" || mediaType == "text/plain" {
		var apiErr APIError
		if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Code != 0 {
			return nil, &apiErr
		}
	}

	data := resp.Body()
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("wechat: media exceeds %d bytes", maxMediaBytes)
	}

	filename := fallbackName
	if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}

	return &Media{Data: data, ContentType: contentType, Filename: filename}, nil
}
