package wechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	tokenCalls  atomic.Int32
	mediaCalls  atomic.Int32
	userCalls   atomic.Int32
	rejectFirst bool
}

func (p *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/token", func(w http.ResponseWriter, r *http.Request) {
		n := p.tokenCalls.Add(1)
		assert.Equal(t, "client_credential", r.URL.Query().Get("grant_type"))
		if r.URL.Query().Get("secret") != "s3cret" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"errcode":40125,"errmsg":"invalid appsecret"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":7200}`, n)
	})
	mux.HandleFunc("/cgi-bin/media/get", func(w http.ResponseWriter, r *http.Request) {
		n := p.mediaCalls.Add(1)
		if p.rejectFirst && n == 1 {
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, `{"errcode":40001,"errmsg":"invalid credential"}`)
			return
		}
		if r.URL.Query().Get("media_id") == "missing" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"errcode":40007,"errmsg":"invalid media_id"}`)
			return
		}
		w.Header().Set("Content-Type", "audio/amr")
		w.Header().Set("Content-Disposition", `attachment; filename="voice-1.amr"`)
		fmt.Fprintf(w, "AMR:%s", r.URL.Query().Get("access_token"))
	})
	mux.HandleFunc("/cgi-bin/user/info", func(w http.ResponseWriter, r *http.Request) {
		n := p.userCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if p.rejectFirst && n == 1 {
			fmt.Fprint(w, `{"errcode":42001,"errmsg":"access_token expired"}`)
			return
		}
		assert.Equal(t, "zh_CN", r.URL.Query().Get("lang"))
		if r.URL.Query().Get("openid") == "o_missing" {
			fmt.Fprint(w, `{"errcode":40003,"errmsg":"invalid openid"}`)
			return
		}
		fmt.Fprintf(w, `{"subscribe":1,"openid":%q,"nickname":"小明","headimgurl":"https://wx.qlogo.cn/a.png","unionid":"u_1"}`,
			r.URL.Query().Get("openid"))
	})
	mux.HandleFunc("/pic", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	})
	return mux
}

func newTestClient(t *testing.T, p *fakePlatform, secret string) (*Client, *httptest.Server) {
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{AppID: "wx123", AppSecret: secret, BaseURL: srv.URL}, slog.Default())
	return c, srv
}

func TestClient_AccessTokenIsCached(t *testing.T) {
	p := &fakePlatform{}
	c, _ := newTestClient(t, p, "s3cret")

	first, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), p.tokenCalls.Load())
}

func TestClient_AccessTokenRefreshesNearExpiry(t *testing.T) {
	p := &fakePlatform{}
	c, _ := newTestClient(t, p, "s3cret")
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	// 7200s lifetime minus the refresh margin.
	now = now.Add(2*time.Hour - tokenRefreshMargin + time.Second)
	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-2", tok)
}

func TestClient_AccessTokenAPIError(t *testing.T) {
	c, _ := newTestClient(t, &fakePlatform{}, "wrong")

	_, err := c.AccessToken(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40125, apiErr.Code)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(ClientConfig{}, slog.Default())

	assert.False(t, c.Configured())
	_, err := c.DownloadMedia(context.Background(), "m")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestClient_DownloadMedia(t *testing.T) {
	p := &fakePlatform{}
	c, _ := newTestClient(t, p, "s3cret")

	media, err := c.DownloadMedia(context.Background(), "voice-1")
	require.NoError(t, err)

	assert.Equal(t, "AMR:tok-1", string(media.Data))
	assert.Equal(t, "audio/amr", media.ContentType)
	assert.Equal(t, "voice-1.amr", media.Filename)
}

func TestClient_DownloadMediaRetriesRejectedToken(t *testing.T) {
	p := &fakePlatform{rejectFirst: true}
	c, _ := newTestClient(t, p, "s3cret")

	media, err := c.DownloadMedia(context.Background(), "voice-1")
	require.NoError(t, err)

	assert.Equal(t, "AMR:tok-2", string(media.Data))
	assert.Equal(t, int32(2), p.tokenCalls.Load())
	assert.Equal(t, int32(2), p.mediaCalls.Load())
}

func TestClient_DownloadMediaAPIError(t *testing.T) {
	c, _ := newTestClient(t, &fakePlatform{}, "s3cret")

	_, err := c.DownloadMedia(context.Background(), "missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40007, apiErr.Code)
}

func TestClient_DownloadURL(t *testing.T) {
	c, srv := newTestClient(t, &fakePlatform{}, "s3cret")

	media, err := c.Download(context.Background(), srv.URL+"/pic")
	require.NoError(t, err)

	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, media.Data)
	assert.Equal(t, "image/jpeg", media.ContentType)
}

func TestClient_UserInfo(t *testing.T) {
	c, _ := newTestClient(t, &fakePlatform{}, "s3cret")

	info, err := c.UserInfo(context.Background(), "o_1")
	require.NoError(t, err)

	assert.Equal(t, "o_1", info.OpenID)
	assert.Equal(t, "u_1", info.UnionID)
	assert.Equal(t, "小明", info.Nickname)
	assert.Equal(t, "https://wx.qlogo.cn/a.png", info.HeadImgURL)
	assert.Equal(t, 1, info.Subscribe)
}

func TestClient_UserInfoRetriesRejectedToken(t *testing.T) {
	p := &fakePlatform{rejectFirst: true}
	c, _ := newTestClient(t, p, "s3cret")

	info, err := c.UserInfo(context.Background(), "o_1")
	require.NoError(t, err)

	assert.Equal(t, "小明", info.Nickname)
	assert.Equal(t, int32(2), p.tokenCalls.Load())
	assert.Equal(t, int32(2), p.userCalls.Load())
}

func TestClient_UserInfoAPIError(t *testing.T) {
	c, _ := newTestClient(t, &fakePlatform{}, "s3cret")

	_, err := c.UserInfo(context.Background(), "o_missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40003, apiErr.Code)
}

func TestClient_ConfigDefaults(t *testing.T) {
	c := NewClient(ClientConfig{}, slog.Default())
	assert.Equal(t, DefaultBaseURL, c.Config().BaseURL)
	assert.Equal(t, 30*time.Second, c.Config().Timeout)

	c = NewClient(ClientConfig{BaseURL: "http://proxy.local/wx", RateLimit: 2}, slog.Default())
	assert.Equal(t, "http://proxy.local/wx", c.Config().BaseURL)
	assert.Equal(t, 2.0, c.Config().RateLimit)
}
