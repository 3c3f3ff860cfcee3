package wechat

import (
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/Jalalidin/knowledgevault-sub001/domain/knowledge"
	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	wx "github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

// Module provides the WeChat webhook bridge and account linking.
var Module = fx.Module("wechat",
	fx.Provide(
		fx.Annotate(
			NewRepository,
			fx.As(new(Store)),
			fx.As(fx.Self()),
		),
	),
	fx.Provide(newClient),
	fx.Provide(newLinker),
	fx.Provide(newRouter),
	fx.Provide(newHandler),
	fx.Invoke(RegisterRoutes),
)

func newClient(cfg *config.Config, log *slog.Logger) *wx.Client {
	c := wx.NewClient(wx.ClientConfig{
		AppID:     cfg.WeChat.AppID,
		AppSecret: cfg.WeChat.AppSecret,
		BaseURL:   cfg.WeChat.APIBaseURL,
		Timeout:   30 * time.Second,
		RateLimit: cfg.WeChat.RateLimit,
	}, log)
	if !c.Configured() {
		log.Warn("WECHAT_APP_ID/WECHAT_APP_SECRET not set - media archiving and profile lookup disabled")
	}
	return c
}

func newLinker(store Store, cfg *config.Config, log *slog.Logger) *Linker {
	return NewLinker(store, cfg.WeChat.LinkTokenTTL, log)
}

func newRouter(linker *Linker, store Store, ingest *knowledge.Service, analyzer *knowledge.Analyzer, client *wx.Client, cfg *config.Config, log *slog.Logger) *Router {
	var summarizer Summarizer
	if analyzer.Enabled() {
		summarizer = analyzer
	}
	var profiles ProfileSource
	if client.Configured() {
		profiles = client
	}
	return NewRouter(linker, store, ingest, summarizer, profiles, wx.NewReplyComposer(), RouterConfig{
		AccountID:               cfg.WeChat.AccountID,
		SummaryThreshold:        cfg.WeChat.SummaryThreshold,
		SummaryTimeout:          cfg.WeChat.SummaryTimeout,
		DeactivateOnUnsubscribe: cfg.WeChat.DeactivateOnUnsubscribe,
	}, log)
}

func newHandler(cfg *config.Config, router *Router, linker *Linker, store Store, log *slog.Logger) *Handler {
	return NewHandler(cfg.WeChat, router, linker, store, log)
}
