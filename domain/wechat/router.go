package wechat

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Jalalidin/knowledgevault-sub001/domain/knowledge"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/tracing"
	wx "github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

// Reply texts sent back to WeChat users.
const (
	ReplyLinkSuccess  = "✅ 账户关联成功！现在可以直接发送消息保存到KnowledgeVault"
	ReplyLinkExpired  = "❌ 二维码已过期，请在KnowledgeVault中重新生成二维码"
	ReplyLinkNotFound = "❌ 关联失败，二维码无效或已被使用"
	ReplyWelcomeBack  = "欢迎回来！直接发送消息即可保存到KnowledgeVault"
	ReplyWelcomeNew   = "欢迎关注KnowledgeVault！请在网页端扫描二维码关联账户"
	ReplyFarewell     = "感谢使用KnowledgeVault，期待再次相见"
	ReplyNotLinked    = "请先扫描二维码关联您的KnowledgeVault账户"
	ReplySaveFailed   = "❌ 保存失败，请稍后重试"
	ReplyUnsupported  = "暂不支持此类型消息"
	ReplyAutoSaveOff  = "该类型消息已关闭自动保存"
)

// Titles of media items.
const (
	TitleImage = "微信图片"
	TitleVoice = "微信语音"
	TitleVideo = "微信视频"
)

const (
	fallbackTitleRunes   = 30
	sourceMessagePrefix  = "wechat:"
	metadataPlatform     = "wechat"
	defaultSummaryRunes  = 100
	defaultSummaryBudget = 4 * time.Second
)

// Ingestor stores drafts as knowledge items.
type Ingestor interface {
	Ingest(ctx context.Context, draft *knowledge.Draft) (*knowledge.KnowledgeItem, error)
}

// Summarizer produces a title, summary and tags for long text.
type Summarizer interface {
	Analyze(ctx context.Context, in knowledge.AnalysisInput) (*knowledge.Analysis, error)
}

// ProfileSource looks up a follower's platform profile.
type ProfileSource interface {
	UserInfo(ctx context.Context, openID string) (*wx.UserInfo, error)
}

type RouterConfig struct {
	// AccountID is the reply sender when the inbound ToUserName is empty.
	AccountID string
	// Text with at least this many characters is summarized before saving.
	SummaryThreshold int
	SummaryTimeout   time.Duration

	DeactivateOnUnsubscribe bool
}

// Router turns one inbound message into one passive reply.
type Router struct {
	linker     *Linker
	store      Store
	ingestor   Ingestor
	summarizer Summarizer
	profiles   ProfileSource
	composer   wx.Composer
	cfg        RouterConfig
	now        func() time.Time
	log        *slog.Logger
}

// NewRouter builds a router. summarizer and profiles may be nil.
func NewRouter(linker *Linker, store Store, ingestor Ingestor, summarizer Summarizer, profiles ProfileSource, composer wx.Composer, cfg RouterConfig, log *slog.Logger) *Router {
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = defaultSummaryRunes
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryBudget
	}
	return &Router{
		linker:     linker,
		store:      store,
		ingestor:   ingestor,
		summarizer: summarizer,
		profiles:   profiles,
		composer:   composer,
		cfg:        cfg,
		now:        time.Now,
		log:        log.With(logger.Scope("wechat-router")),
	}
}

// Handle routes msg and returns the reply body. The only error returned is
// a failure to compose the reply.
func (r *Router) Handle(ctx context.Context, msg wx.Message) ([]byte, error) {
	h := msg.Envelope()
	kind := messageKind(msg)

	ctx, span := tracing.Start(ctx, "wechat.route",
		attribute.String("wechat.kind", kind),
		attribute.Int64("wechat.msg_id", h.MsgID),
	)
	defer span.End()

	text, outcome := r.route(ctx, h, msg, kind)
	messagesRouted.WithLabelValues(kind, outcome).Inc()

	body, err := r.reply(h, text)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return body, err
}

// HandleParseError answers a delivery that could not be decoded. A sender
// that can be identified is told the message is unsupported; otherwise the
// plain acknowledgment is returned.
func (r *Router) HandleParseError(ctx context.Context, perr *wx.ParseError) ([]byte, error) {
	r.log.Warn("unparseable wechat message",
		slog.String("msg_type", perr.MsgType),
		slog.String("reason", perr.Reason))
	messagesRouted.WithLabelValues("invalid", "unsupported").Inc()

	if perr.Header.FromUserName == "" {
		return []byte(wx.Ack), nil
	}
	return r.reply(perr.Header, ReplyUnsupported)
}

func (r *Router) reply(h wx.Header, text string) ([]byte, error) {
	from := h.ToUserName
	if from == "" {
		from = r.cfg.AccountID
	}
	return r.composer.Compose(h.FromUserName, from, text)
}

func (r *Router) route(ctx context.Context, h wx.Header, msg wx.Message, kind string) (string, string) {
	switch m := msg.(type) {
	case wx.EventMessage:
		return r.handleEvent(ctx, h, m)
	case wx.UnsupportedMessage:
		if strings.HasPrefix(m.RawType, "event:") {
			return ReplyUnsupported, "unsupported"
		}
	}

	integration, err := r.linker.FindByOpenID(ctx, h.FromUserName)
	if errors.Is(err, ErrIntegrationNotFound) || (err == nil && !integration.IsActive) {
		return ReplyNotLinked, "not_linked"
	}
	if err != nil {
		r.log.Error("integration lookup failed", logger.Error(err))
		return ReplySaveFailed, "error"
	}

	if _, ok := msg.(wx.UnsupportedMessage); ok {
		return ReplyUnsupported, "unsupported"
	}
	if !integration.Settings.AutoSaveEnabled(kind) {
		return ReplyAutoSaveOff, "skipped"
	}

	draft := r.buildDraft(ctx, integration, msg)
	item, err := r.ingestor.Ingest(ctx, draft)
	if err != nil {
		r.log.Error("ingestion failed",
			slog.String("integration_id", integration.ID),
			slog.String("kind", kind),
			logger.Error(err))
		return ReplySaveFailed, "error"
	}

	if err := r.store.TouchLastMessage(ctx, integration.ID, r.now()); err != nil {
		r.log.Warn("failed to update last message time",
			slog.String("integration_id", integration.ID),
			logger.Error(err))
	}
	return item.Title, "saved"
}

func (r *Router) handleEvent(ctx context.Context, h wx.Header, m wx.EventMessage) (string, string) {
	openID := h.FromUserName

	if m.Kind == wx.EventScan || (m.Kind == wx.EventSubscribe && m.SceneKey() != "") {
		return r.link(ctx, openID, m.SceneKey())
	}

	switch m.Kind {
	case wx.EventSubscribe:
		if r.cfg.DeactivateOnUnsubscribe {
			r.setActive(ctx, openID, true)
		}
		integration, err := r.linker.FindByOpenID(ctx, openID)
		if err == nil && integration.IsActive {
			return ReplyWelcomeBack, "subscribed"
		}
		return ReplyWelcomeNew, "subscribed"

	case wx.EventUnsubscribe:
		if r.cfg.DeactivateOnUnsubscribe {
			r.setActive(ctx, openID, false)
		}
		return ReplyFarewell, "unsubscribed"
	}
	return ReplyUnsupported, "unsupported"
}

func (r *Router) link(ctx context.Context, openID, token string) (string, string) {
	_, err := r.linker.ConsumeLinkToken(ctx, token, r.profile(ctx, openID))
	switch {
	case err == nil:
		return ReplyLinkSuccess, "linked"
	case errors.Is(err, ErrLinkTokenExpired):
		return ReplyLinkExpired, "link_expired"
	case errors.Is(err, ErrLinkTokenNotFound):
		return ReplyLinkNotFound, "link_not_found"
	}
	r.log.Error("link token consumption failed", logger.Error(err))
	return ReplyLinkNotFound, "error"
}

// profile returns what the platform knows about openID. Lookup failures
// leave only the open id set.
func (r *Router) profile(ctx context.Context, openID string) Profile {
	p := Profile{OpenID: openID}
	if r.profiles == nil {
		return p
	}
	info, err := r.profiles.UserInfo(ctx, openID)
	if err != nil {
		r.log.Warn("follower profile lookup failed", logger.Error(err))
		return p
	}
	p.UnionID = info.UnionID
	p.Nickname = info.Nickname
	p.AvatarURL = info.HeadImgURL
	return p
}

func (r *Router) setActive(ctx context.Context, openID string, active bool) {
	err := r.store.SetActive(ctx, openID, active)
	if err != nil && !errors.Is(err, ErrIntegrationNotFound) {
		r.log.Warn("failed to update integration state",
			slog.Bool("active", active),
			logger.Error(err))
	}
}

func (r *Router) buildDraft(ctx context.Context, integration *Integration, msg wx.Message) *knowledge.Draft {
	h := msg.Envelope()
	d := &knowledge.Draft{
		UserID: integration.UserID,
		Metadata: map[string]any{
			"platform":      metadataPlatform,
			"integrationId": integration.ID,
		},
	}
	if h.MsgID != 0 {
		id := strconv.FormatInt(h.MsgID, 10)
		d.Metadata["msgId"] = id
		d.SourceMessageID = sourceMessagePrefix + id
	}

	switch m := msg.(type) {
	case wx.TextMessage:
		r.textDraft(ctx, d, m.Content)

	case wx.ImageMessage:
		d.Type = knowledge.TypeImage
		d.Title = TitleImage
		d.Content = m.PicURL
		d.FileURL = m.PicURL
		d.Metadata["mediaId"] = m.MediaID
		d.Metadata["picUrl"] = m.PicURL

	case wx.VoiceMessage:
		d.Type = knowledge.TypeAudio
		d.Title = TitleVoice
		d.Content = m.Recognition
		d.Metadata["mediaId"] = m.MediaID
		d.Metadata["format"] = m.Format

	case wx.VideoMessage:
		d.Type = knowledge.TypeVideo
		d.Title = TitleVideo
		d.Metadata["mediaId"] = m.MediaID
		d.Metadata["thumbMediaId"] = m.ThumbMediaID
		if m.Short {
			d.Metadata["shortVideo"] = true
		}

	case wx.LinkMessage:
		d.Type = knowledge.TypeLink
		d.Title = m.Title
		if strings.TrimSpace(d.Title) == "" {
			d.Title = m.URL
		}
		d.Summary = m.Description
		d.Content = m.URL
		d.Metadata["url"] = m.URL
		if u, err := url.Parse(m.URL); err == nil {
			d.Metadata["domain"] = u.Hostname()
		}
	}
	return d
}

// textDraft saves short text verbatim and summarizes long text within the
// configured budget, falling back to a truncated title.
func (r *Router) textDraft(ctx context.Context, d *knowledge.Draft, content string) {
	d.Type = knowledge.TypeText
	d.Content = content

	if utf8.RuneCountInString(content) < r.cfg.SummaryThreshold {
		d.Title = content
		return
	}

	fallback := knowledge.Truncate(content, fallbackTitleRunes, "…")
	if r.summarizer == nil {
		d.Title = fallback
		return
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SummaryTimeout)
	defer cancel()

	analysis, err := r.summarizer.Analyze(sctx, knowledge.AnalysisInput{Content: content, Type: knowledge.TypeText})
	if err != nil {
		r.log.Info("summary unavailable, saving unprocessed", logger.Error(err))
		d.Title = fallback
		return
	}

	d.Title = analysis.Title
	if d.Title == "" {
		d.Title = fallback
	}
	d.Summary = analysis.Summary
	d.Tags = analysis.Tags
	d.IsProcessed = true
}

// messageKind names the auto-save category of msg.
func messageKind(msg wx.Message) string {
	switch m := msg.(type) {
	case wx.TextMessage:
		return KindText
	case wx.ImageMessage:
		return KindImage
	case wx.VoiceMessage:
		return KindVoice
	case wx.VideoMessage:
		return KindVideo
	case wx.LinkMessage:
		return KindLink
	case wx.EventMessage:
		return "event"
	case wx.UnsupportedMessage:
		if strings.HasPrefix(m.RawType, "event:") {
			return "event"
		}
	}
	return "unsupported"
}
