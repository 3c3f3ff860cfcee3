package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"

	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
	"github.com/Jalalidin/knowledgevault-sub001/internal/storage"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

// ProcessingStore is the persistence the processor needs.
type ProcessingStore interface {
	GetByID(ctx context.Context, id string) (*KnowledgeItem, error)
	MarkProcessed(ctx context.Context, id string, analysis *Analysis) error
	MarkFailed(ctx context.Context, id string, reason string) error
	SetAttachment(ctx context.Context, id string, a Attachment) error
}

// ObjectStore archives media.
type ObjectStore interface {
	Enabled() bool
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error)
}

// MediaSource fetches platform media.
type MediaSource interface {
	Configured() bool
	DownloadMedia(ctx context.Context, mediaID string) (*wechat.Media, error)
	Download(ctx context.Context, url string) (*wechat.Media, error)
}

// Processor completes items stored unprocessed: it archives their media and
// runs AI analysis.
type Processor struct {
	store    ProcessingStore
	analyzer *Analyzer
	objects  ObjectStore
	media    MediaSource
	log      *slog.Logger
}

func NewProcessor(store ProcessingStore, analyzer *Analyzer, objects ObjectStore, media MediaSource, log *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		analyzer: analyzer,
		objects:  objects,
		media:    media,
		log:      log.With(logger.Scope("knowledge-processor")),
	}
}

// Process handles one queued job. Returning an error reschedules the job.
func (p *Processor) Process(ctx context.Context, job jobs.Job) error {
	item, err := p.store.GetByID(ctx, job.EntityID)
	if errors.Is(err, ErrItemNotFound) {
		p.log.Info("item gone, dropping job", slog.String("item_id", job.EntityID))
		return nil
	}
	if err != nil {
		return err
	}
	if item.IsProcessed {
		return nil
	}

	if err := p.process(ctx, item); err != nil {
		processedTotal.WithLabelValues(string(item.Type), "error").Inc()
		if markErr := p.store.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
			p.log.Error("failed to record processing error",
				slog.String("item_id", item.ID),
				logger.Error(markErr))
		}
		return err
	}

	processedTotal.WithLabelValues(string(item.Type), "processed").Inc()
	return nil
}

func (p *Processor) process(ctx context.Context, item *KnowledgeItem) error {
	if err := p.archive(ctx, item); err != nil {
		return fmt.Errorf("archive media: %w", err)
	}

	analysis, err := p.analyze(ctx, item)
	if err != nil {
		return err
	}
	return p.store.MarkProcessed(ctx, item.ID, analysis)
}

// archive copies the item's media into object storage. Items without
// fetchable media, or with media already archived, are left alone.
func (p *Processor) archive(ctx context.Context, item *KnowledgeItem) error {
	if item.ObjectPath != nil || p.objects == nil || !p.objects.Enabled() {
		return nil
	}

	media, err := p.fetchMedia(ctx, item)
	if err != nil || media == nil {
		return err
	}

	filename := media.Filename
	if filename == "" {
		filename = string(item.Type)
	}
	if path.Ext(filename) == "" {
		filename += extensionFor(media.ContentType)
	}

	key := storage.ObjectKey(item.UserID, item.ID, filename)
	res, err := p.objects.Upload(ctx, key, bytes.NewReader(media.Data), int64(len(media.Data)), storage.UploadOptions{
		ContentType: media.ContentType,
		Metadata: map[string]string{
			"item-id": item.ID,
			"source":  item.MetadataString("platform"),
		},
	})
	if err != nil {
		return err
	}

	return p.store.SetAttachment(ctx, item.ID, Attachment{
		ObjectPath: res.StorageURL,
		FileName:   filename,
		FileSize:   res.Size,
		MimeType:   media.ContentType,
	})
}

func (p *Processor) fetchMedia(ctx context.Context, item *KnowledgeItem) (*wechat.Media, error) {
	if p.media == nil {
		return nil, nil
	}
	mediaID := item.MetadataString("mediaId")

	switch item.Type {
	case TypeImage:
		if mediaID != "" && p.media.Configured() {
			return p.media.DownloadMedia(ctx, mediaID)
		}
		if item.FileURL != nil {
			return p.media.Download(ctx, *item.FileURL)
		}
	case TypeAudio, TypeVideo:
		if mediaID != "" && p.media.Configured() {
			return p.media.DownloadMedia(ctx, mediaID)
		}
	}
	return nil, nil
}

// analyze returns nil when there is nothing to analyze or no model.
func (p *Processor) analyze(ctx context.Context, item *KnowledgeItem) (*Analysis, error) {
	if p.analyzer == nil || !p.analyzer.Enabled() {
		return nil, nil
	}

	content := ""
	if item.Content != nil {
		content = *item.Content
	}

	in := AnalysisInput{Type: item.Type, Content: content}
	switch item.Type {
	case TypeText:
	case TypeAudio:
		// only the platform transcription is analyzable
		if content == "" {
			return nil, nil
		}
	case TypeLink:
		in.Title = item.Title
		if item.Summary != nil {
			in.Content = *item.Summary + "\n" + content
		}
	default:
		return nil, nil
	}

	analysis, err := p.analyzer.Analyze(ctx, in)
	if err != nil {
		return nil, err
	}
	// Shared link titles and short notes stored verbatim keep their title.
	if (item.Type == TypeLink && item.Title != content) || (item.Type == TypeText && item.Title == content) {
		analysis.Title = ""
	}
	return analysis, nil
}

func extensionFor(contentType string) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "audio/amr":
		return ".amr"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	}
	return ""
}
