package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
	"github.com/Jalalidin/knowledgevault-sub001/internal/storage"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/llm"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

type fakeProcessingStore struct {
	items      map[string]*KnowledgeItem
	processed  map[string]*Analysis
	failed     map[string]string
	attachment map[string]Attachment
}

func newFakeProcessingStore(items ...*KnowledgeItem) *fakeProcessingStore {
	f := &fakeProcessingStore{
		items:      map[string]*KnowledgeItem{},
		processed:  map[string]*Analysis{},
		failed:     map[string]string{},
		attachment: map[string]Attachment{},
	}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeProcessingStore) GetByID(_ context.Context, id string) (*KnowledgeItem, error) {
	if it, ok := f.items[id]; ok {
		return it, nil
	}
	return nil, ErrItemNotFound
}

func (f *fakeProcessingStore) MarkProcessed(_ context.Context, id string, a *Analysis) error {
	f.processed[id] = a
	f.items[id].IsProcessed = true
	return nil
}

func (f *fakeProcessingStore) MarkFailed(_ context.Context, id string, reason string) error {
	f.failed[id] = reason
	return nil
}

func (f *fakeProcessingStore) SetAttachment(_ context.Context, id string, a Attachment) error {
	f.attachment[id] = a
	return nil
}

type fakeObjects struct {
	keys []string
}

func (f *fakeObjects) Enabled() bool { return true }

func (f *fakeObjects) Upload(_ context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error) {
	f.keys = append(f.keys, key)
	return &storage.UploadResult{Key: key, Bucket: "b", Size: size, StorageURL: "b/" + key}, nil
}

type fakeMedia struct {
	configured bool
	mediaIDs   []string
	urls       []string
	err        error
}

func (f *fakeMedia) Configured() bool { return f.configured }

func (f *fakeMedia) DownloadMedia(_ context.Context, id string) (*wechat.Media, error) {
	f.mediaIDs = append(f.mediaIDs, id)
	if f.err != nil {
		return nil, f.err
	}
	return &wechat.Media{Data: []byte("amr"), ContentType: "audio/amr", Filename: id + ".amr"}, nil
}

func (f *fakeMedia) Download(_ context.Context, url string) (*wechat.Media, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &wechat.Media{Data: []byte("jpeg"), ContentType: "image/jpeg"}, nil
}

func strPtr(s string) *string { return &s }

func TestProcessor_TextItemAnalyzed(t *testing.T) {
	item := &KnowledgeItem{ID: "i1", UserID: "u1", Type: TypeText, Title: "long note…", Content: strPtr("long note body")}
	store := newFakeProcessingStore(item)
	p := NewProcessor(store, NewAnalyzer(&fakeProvider{reply: "Title: Note\nSummary: S\nTags: x"}), &fakeObjects{}, &fakeMedia{}, slog.Default())

	require.NoError(t, p.Process(context.Background(), jobs.Job{ID: "j1", EntityID: "i1"}))

	require.Contains(t, store.processed, "i1")
	assert.Equal(t, "Note", store.processed["i1"].Title)
	assert.Empty(t, store.attachment)
}

func TestProcessor_ImageArchivedByPicURL(t *testing.T) {
	item := &KnowledgeItem{
		ID: "i2", UserID: "u1", Type: TypeImage, Title: "微信图片",
		FileURL:  strPtr("http://mmbiz.example/pic.jpg"),
		Metadata: map[string]any{"mediaId": "m1", "platform": "wechat"},
	}
	store := newFakeProcessingStore(item)
	objects := &fakeObjects{}
	media := &fakeMedia{configured: false}
	p := NewProcessor(store, NewAnalyzer(llm.Disabled{}), objects, media, slog.Default())

	require.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "i2"}))

	assert.Equal(t, []string{"http://mmbiz.example/pic.jpg"}, media.urls)
	require.Len(t, objects.keys, 1)
	assert.Contains(t, objects.keys[0], "u1/i2/")
	assert.Contains(t, objects.keys[0], "-image.jpg")
	assert.Equal(t, "image.jpg", store.attachment["i2"].FileName)
	assert.Contains(t, store.processed, "i2")
	assert.Nil(t, store.processed["i2"])
}

func TestProcessor_VoiceFetchedThroughMediaAPI(t *testing.T) {
	item := &KnowledgeItem{
		ID: "i3", UserID: "u1", Type: TypeAudio, Title: "微信语音",
		Metadata: map[string]any{"mediaId": "voice-1", "format": "amr"},
	}
	store := newFakeProcessingStore(item)
	media := &fakeMedia{configured: true}
	p := NewProcessor(store, NewAnalyzer(&fakeProvider{reply: "Title: unused"}), &fakeObjects{}, media, slog.Default())

	require.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "i3"}))

	assert.Equal(t, []string{"voice-1"}, media.mediaIDs)
	assert.Equal(t, "voice-1.amr", store.attachment["i3"].FileName)
	// no transcription, nothing to analyze
	assert.Nil(t, store.processed["i3"])
}

func TestProcessor_FailureRecorded(t *testing.T) {
	item := &KnowledgeItem{ID: "i4", UserID: "u1", Type: TypeText, Title: "t", Content: strPtr("c")}
	store := newFakeProcessingStore(item)
	p := NewProcessor(store, NewAnalyzer(&fakeProvider{err: errors.New("quota")}), &fakeObjects{}, &fakeMedia{}, slog.Default())

	err := p.Process(context.Background(), jobs.Job{EntityID: "i4"})

	require.Error(t, err)
	assert.Contains(t, store.failed["i4"], "quota")
	assert.NotContains(t, store.processed, "i4")
}

func TestProcessor_LinkKeepsSharedTitle(t *testing.T) {
	item := &KnowledgeItem{
		ID: "i5", UserID: "u1", Type: TypeLink, Title: "Shared article",
		Summary: strPtr("desc"), Content: strPtr("https://example.com/a"),
	}
	store := newFakeProcessingStore(item)
	provider := &fakeProvider{reply: "Title: Model title\nSummary: S\nTags: web"}
	p := NewProcessor(store, NewAnalyzer(provider), &fakeObjects{}, &fakeMedia{}, slog.Default())

	require.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "i5"}))

	assert.Empty(t, store.processed["i5"].Title)
	assert.Equal(t, []string{"web"}, store.processed["i5"].Tags)
	assert.Contains(t, provider.prompt, "Title: Shared article")
}

func TestProcessor_SkipsMissingAndProcessedItems(t *testing.T) {
	done := &KnowledgeItem{ID: "i6", Type: TypeText, IsProcessed: true}
	store := newFakeProcessingStore(done)
	p := NewProcessor(store, NewAnalyzer(&fakeProvider{}), &fakeObjects{}, &fakeMedia{}, slog.Default())

	assert.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "gone"}))
	assert.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "i6"}))
	assert.Empty(t, store.processed)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".amr", extensionFor("audio/amr; codecs=amr"))
	assert.Equal(t, "", extensionFor("application/octet-stream"))
}

func TestProcessor_ShortTextKeepsTitle(t *testing.T) {
	item := &KnowledgeItem{ID: "i7", UserID: "u1", Type: TypeText, Title: "买牛奶", Content: strPtr("买牛奶")}
	store := newFakeProcessingStore(item)
	p := NewProcessor(store, NewAnalyzer(&fakeProvider{reply: "Title: 购物\nTags: 生活"}), &fakeObjects{}, &fakeMedia{}, slog.Default())

	require.NoError(t, p.Process(context.Background(), jobs.Job{EntityID: "i7"}))

	assert.Empty(t, store.processed["i7"].Title)
	assert.Equal(t, []string{"生活"}, store.processed["i7"].Tags)
}
