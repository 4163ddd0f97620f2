package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"chatbridge/internal/domain"
)

// fakeFiles implements domain.FileStore in memory and records the order of
// operations so cleanup sequencing can be asserted.
type fakeFiles struct {
	payload     []byte
	downloadErr error
	encodeErr   error
	ops         []string
}

func (f *fakeFiles) TempDir() (string, func(), error) {
	f.ops = append(f.ops, "tempdir")
	return "/tmp/fake", func() { f.ops = append(f.ops, "release") }, nil
}

func (f *fakeFiles) Download(ctx context.Context, url, destPath string) error {
	f.ops = append(f.ops, "download "+url+" -> "+destPath)
	return f.downloadErr
}

func (f *fakeFiles) EncodeBase64(path string) (string, error) {
	f.ops = append(f.ops, "encode "+path)
	if f.encodeErr != nil {
		return "", f.encodeErr
	}
	return base64.StdEncoding.EncodeToString(f.payload), nil
}

func (f *fakeFiles) Delete(path string) error {
	f.ops = append(f.ops, "delete "+path)
	return nil
}

func (f *fakeFiles) MimeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

type fakeResolver struct {
	files    map[string]domain.RemoteFile
	err      error
	resolved []string
}

func (r *fakeResolver) Resolve(ctx context.Context, fileID string) (domain.RemoteFile, error) {
	r.resolved = append(r.resolved, fileID)
	if r.err != nil {
		return domain.RemoteFile{}, r.err
	}
	return r.files[fileID], nil
}

func (r *fakeResolver) DownloadURL(remotePath string) string {
	return "https://files.example/bot/" + remotePath
}

func newTestExtractor(files *fakeFiles) *Extractor {
	return New(Config{Files: files})
}

func TestExtract_TextOnly(t *testing.T) {
	ex := newTestExtractor(&fakeFiles{})
	env, err := ex.Extract(context.Background(), domain.InboundMessage{Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(env.Parts))
	}
	if env.Parts[0].Kind != domain.PartText || env.Parts[0].Value != "hello" {
		t.Fatalf("unexpected part: %+v", env.Parts[0])
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt set")
	}
}

func TestExtract_EmptyMessage(t *testing.T) {
	ex := newTestExtractor(&fakeFiles{})
	env, err := ex.Extract(context.Background(), domain.InboundMessage{}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !env.Empty() {
		t.Fatalf("expected empty envelope, got %d parts", len(env.Parts))
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt set even for empty envelope")
	}
}

func TestExtract_PhotoPicksHighestResolution(t *testing.T) {
	files := &fakeFiles{payload: []byte("pixels")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"b": {Path: "photos/large.png", ID: "b"},
	}}

	msg := domain.InboundMessage{
		Photo: []domain.PhotoSize{
			{FileID: "a", Width: 90, Height: 90},
			{FileID: "b", Width: 1280, Height: 1280},
		},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(resolver.resolved) != 1 || resolver.resolved[0] != "b" {
		t.Fatalf("expected only highest-resolution variant resolved, got %v", resolver.resolved)
	}
	if len(env.Parts) != 1 || env.Parts[0].Kind != domain.PartImage {
		t.Fatalf("expected single image part, got %+v", env.Parts)
	}
	if env.Parts[0].Name != "photos/large.png" {
		t.Fatalf("expected part name = remote path, got %q", env.Parts[0].Name)
	}
	wantPrefix := "data:image/png;base64,"
	if !strings.HasPrefix(env.Parts[0].DataURL, wantPrefix) {
		t.Fatalf("data URL prefix mismatch: %q", env.Parts[0].DataURL)
	}
}

func TestExtract_TextBeforeImage(t *testing.T) {
	files := &fakeFiles{payload: []byte("pixels")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
	}}

	msg := domain.InboundMessage{
		Text:  "look at this",
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(env.Parts))
	}
	if env.Parts[0].Kind != domain.PartText || env.Parts[1].Kind != domain.PartImage {
		t.Fatalf("expected text before image, got %v then %v", env.Parts[0].Kind, env.Parts[1].Kind)
	}
}

func TestExtract_DataURLRoundTrip(t *testing.T) {
	original := []byte{0x00, 0xff, 0x10, 0x20, 'i', 'm', 'g'}
	files := &fakeFiles{payload: original}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/raw.jpg", ID: "p"},
	}}

	env, err := ex.Extract(context.Background(), domain.InboundMessage{
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	dataURL := env.Parts[0].DataURL
	idx := strings.Index(dataURL, ";base64,")
	if idx < 0 {
		t.Fatalf("malformed data URL: %q", dataURL)
	}
	decoded, err := base64.StdEncoding.DecodeString(dataURL[idx+len(";base64,"):])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != string(original) {
		t.Fatalf("round trip mismatch: got %v want %v", decoded, original)
	}
}

func TestExtract_NonImageDocumentDropped(t *testing.T) {
	files := &fakeFiles{payload: []byte("doc")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"d": {Path: "documents/report.pdf", ID: "d"},
	}}

	msg := domain.InboundMessage{
		Text:     "see attached",
		Document: &domain.DocumentRef{FileID: "d", FileName: "report.pdf", MimeType: "application/pdf"},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Parts) != 1 || env.Parts[0].Kind != domain.PartText {
		t.Fatalf("expected text part only, got %+v", env.Parts)
	}
	if len(resolver.resolved) != 0 {
		t.Fatalf("expected no resolution for non-image document, got %v", resolver.resolved)
	}
}

func TestExtract_ImageDocumentConverted(t *testing.T) {
	files := &fakeFiles{payload: []byte("img")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"d": {Path: "documents/scan.png", ID: "d"},
	}}

	msg := domain.InboundMessage{
		Document: &domain.DocumentRef{FileID: "d", FileName: "scan.png", MimeType: "image/png"},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Parts) != 1 || env.Parts[0].Kind != domain.PartImage {
		t.Fatalf("expected image part, got %+v", env.Parts)
	}
}

func TestExtract_PhotoTakesPrecedenceOverDocument(t *testing.T) {
	files := &fakeFiles{payload: []byte("img")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
		"d": {Path: "documents/d.png", ID: "d"},
	}}

	msg := domain.InboundMessage{
		Photo:    []domain.PhotoSize{{FileID: "p"}},
		Document: &domain.DocumentRef{FileID: "d", MimeType: "image/png"},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(resolver.resolved) != 1 || resolver.resolved[0] != "p" {
		t.Fatalf("expected only the photo resolved, got %v", resolver.resolved)
	}
	if len(env.Parts) != 1 || env.Parts[0].Name != "photos/p.jpg" {
		t.Fatalf("expected photo part, got %+v", env.Parts)
	}
}

func TestExtract_EmptyResolutionSkippedSilently(t *testing.T) {
	files := &fakeFiles{}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{}} // resolves to zero value

	msg := domain.InboundMessage{
		Text:  "hi",
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}
	env, err := ex.Extract(context.Background(), msg, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(env.Parts) != 1 || env.Parts[0].Kind != domain.PartText {
		t.Fatalf("expected text part only, got %+v", env.Parts)
	}
	if len(files.ops) != 0 {
		t.Fatalf("expected no file operations, got %v", files.ops)
	}
}

func TestExtract_ResolveErrorPropagates(t *testing.T) {
	boom := errors.New("resolve failed")
	ex := newTestExtractor(&fakeFiles{})
	resolver := &fakeResolver{err: boom}

	_, err := ex.Extract(context.Background(), domain.InboundMessage{
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}, resolver)
	if !errors.Is(err, boom) {
		t.Fatalf("expected resolve error, got %v", err)
	}
}

func TestExtract_DeleteFollowsEncodeOnSuccess(t *testing.T) {
	files := &fakeFiles{payload: []byte("img")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
	}}

	if _, err := ex.Extract(context.Background(), domain.InboundMessage{
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}, resolver); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []string{
		"tempdir",
		"download https://files.example/bot/photos/p.jpg -> /tmp/fake/p.jpg",
		"encode /tmp/fake/p.jpg",
		"delete /tmp/fake/p.jpg",
		"release",
	}
	if fmt.Sprint(files.ops) != fmt.Sprint(want) {
		t.Fatalf("operation order mismatch:\n got  %v\n want %v", files.ops, want)
	}
}

func TestExtract_DeleteStillRunsWhenEncodeFails(t *testing.T) {
	files := &fakeFiles{encodeErr: errors.New("encode failed")}
	ex := newTestExtractor(files)
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
	}}

	_, err := ex.Extract(context.Background(), domain.InboundMessage{
		Photo: []domain.PhotoSize{{FileID: "p"}},
	}, resolver)
	if err == nil {
		t.Fatal("expected encode error")
	}

	var sawDelete, sawRelease bool
	for _, op := range files.ops {
		if strings.HasPrefix(op, "delete ") {
			sawDelete = true
		}
		if op == "release" {
			sawRelease = true
		}
	}
	if !sawDelete {
		t.Fatalf("expected delete despite encode failure, ops: %v", files.ops)
	}
	if !sawRelease {
		t.Fatalf("expected temp dir release despite encode failure, ops: %v", files.ops)
	}
}

// memCache implements DataURLCache for tests.
type memCache struct {
	entries map[string][2]string
	puts    int
}

func (c *memCache) key(channel, fileID string) string { return channel + "/" + fileID }

func (c *memCache) Get(ctx context.Context, channel, fileID string) (string, string, bool) {
	e, ok := c.entries[c.key(channel, fileID)]
	return e[0], e[1], ok
}

func (c *memCache) Put(ctx context.Context, channel, fileID, name, dataURL string) error {
	if c.entries == nil {
		c.entries = make(map[string][2]string)
	}
	c.entries[c.key(channel, fileID)] = [2]string{name, dataURL}
	c.puts++
	return nil
}

func TestExtract_CacheHitSkipsDownload(t *testing.T) {
	files := &fakeFiles{}
	cache := &memCache{entries: map[string][2]string{
		"telegram/p": {"photos/p.jpg", "data:image/jpeg;base64,YWJj"},
	}}
	ex := New(Config{Files: files, Cache: cache})
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
	}}

	env, err := ex.Extract(context.Background(), domain.InboundMessage{
		Channel: "telegram",
		Photo:   []domain.PhotoSize{{FileID: "p"}},
	}, resolver)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(files.ops) != 0 {
		t.Fatalf("expected no file operations on cache hit, got %v", files.ops)
	}
	if len(env.Parts) != 1 || env.Parts[0].DataURL != "data:image/jpeg;base64,YWJj" {
		t.Fatalf("unexpected cached part: %+v", env.Parts)
	}
}

func TestExtract_CachePopulatedAfterConversion(t *testing.T) {
	files := &fakeFiles{payload: []byte("img")}
	cache := &memCache{}
	ex := New(Config{Files: files, Cache: cache})
	resolver := &fakeResolver{files: map[string]domain.RemoteFile{
		"p": {Path: "photos/p.jpg", ID: "p"},
	}}

	if _, err := ex.Extract(context.Background(), domain.InboundMessage{
		Channel: "telegram",
		Photo:   []domain.PhotoSize{{FileID: "p"}},
	}, resolver); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cache.puts != 1 {
		t.Fatalf("expected 1 cache write, got %d", cache.puts)
	}
}
