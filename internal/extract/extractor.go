package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"chatbridge/internal/domain"
)

// DataURLCache is an optional lookaside cache for converted attachments,
// keyed by channel and the platform's stable file identifier.
type DataURLCache interface {
	Get(ctx context.Context, channel, fileID string) (name, dataURL string, ok bool)
	Put(ctx context.Context, channel, fileID, name, dataURL string) error
}

// Extractor turns one inbound message into an ordered prompt envelope:
// text first, then at most one image converted from a photo or an image
// document. It never fails on absent fields; only attachment resolution,
// download, and encoding can produce errors.
type Extractor struct {
	files  domain.FileStore
	cache  DataURLCache // nil disables caching
	logger *slog.Logger
}

type Config struct {
	Files  domain.FileStore
	Cache  DataURLCache
	Logger *slog.Logger
}

func New(cfg Config) *Extractor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		files:  cfg.Files,
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}
}

// Extract builds the prompt envelope for msg. Photos take precedence over
// documents; a document is only considered when no photo is present and its
// MIME hint starts with "image/". The returned envelope may be empty, which
// is a meaningful state the dispatcher short-circuits on.
func (e *Extractor) Extract(ctx context.Context, msg domain.InboundMessage, resolver domain.AttachmentResolver) (domain.PromptEnvelope, error) {
	env := domain.PromptEnvelope{CreatedAt: time.Now()}

	if msg.Text != "" {
		env.Parts = append(env.Parts, domain.TextPart(msg.Text))
	}

	switch {
	case len(msg.Photo) > 0:
		// Variants arrive ascending by size; always take the last one for
		// maximum fidelity.
		best := msg.Photo[len(msg.Photo)-1]
		part, ok, err := e.attachmentPart(ctx, msg.Channel, resolver, best.FileID)
		if err != nil {
			return domain.PromptEnvelope{}, fmt.Errorf("photo %s: %w", best.FileID, err)
		}
		if ok {
			env.Parts = append(env.Parts, part)
		}

	case msg.Document != nil && isImageMime(msg.Document.MimeType):
		part, ok, err := e.attachmentPart(ctx, msg.Channel, resolver, msg.Document.FileID)
		if err != nil {
			return domain.PromptEnvelope{}, fmt.Errorf("document %s: %w", msg.Document.FileID, err)
		}
		if ok {
			env.Parts = append(env.Parts, part)
		}
	}

	return env, nil
}

// attachmentPart resolves fileID and converts it to an image part, consulting
// the cache first. ok is false when resolution yields nothing usable, which
// is skipped silently per the extraction contract.
func (e *Extractor) attachmentPart(ctx context.Context, channel string, resolver domain.AttachmentResolver, fileID string) (domain.ContentPart, bool, error) {
	if fileID == "" || resolver == nil {
		return domain.ContentPart{}, false, nil
	}

	remote, err := resolver.Resolve(ctx, fileID)
	if err != nil {
		return domain.ContentPart{}, false, fmt.Errorf("resolve attachment: %w", err)
	}
	if remote.Path == "" {
		return domain.ContentPart{}, false, nil
	}

	if e.cache != nil {
		if name, dataURL, ok := e.cache.Get(ctx, channel, remote.ID); ok {
			return domain.ImagePart(name, dataURL), true, nil
		}
	}

	part, err := e.imagePart(ctx, resolver, remote)
	if err != nil {
		return domain.ContentPart{}, false, err
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, channel, remote.ID, part.Name, part.DataURL); err != nil {
			e.logger.Warn("attachment cache write failed", "file_id", remote.ID, "err", err)
		}
	}
	return part, true, nil
}

// imagePart downloads remote into a scoped temp directory, base64-encodes it
// and composes the data URL. The downloaded file is deleted right after
// encoding, whether or not encoding succeeded; the temp directory itself is
// released on every exit path.
func (e *Extractor) imagePart(ctx context.Context, resolver domain.AttachmentResolver, remote domain.RemoteFile) (domain.ContentPart, error) {
	dir, release, err := e.files.TempDir()
	if err != nil {
		return domain.ContentPart{}, fmt.Errorf("temp dir: %w", err)
	}
	defer release()

	url := resolver.DownloadURL(remote.Path)
	local := filepath.Join(dir, filepath.Base(remote.Path))

	if err := e.files.Download(ctx, url, local); err != nil {
		return domain.ContentPart{}, fmt.Errorf("download attachment: %w", err)
	}

	encoded, encErr := e.files.EncodeBase64(local)
	if delErr := e.files.Delete(local); delErr != nil {
		// Best effort: a failed deletion must not mask the encode result.
		e.logger.Warn("attachment temp file delete failed", "path", local, "err", delErr)
	}
	if encErr != nil {
		return domain.ContentPart{}, fmt.Errorf("encode attachment: %w", encErr)
	}

	mime := e.files.MimeForExtension(filepath.Ext(remote.Path))
	dataURL := "data:" + mime + ";base64," + encoded
	return domain.ImagePart(remote.Path, dataURL), nil
}

func isImageMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}
