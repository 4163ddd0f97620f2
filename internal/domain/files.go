package domain

import "context"

// FileStore is the local file helper used while converting attachments:
// scoped temp directories, network download, base64 encoding, deletion, and
// extension-to-MIME resolution.
type FileStore interface {
	// TempDir creates a scoped temporary directory and returns its path
	// together with a release func that removes the directory and anything
	// left inside it.
	TempDir() (string, func(), error)
	Download(ctx context.Context, url, destPath string) error
	EncodeBase64(path string) (string, error)
	Delete(path string) error
	MimeForExtension(ext string) string
}
