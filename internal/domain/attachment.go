package domain

import "context"

// RemoteFile is a retrievable descriptor for a platform attachment:
// a remote-relative path plus the platform's stable file identifier.
type RemoteFile struct {
	Path string
	ID   string
}

// AttachmentResolver turns a platform file reference into a retrievable
// remote file and knows how to build the authenticated download URL for it.
// Channels that deliver attachments implement this.
type AttachmentResolver interface {
	Resolve(ctx context.Context, fileID string) (RemoteFile, error)
	DownloadURL(remotePath string) string
}
