package usecase

import (
	"strings"

	"upload-files-skill/internal/domain"
)

const (
	// DefaultObjectName names the stored object when the attachment has no name.
	DefaultObjectName = "uploadithelper"
	// DefaultContainer is the storage container every relay writes into.
	DefaultContainer = "uploadithelper"
)

// ResolvedSource is where an attachment's bytes come from and the name they
// are stored under.
type ResolvedSource struct {
	SourceURL   string
	DisplayName string
}

// AttachmentResolver classifies attachments. The zero value is ready to use.
type AttachmentResolver struct {
	// DefaultName overrides DefaultObjectName when set.
	DefaultName string
}

// ResolveFirst resolves the first attachment of a turn; the rest are ignored.
func (r *AttachmentResolver) ResolveFirst(attachments []domain.Attachment) (ResolvedSource, error) {
	if len(attachments) == 0 {
		return ResolvedSource{}, newError(ErrorMissingSource, "no_attachments", nil)
	}
	return r.Resolve(attachments[0])
}

// Resolve picks content.downloadUrl for hosted files and contentUrl for
// everything else.
func (r *AttachmentResolver) Resolve(att domain.Attachment) (ResolvedSource, error) {
	var source string
	if att.IsHostedFile() {
		info, ok := att.DownloadInfo()
		if !ok || strings.TrimSpace(info.DownloadURL) == "" {
			return ResolvedSource{}, newError(ErrorUnsupportedAttachment, "missing_download_url", nil)
		}
		source = strings.TrimSpace(info.DownloadURL)
	} else {
		source = strings.TrimSpace(att.ContentURL)
		if source == "" {
			return ResolvedSource{}, newError(ErrorUnsupportedAttachment, "missing_content_url", nil)
		}
	}
	return ResolvedSource{SourceURL: source, DisplayName: r.displayName(att.Name)}, nil
}

func (r *AttachmentResolver) displayName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if r != nil && strings.TrimSpace(r.DefaultName) != "" {
		return strings.TrimSpace(r.DefaultName)
	}
	return DefaultObjectName
}
