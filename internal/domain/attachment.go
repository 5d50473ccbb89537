package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// HostedFileDownloadContentType marks attachments whose bytes are served from
// content.downloadUrl instead of contentUrl.
const HostedFileDownloadContentType = "application/vnd.microsoft.teams.file.download.info"

// Attachment describes a file referenced by an incoming message.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// FileDownloadInfo is the content payload of a hosted-file attachment.
type FileDownloadInfo struct {
	DownloadURL string `json:"downloadUrl"`
	UniqueID    string `json:"uniqueId,omitempty"`
	FileType    string `json:"fileType,omitempty"`
}

// IsHostedFile reports whether the attachment uses the hosted-file variant.
func (a Attachment) IsHostedFile() bool {
	return strings.EqualFold(strings.TrimSpace(a.ContentType), HostedFileDownloadContentType)
}

// DownloadInfo decodes the hosted-file content payload. It returns false when
// the content is absent, null or not an object.
func (a Attachment) DownloadInfo() (FileDownloadInfo, bool) {
	raw := bytes.TrimSpace(a.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return FileDownloadInfo{}, false
	}
	var info FileDownloadInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return FileDownloadInfo{}, false
	}
	return info, true
}
