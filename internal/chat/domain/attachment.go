package domain

import (
	"path"
	"strings"
)

// Attachment uploaded file, URL 為有時效的 presigned url
type Attachment struct {
	ObjectKey   string `json:"object_key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// AttachmentPrefix room 底下的 object key prefix
func AttachmentPrefix(roomID string) string {
	return "rooms/" + roomID + "/"
}

// AttachmentKey rooms/<roomID>/<id>-<name>
func AttachmentKey(roomID, id, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return AttachmentPrefix(roomID) + id + "-" + name
}
