package extension

import (
	"encoding/json"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// Source tags identify which side of the channel sent a message.
const (
	SourceWebapp = "utags-webapp"
	SourcePeer   = "utags-extension"

	// BroadcastTarget addresses every peer.
	BroadcastTarget = "*"
)

// Message types.
const (
	TypePing              = "PING"
	TypeGetAuthStatus     = "GET_AUTH_STATUS"
	TypeGetRemoteMetadata = "GET_REMOTE_METADATA"
	TypeDownloadData      = "DOWNLOAD_DATA"
	TypeUploadData        = "UPLOAD_DATA"
	TypeDiscover          = "DISCOVER_UTAGS_TARGETS"
	TypeDiscoveryResponse = "DISCOVERY_RESPONSE"

	// Pong is the payload a live peer answers PING with.
	Pong = "PONG"
)

// Message is one frame on the channel. Field names are the wire contract
// shared with the extension and must not change.
type Message struct {
	Source            string          `json:"source"`
	ID                string          `json:"id"`
	ExtensionID       string          `json:"extensionId,omitempty"`
	TargetExtensionID string          `json:"targetExtensionId,omitempty"`
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// UploadPayload is the body of an UPLOAD_DATA request.
type UploadPayload struct {
	Data     string               `json:"data"`
	Metadata *domain.SyncMetadata `json:"metadata,omitempty"`
}

// DownloadPayload is the body of a DOWNLOAD_DATA response.
type DownloadPayload struct {
	Data       *string              `json:"data"`
	RemoteMeta *domain.SyncMetadata `json:"remoteMeta"`
}

// DiscoveryPayload is the body of a DISCOVERY_RESPONSE.
type DiscoveryPayload struct {
	ExtensionID   string `json:"extensionId,omitempty"`
	ExtensionName string `json:"extensionName,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

// isNull reports an absent or JSON null payload.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
