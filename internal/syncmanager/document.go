package syncmanager

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
)

// EncodeDocument serializes bookmarks into the exchanged payload.
func EncodeDocument(bookmarks domain.Collection, exportedAt int64) (string, error) {
	if bookmarks == nil {
		bookmarks = domain.Collection{}
	}
	raw, err := json.Marshal(domain.SyncDocument{
		Version:    domain.SyncDocumentVersion,
		ExportedAt: exportedAt,
		Bookmarks:  bookmarks,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sync document: %w", err)
	}
	return string(raw), nil
}

// DecodeDocument parses a payload. A bare url->entry object without the
// envelope is accepted too. Entries without tags are dropped.
func DecodeDocument(data string) (domain.Collection, error) {
	trimmed := bytes.TrimSpace([]byte(data))
	if len(trimmed) == 0 {
		return domain.Collection{}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, &syncadapter.DataError{What: "sync document", Err: err}
	}

	var bookmarks domain.Collection
	if _, ok := probe["bookmarks"]; ok {
		var doc domain.SyncDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &syncadapter.DataError{What: "sync document", Err: err}
		}
		if doc.Version > domain.SyncDocumentVersion {
			return nil, &syncadapter.DataError{What: "sync document", Err: fmt.Errorf("unsupported version %d", doc.Version)}
		}
		bookmarks = doc.Bookmarks
	} else if err := json.Unmarshal(trimmed, &bookmarks); err != nil {
		return nil, &syncadapter.DataError{What: "sync document", Err: err}
	}

	out := make(domain.Collection, len(bookmarks))
	for url, e := range bookmarks {
		if url == "" || e == nil {
			continue
		}
		e.Tags = domain.NormalizeTags(e.Tags)
		if len(e.Tags) == 0 {
			continue
		}
		out[url] = e
	}
	return out, nil
}
