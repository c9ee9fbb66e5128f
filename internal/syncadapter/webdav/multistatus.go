package webdav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// propfindBody asks for the properties needed to fingerprint a resource.
const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getetag/>
    <D:getlastmodified/>
    <D:getcontentlength/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	DisplayName   string       `xml:"DAV: displayname"`
	ETag          string       `xml:"DAV: getetag"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	ResourceType  resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// resource is the parsed state of one PROPFIND target.
type resource struct {
	Href         string
	ETag         string
	LastModified string
	IsCollection bool
}

// parseMultistatus extracts the first response with a 200 propstat.
func parseMultistatus(body []byte) (*resource, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}

	for _, r := range ms.Responses {
		for _, ps := range r.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
				continue
			}
			return &resource{
				Href:         r.Href,
				ETag:         strings.TrimSpace(ps.Prop.ETag),
				LastModified: strings.TrimSpace(ps.Prop.LastModified),
				IsCollection: ps.Prop.ResourceType.Collection != nil,
			}, nil
		}
	}
	return nil, fmt.Errorf("multistatus has no successful propstat")
}

// metadata normalizes a resource into a fingerprint. The ETag serves as
// both version and sha.
func (r *resource) metadata() *domain.SyncMetadata {
	meta := &domain.SyncMetadata{
		Version: r.ETag,
		SHA:     r.ETag,
	}
	if r.LastModified != "" {
		if t, err := http.ParseTime(r.LastModified); err == nil {
			meta.Timestamp = t.UnixMilli()
		}
	}
	return meta
}
