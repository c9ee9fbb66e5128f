package servicesfile

import (
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// Mapper validates the parsed file and fills in defaults.
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices returns the configured services. Entries without an id or
// with an unknown type are rejected, duplicated ids too.
func (m *Mapper) MapServices(file File) ([]domain.SyncServiceConfig, error) {
	services := make([]domain.SyncServiceConfig, 0, len(file.Services))
	seen := make(map[string]bool, len(file.Services))

	for i, svc := range file.Services {
		svc.ID = strings.TrimSpace(svc.ID)
		if svc.ID == "" {
			return nil, fmt.Errorf("service #%d: missing id", i+1)
		}
		if seen[svc.ID] {
			return nil, fmt.Errorf("service %q: duplicate id", svc.ID)
		}
		seen[svc.ID] = true

		if !svc.Type.Valid() {
			return nil, fmt.Errorf("service %q: unknown type %q", svc.ID, svc.Type)
		}
		if svc.AutoSyncInterval < 0 || svc.AutoSyncDelayOnChanges < 0 {
			return nil, fmt.Errorf("service %q: negative auto-sync timing", svc.ID)
		}

		if svc.Name == "" {
			svc.Name = svc.ID
		}
		if svc.MergeStrategy.Tags == "" {
			svc.MergeStrategy.Tags = domain.MergeUnion
		}
		if svc.MergeStrategy.Meta == "" {
			svc.MergeStrategy.Meta = domain.MergeMerge
		}

		services = append(services, svc)
	}

	return services, nil
}
