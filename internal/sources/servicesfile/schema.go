package servicesfile

import "github.com/MrSnakeDoc/linktags/internal/domain"

// File is the top-level structure of services.yaml.
//
//	services:
//	  - id: nas
//	    type: webdav
//	    enabled: true
//	    target: { url: https://dav.example.com, path: /linktags/bookmarks.json }
//	    credentials: { username: me, password: "{{NAS_PASSWORD}}" }
//	    autoSyncEnabled: true
//	    autoSyncInterval: 30
type File struct {
	Services []domain.SyncServiceConfig `yaml:"services"`
}
