package servicesfile

import (
	"testing"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

func TestMapperMapServices(t *testing.T) {
	file := File{Services: []domain.SyncServiceConfig{
		{ID: " nas ", Type: domain.ServiceWebDAV},
		{ID: "gh", Name: "GitHub", Type: domain.ServiceGitHub, MergeStrategy: domain.MergeStrategy{Tags: domain.MergeLocal}},
	}}

	services, err := NewMapper().MapServices(file)
	if err != nil {
		t.Fatalf("MapServices() error = %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("MapServices() returned %v services, want 2", len(services))
	}

	nas := services[0]
	if nas.ID != "nas" || nas.Name != "nas" {
		t.Errorf("service id/name = %q/%q, want nas/nas", nas.ID, nas.Name)
	}
	if nas.MergeStrategy != (domain.MergeStrategy{Tags: domain.MergeUnion, Meta: domain.MergeMerge}) {
		t.Errorf("default merge strategy = %+v", nas.MergeStrategy)
	}
	if services[1].MergeStrategy.Tags != domain.MergeLocal || services[1].Name != "GitHub" {
		t.Errorf("explicit fields were overwritten: %+v", services[1])
	}
}

func TestMapperMapServicesEmptyFile(t *testing.T) {
	services, err := NewMapper().MapServices(File{})
	if err != nil {
		t.Fatalf("MapServices() with empty file error = %v", err)
	}
	if len(services) != 0 {
		t.Errorf("MapServices() with empty file returned %d services", len(services))
	}
}

func TestMapperMapServicesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		services []domain.SyncServiceConfig
	}{
		{"missing id", []domain.SyncServiceConfig{{Type: domain.ServiceWebDAV}}},
		{"unknown type", []domain.SyncServiceConfig{{ID: "x", Type: "ftp"}}},
		{"duplicate id", []domain.SyncServiceConfig{
			{ID: "x", Type: domain.ServiceWebDAV},
			{ID: "x", Type: domain.ServiceGitHub},
		}},
		{"negative interval", []domain.SyncServiceConfig{{ID: "x", Type: domain.ServiceWebDAV, AutoSyncInterval: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMapper().MapServices(File{Services: tt.services}); err == nil {
				t.Error("MapServices() should reject the file")
			}
		})
	}
}
