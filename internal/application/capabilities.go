package application

import (
	"fmt"
	"strings"

	"github.com/jobrunner/geodb-openeo/internal/domain"
)

// Defaults for the backend description.
const (
	DefaultAPIVersion     = "1.1.0"
	DefaultBackendVersion = "0.0.2.dev0"
)

// OIDCProvider describes an identity provider offered for login.
type OIDCProvider struct {
	ID          string   `json:"id"`
	Issuer      string   `json:"issuer"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
}

// BackendInfo holds the static description of this backend.
type BackendInfo struct {
	ID             string
	Title          string
	Description    string
	URL            string
	APIVersion     string
	BackendVersion string
	OIDC           []OIDCProvider
}

type endpoint struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

var endpoints = []endpoint{
	{Path: "/.well-known/openeo", Methods: []string{"GET"}},
	{Path: "/file_formats", Methods: []string{"GET"}},
	{Path: "/result", Methods: []string{"POST"}},
	{Path: "/collections", Methods: []string{"GET"}},
	{Path: "/processes", Methods: []string{"GET"}},
	{Path: "/collections/{collection_id}", Methods: []string{"GET"}},
	{Path: "/collections/{collection_id}/items", Methods: []string{"GET"}},
	{Path: "/collections/{collection_id}/items/{feature_id}", Methods: []string{"GET"}},
}

// CapabilitiesService serves the discovery documents of the backend.
type CapabilitiesService struct {
	info BackendInfo
}

// NewCapabilitiesService creates a capabilities service. Empty versions
// fall back to the defaults.
func NewCapabilitiesService(info BackendInfo) *CapabilitiesService {
	if info.APIVersion == "" {
		info.APIVersion = DefaultAPIVersion
	}
	if info.BackendVersion == "" {
		info.BackendVersion = DefaultBackendVersion
	}
	return &CapabilitiesService{info: info}
}

// Capabilities implements input.CapabilitiesService.
func (s *CapabilitiesService) Capabilities(baseURL string) map[string]any {
	baseURL = strings.TrimSuffix(baseURL, "/")
	conformsTo := make([]string, 0, 3)
	for _, part := range []string{"core", "collections", "ogcapi-features"} {
		conformsTo = append(conformsTo, fmt.Sprintf("https://api.stacspec.org/v%s/%s", domain.STACVersion, part))
	}

	return map[string]any{
		"api_version":     s.info.APIVersion,
		"backend_version": s.info.BackendVersion,
		"stac_version":    domain.STACVersion,
		"type":            "Catalog",
		"id":              s.info.ID,
		"title":           s.info.Title,
		"description":     s.info.Description,
		"conformsTo":      conformsTo,
		"endpoints":       endpoints,
		"links": []domain.Link{
			{Rel: "root", Href: baseURL + "/", Type: domain.MediaTypeJSON, Title: "this document"},
			{Rel: "self", Href: baseURL + "/", Type: domain.MediaTypeJSON, Title: "this document"},
			{Rel: "service-desc", Href: baseURL + "/openapi.json", Type: domain.MediaTypeOpenAPI, Title: "the API definition"},
			{Rel: "service-doc", Href: baseURL + "/api.html", Type: domain.MediaTypeHTML, Title: "the API documentation"},
			{Rel: "conformance", Href: baseURL + "/conformance", Type: domain.MediaTypeJSON, Title: "OGC API conformance classes implemented by this server"},
			{Rel: "data", Href: baseURL + "/collections", Type: domain.MediaTypeJSON, Title: "Information about the feature collections"},
		},
	}
}

// WellKnown implements input.CapabilitiesService.
func (s *CapabilitiesService) WellKnown() map[string]any {
	return map[string]any{
		"versions": []map[string]any{{
			"url":         s.info.URL,
			"api_version": s.info.APIVersion,
		}},
	}
}

// Conformance implements input.CapabilitiesService.
func (s *CapabilitiesService) Conformance() map[string]any {
	return map[string]any{"conformsTo": []string{}}
}

// OIDCProviders implements input.CapabilitiesService.
func (s *CapabilitiesService) OIDCProviders() map[string]any {
	providers := s.info.OIDC
	if providers == nil {
		providers = []OIDCProvider{}
	}
	return map[string]any{"providers": providers}
}
