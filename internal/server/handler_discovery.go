package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "rumpsched API",
		Version:     "v1",
		Description: "Recorded runs of the cooperative scheduler and their context-switch traces",
		Endpoints: []endpointInfo{
			{"/api/v1/scenarios", []string{"GET"}, "Workloads that can be run"},
			{"/api/v1/runs", []string{"GET", "POST"}, "Recorded runs. POST boots a machine and records a scenario"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its output"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Context-switch events of a run, paginated"},
			{"/api/v1/runs/{id}/stream", []string{"GET"}, "Replay a run's switch events as Server-Sent Events"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
