package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = "https://autofleet.dev/problems/not-found"
	ProblemTypeBadRequest  = "https://autofleet.dev/problems/bad-request"
	ProblemTypeInternal    = "https://autofleet.dev/problems/internal-error"
	ProblemTypeUnavailable = "https://autofleet.dev/problems/unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes p as an application/problem+json response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeStatus(w http.ResponseWriter, status int, typ, detail, instance string) {
	WriteProblem(w, Problem{Type: typ, Status: status, Detail: detail, Instance: instance})
}

// NotFound writes a 404 problem, used for unknown devices and sessions.
func NotFound(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusNotFound, ProblemTypeNotFound, detail, instance)
}

// BadRequest writes a 400 problem for missing or malformed command fields.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusBadRequest, ProblemTypeBadRequest, detail, instance)
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusInternalServerError, ProblemTypeInternal, detail, instance)
}

// ServiceUnavailable writes a 503 problem. Commands to an offline device
// use it with the dispatch failure reason as detail.
func ServiceUnavailable(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusServiceUnavailable, ProblemTypeUnavailable, detail, instance)
}
