package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gopkg.in/yaml.v3"
)

// OpenAPIYAML serves the bundled API document as-is.
func (a *API) OpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	if len(a.OpenAPISpec) == 0 {
		writeError(w, errors.New("api document not bundled"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.OpenAPISpec)
}

// OpenAPIJSON converts the bundled YAML document to JSON on first use
// and serves the cached result afterwards.
func (a *API) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	a.openapiOnce.Do(func() {
		if len(a.OpenAPISpec) == 0 {
			a.openapiErr = errors.New("api document not bundled")
			return
		}
		var doc any
		if err := yaml.Unmarshal(a.OpenAPISpec, &doc); err != nil {
			a.openapiErr = err
			return
		}
		a.openapiJSON, a.openapiErr = json.Marshal(doc)
	})
	if a.openapiErr != nil {
		writeError(w, a.openapiErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.openapiJSON)
}
