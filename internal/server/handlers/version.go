package handlers

import (
	"net/http"
	"sync"
	"time"
)

// VersionResponse is the JSON body for /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionResponse{
		Version:   "dev",
		Commit:    "none",
		BuildDate: "unknown",
	}
)

// SetVersionInfo records build metadata for /version. Called once at
// startup from the command layer.
func SetVersionInfo(version, commit, buildDate string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	if version != "" {
		versionInfo.Version = version
	}
	if commit != "" {
		versionInfo.Commit = commit
	}
	if buildDate != "" {
		versionInfo.BuildDate = buildDate
	}
}

// VersionHandler serves build version metadata.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()

	writeJSON(w, http.StatusOK, struct {
		VersionResponse
		Timestamp time.Time `json:"timestamp"`
	}{
		VersionResponse: info,
		Timestamp:       time.Now().UTC(),
	})
}
