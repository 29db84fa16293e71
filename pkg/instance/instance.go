package instance

import "os"

// GetID returns the worker instance identifier used as lock owner and log
// field. Falls back to the hostname, then a fixed default.
func GetID() string {
	if id := os.Getenv("PHARMALINK_WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
