package instance

import "os"

// GetID identifies the running process in logs and lock owners. Platform
// dyno names win over the hostname.
func GetID() string {
	for _, key := range []string{"MARKETSPLIT_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
