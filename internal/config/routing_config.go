package config

import "time"

const (
	httpTimeoutVar    = "HTTP_TIMEOUT"
	lookupCacheTTLVar = "LOOKUP_CACHE_TTL"
	clientInfoVar     = "CLIENT_INFO"
)

type Routing struct{}

var _ RoutingConfig = Routing{}

func (Routing) GetHTTPTimeout() time.Duration {
	return GetDuration(httpTimeoutVar, 15*time.Second)
}

// GetLookupCacheTTL controls how long email -> organization lookups are reused.
// Zero disables the lookup cache.
func (Routing) GetLookupCacheTTL() time.Duration {
	return GetDuration(lookupCacheTTLVar, 5*time.Minute)
}

func (Routing) GetClientInfo() string {
	return GetEnv(clientInfoVar, "go-org-router/1.0")
}

func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
