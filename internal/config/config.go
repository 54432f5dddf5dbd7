package config

import "time"

type Config interface {
	EnvConfig
	BackendConfig
	RoutingConfig
	InvalidationConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

// BackendConfig holds the default (management) database endpoint that is used
// before an organization has been resolved.
type BackendConfig interface {
	GetDefaultEndpoint() string
	GetDefaultPublicKey() string
	GetManagementDatabaseURL() string
	GetTokenIssuer() string
	GetJWKSURL() string
}

type RoutingConfig interface {
	GetHTTPTimeout() time.Duration
	GetLookupCacheTTL() time.Duration
	GetClientInfo() string
}

type InvalidationConfig interface {
	GetRedisURL() string
	GetInvalidationChannel() string
}

type mainConfig struct {
	EnvVars
	Routing
	Invalidation
}

func New() Config {
	return mainConfig{}
}
