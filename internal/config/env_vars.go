package config

import (
	"os"
	"strings"
)

const (
	appNameVar         = "APP_NAME"
	envVar             = "ENV"
	logLevelVar        = "LOG_LEVEL"
	defaultEndpointVar = "DEFAULT_ENDPOINT"
	defaultKeyVar      = "DEFAULT_PUBLIC_KEY"
	managementDBVar    = "MANAGEMENT_DATABASE_URL"
	tokenIssuerVar     = "TOKEN_ISSUER"
	jwksURLVar         = "JWKS_URL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}
var _ BackendConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Org Router")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return strings.ToUpper(env)
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetDefaultEndpoint returns the management-tier endpoint (e.g., "https://mgmt.example.com")
func (EnvVars) GetDefaultEndpoint() string {
	return GetEnv(defaultEndpointVar, "")
}

func (EnvVars) GetDefaultPublicKey() string {
	return GetEnv(defaultKeyVar, "")
}

// GetManagementDatabaseURL is only needed when organizations are looked up with a direct SQL connection.
func (EnvVars) GetManagementDatabaseURL() string {
	return GetEnv(managementDBVar, "")
}

func (EnvVars) GetTokenIssuer() string {
	return GetEnv(tokenIssuerVar, "")
}

func (EnvVars) GetJWKSURL() string {
	return GetEnv(jwksURLVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
