package config

type Invalidation struct{}

var _ InvalidationConfig = Invalidation{}

// GetRedisURL returns an empty string when cross-process invalidation is disabled.
func (Invalidation) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}

func (Invalidation) GetInvalidationChannel() string {
	return GetEnv("INVALIDATION_CHANNEL", "orgrouter:invalidate")
}
