package config

// EnvPrefix namespaces every environment variable the broker reads.
const EnvPrefix = "GRIDBROKER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "GRIDBROKER_APP_ENV"
	EnvPort     = "GRIDBROKER_APP_PORT"
	EnvDBDSN    = "GRIDBROKER_DB_DSN"
	EnvDBHost   = "GRIDBROKER_DB_HOST"
	EnvDBUser   = "GRIDBROKER_DB_USER"
	EnvDBName   = "GRIDBROKER_DB_NAME"
	EnvRedisURL = "GRIDBROKER_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
