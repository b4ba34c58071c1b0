package config

// ServiceConfig is the root configuration for the lspjitd daemon. It is
// loaded from a TOML file with environment variable overrides (see
// config.Load), following the same pattern as a typical cleanenv-backed
// service config.
type ServiceConfig struct {
	Environment string `toml:"environment" env:"LSPJITD_ENVIRONMENT" env-default:"development"`

	JITChannels JITChannelsConfig `toml:"jit_channels"`

	LND LNDConfig `toml:"lnd"`

	Database DatabaseConfig `toml:"database"`

	Redis RedisConfig `toml:"redis"`
}

// JITChannelsConfig configures whether the node offers LSPS2 JIT channels
// and, if so, under what fee-promise secret and payment-size bounds.
// Leaving Enabled false disables JIT channels entirely - equivalent to
// liquidity.Config.JITChannels being nil. With Enabled set,
// PromiseSecretHex must decode to exactly 32 bytes or startup fails.
type JITChannelsConfig struct {
	Enabled bool `toml:"enabled" env:"LSPJITD_JIT_ENABLED" env-default:"false"`

	// PromiseSecretHex is the 32-byte HMAC secret, hex-encoded. Rotating it
	// invalidates every opening-fee-param offer issued under the old value.
	PromiseSecretHex string `toml:"promise_secret" env:"LSPJITD_JIT_PROMISE_SECRET"`

	MinPaymentSizeMsat uint64 `toml:"min_payment_size_msat" env:"LSPJITD_JIT_MIN_PAYMENT_MSAT" env-default:"1000"`
	MaxPaymentSizeMsat uint64 `toml:"max_payment_size_msat" env:"LSPJITD_JIT_MAX_PAYMENT_MSAT" env-default:"4000000000"`

	// The fields below describe the single opening-fee-params offer this
	// daemon advertises. A deployment that wants a richer priced menu
	// (multiple offers, dynamic pricing against mempool conditions) sits
	// this config aside and drives internal/liquidity.Facade's
	// OpeningFeeParamsGenerated directly from its own pricing engine.
	DefaultMinFeeMsat            uint64 `toml:"default_min_fee_msat" env:"LSPJITD_JIT_DEFAULT_MIN_FEE_MSAT" env-default:"1000"`
	DefaultProportional          uint32 `toml:"default_proportional" env:"LSPJITD_JIT_DEFAULT_PROPORTIONAL" env-default:"1000"`
	DefaultValidityMinutes       uint32 `toml:"default_validity_minutes" env:"LSPJITD_JIT_DEFAULT_VALIDITY_MINUTES" env-default:"10"`
	DefaultMinLifetime           uint32 `toml:"default_min_lifetime" env:"LSPJITD_JIT_DEFAULT_MIN_LIFETIME" env-default:"144"`
	DefaultMaxClientToSelfDelay  uint32 `toml:"default_max_client_to_self_delay" env:"LSPJITD_JIT_DEFAULT_MAX_CTSD" env-default:"2016"`

	// ChannelCapacitySat sizes every JIT channel this daemon opens.
	ChannelCapacitySat int64 `toml:"channel_capacity_sat" env:"LSPJITD_JIT_CHANNEL_CAPACITY_SAT" env-default:"1000000"`
}

// LNDConfig describes how to reach the backing lnd node used to open
// channels and intercept HTLCs on the core's behalf.
type LNDConfig struct {
	GRPCHost     string `toml:"grpc_host" env:"LSPJITD_LND_GRPC_HOST" env-default:"localhost"`
	GRPCPort     string `toml:"grpc_port" env:"LSPJITD_LND_GRPC_PORT" env-default:"10009"`
	TLSCertPath  string `toml:"tls_cert_path" env:"LSPJITD_LND_TLS_CERT_PATH"`
	MacaroonPath string `toml:"macaroon_path" env:"LSPJITD_LND_MACAROON_PATH"`
	Network      string `toml:"network" env:"LSPJITD_LND_NETWORK" env-default:"regtest"`
}

// DatabaseConfig is the optional durable audit log for completed JIT
// channel records. The core runs fine without it; see
// internal/persistence/postgres.
type DatabaseConfig struct {
	Enabled         bool   `toml:"enabled" env:"LSPJITD_DB_ENABLED" env-default:"false"`
	Host            string `toml:"host" env:"LSPJITD_DB_HOST"`
	Port            string `toml:"port" env:"LSPJITD_DB_PORT" env-default:"5432"`
	User            string `toml:"user" env:"LSPJITD_DB_USER"`
	Password        string `toml:"password" env:"LSPJITD_DB_PASSWORD"`
	DB              string `toml:"db" env:"LSPJITD_DB_NAME"`
	SslMode         string `toml:"ssl_mode" env:"LSPJITD_DB_SSL_MODE" env-default:"disable"`
	MaxConns        int    `toml:"max_conns" env:"LSPJITD_DB_MAX_CONNS" env-default:"10"`
	MinConns        int    `toml:"min_conns" env:"LSPJITD_DB_MIN_CONNS" env-default:"2"`
	MaxConnLifetime int    `toml:"max_conn_lifetime" env:"LSPJITD_DB_MAX_CONN_LIFETIME" env-default:"5"`
	MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"LSPJITD_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
}

// RedisConfig is the optional TTL-backed store for the request-id->method
// map; see internal/persistence/redisstore.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled" env:"LSPJITD_REDIS_ENABLED" env-default:"false"`
	Host     string `toml:"host" env:"LSPJITD_REDIS_HOST"`
	Port     string `toml:"port" env:"LSPJITD_REDIS_PORT" env-default:"6379"`
	Password string `toml:"password" env:"LSPJITD_REDIS_PASSWORD"`
	DB       int    `toml:"db" env:"LSPJITD_REDIS_DB" env-default:"0"`
}
