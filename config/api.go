package config

// CoordinatorConfig aggregates every sub-section cmd/coordinator wires at
// startup. Sub-sections are mapped into the lower-level database.Config /
// cache.Config structs via jinzhu/copier, the same way the teacher's
// cmd/api/main.go does today.
type CoordinatorConfig struct {
	Database struct {
		Host            string `toml:"host" env:"INFERMARKET_DB_HOST"`
		Port            string `toml:"port" env:"INFERMARKET_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"INFERMARKET_DB_USER"`
		Password        string `toml:"password" env:"INFERMARKET_DB_PASSWORD"`
		DB              string `toml:"db" env:"INFERMARKET_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"INFERMARKET_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"INFERMARKET_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"INFERMARKET_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"INFERMARKET_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"INFERMARKET_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"INFERMARKET_REDIS_HOST"`
		Port     string `toml:"port" env:"INFERMARKET_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"INFERMARKET_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"INFERMARKET_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Lightning struct {
		GRPCHost              string `toml:"grpc_host" env:"INFERMARKET_LND_GRPC_HOST"`
		GRPCPort              int    `toml:"grpc_port" env:"INFERMARKET_LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath           string `toml:"tls_cert_path" env:"INFERMARKET_LND_TLS_CERT_PATH"`
		MacaroonPath          string `toml:"macaroon_path" env:"INFERMARKET_LND_MACAROON_PATH"`
		Network               string `toml:"network" env:"INFERMARKET_LND_NETWORK" env-default:"mainnet"`
		PaymentTimeoutSeconds int    `toml:"payment_timeout_seconds" env:"INFERMARKET_LND_PAYMENT_TIMEOUT_SECONDS" env-default:"60"`
		MaxPaymentFeeSats     int64  `toml:"max_payment_fee_sats" env:"INFERMARKET_LND_MAX_PAYMENT_FEE_SATS" env-default:"10"`
		InvoiceExpirySeconds  int64  `toml:"invoice_expiry_seconds" env:"INFERMARKET_LND_INVOICE_EXPIRY_SECONDS" env-default:"600"`
	} `toml:"lightning"`

	// Pricing holds the commission split and the one-time node
	// registration fee, per spec.md §4.3/§4.4.
	Pricing struct {
		CommissionRateBasisPoints int64  `toml:"commission_rate_bps" env:"INFERMARKET_COMMISSION_RATE_BPS" env-default:"1000"`
		NodeRegistrationFeeSats   int64  `toml:"node_registration_fee_sats" env:"INFERMARKET_NODE_REGISTRATION_FEE_SATS" env-default:"1000"`
		HouseUserID               string `toml:"house_user_id" env:"INFERMARKET_HOUSE_USER_ID"`
	} `toml:"pricing"`

	// Scheduler holds the Expiry/Heartbeat Scheduler's tick intervals and
	// timeouts, per spec.md §4.6.
	Scheduler struct {
		HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds" env:"INFERMARKET_HEARTBEAT_TIMEOUT_SECONDS" env-default:"60"`
		HeartbeatPollSeconds    int `toml:"heartbeat_poll_seconds" env:"INFERMARKET_HEARTBEAT_POLL_SECONDS" env-default:"5"`
		InvoicePollSeconds      int `toml:"invoice_poll_seconds" env:"INFERMARKET_INVOICE_POLL_SECONDS" env-default:"3"`
		ExpiryPollSeconds       int `toml:"expiry_poll_seconds" env:"INFERMARKET_EXPIRY_POLL_SECONDS" env-default:"1"`
		StartingTimeoutSeconds  int `toml:"starting_timeout_seconds" env:"INFERMARKET_STARTING_TIMEOUT_SECONDS" env-default:"600"`
		HFStartingTimeoutSeconds int `toml:"hf_starting_timeout_seconds" env:"INFERMARKET_HF_STARTING_TIMEOUT_SECONDS" env-default:"1800"`
		TokenIdleTimeoutSeconds int `toml:"token_idle_timeout_seconds" env:"INFERMARKET_TOKEN_IDLE_TIMEOUT_SECONDS" env-default:"180"`
	} `toml:"scheduler"`

	HTTP struct {
		Port          string `toml:"port" env:"INFERMARKET_HTTP_PORT" env-default:"8080"`
		JWTSecret     string `toml:"jwt_secret" env:"INFERMARKET_JWT_SECRET"`
		JWTTTLMinutes int    `toml:"jwt_ttl_minutes" env:"INFERMARKET_JWT_TTL_MINUTES" env-default:"1440"`

		// Rate limits, per spec.md §6: requests beyond the per-minute cap
		// for these three routes are rejected with 429 before they reach
		// the handler.
		RegisterPerMinute   int `toml:"register_per_minute" env:"INFERMARKET_RATE_REGISTER_PER_MINUTE" env-default:"5"`
		LoginPerMinute      int `toml:"login_per_minute" env:"INFERMARKET_RATE_LOGIN_PER_MINUTE" env-default:"10"`
		NewSessionPerMinute int `toml:"new_session_per_minute" env:"INFERMARKET_RATE_NEW_SESSION_PER_MINUTE" env-default:"20"`
	} `toml:"http"`
}
