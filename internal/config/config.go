package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL"`
	FrontendURL string `env:"FRONTEND_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWT         JWT         `envPrefix:"JWT_"`
	Paystack    Paystack    `envPrefix:"PAYSTACK_"`
	Fulfillment Fulfillment `envPrefix:"FULFILLMENT_"`
	Webhook     Webhook     `envPrefix:"WEBHOOK_"`
}

type Paystack struct {
	BaseAPIURL string        `env:"BASE_API_URL" envDefault:"https://api.paystack.co"`
	SecretKey  string        `env:"SECRET_KEY"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type JWT struct {
	Secret string `env:"SECRET"`
}

type Fulfillment struct {
	// SweepInterval of 0 disables the in-process ticker; the sweep can still
	// be triggered through the admin endpoint.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

type Webhook struct {
	MaxRetryElapsed time.Duration `env:"MAX_RETRY_ELAPSED" envDefault:"5m"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
