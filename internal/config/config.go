package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	DatabaseDSN         string
	ServerAddr          string
	SigningKey          []byte
	AllowedOrigins      []string
	TypingTimeout       time.Duration
	StatusSweepInterval time.Duration
	RateLimit           int
	RateWindow          time.Duration
	RedisAddr           string
	AMQPURL             string
	AMQPExchange        string
	OTLPEndpoint        string
}

// Params are the raw settings as read from flags and the environment.
type Params struct {
	ServerAddr          string
	DatabaseDSN         string
	SigningKey          string
	AllowedOrigins      []string
	TypingTimeout       time.Duration
	StatusSweepInterval time.Duration
	RateLimit           int
	RateWindow          time.Duration
	RedisAddr           string
	AMQPURL             string
	AMQPExchange        string
	OTLPEndpoint        string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	for _, o := range p.AllowedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid allowed origin %q", o)
		}
	}

	if p.TypingTimeout < 0 {
		return nil, fmt.Errorf("typing timeout cannot be negative")
	}
	if p.StatusSweepInterval < 0 {
		return nil, fmt.Errorf("status sweep interval cannot be negative")
	}
	if p.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit cannot be negative")
	}
	if p.RateLimit > 0 && p.RateWindow <= 0 {
		return nil, fmt.Errorf("rate window must be positive when a rate limit is set")
	}
	if p.AMQPURL != "" && p.AMQPExchange == "" {
		return nil, fmt.Errorf("AMQP exchange cannot be empty when an AMQP URL is set")
	}

	return &Config{
		DatabaseDSN:         p.DatabaseDSN,
		ServerAddr:          p.ServerAddr,
		SigningKey:          signingKey,
		AllowedOrigins:      p.AllowedOrigins,
		TypingTimeout:       p.TypingTimeout,
		StatusSweepInterval: p.StatusSweepInterval,
		RateLimit:           p.RateLimit,
		RateWindow:          p.RateWindow,
		RedisAddr:           p.RedisAddr,
		AMQPURL:             p.AMQPURL,
		AMQPExchange:        p.AMQPExchange,
		OTLPEndpoint:        p.OTLPEndpoint,
	}, nil
}

// RateLimited reports whether message sends should be rate limited.
func (c *Config) RateLimited() bool {
	return c.RateLimit > 0 && c.RedisAddr != ""
}
