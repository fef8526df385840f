package channel

import (
	"errors"
	"time"
)

// Config holds configuration for the outbound messaging channel.
type Config struct {
	// BaseURL is the channel API root, e.g. "https://api.vrbo.com".
	BaseURL      string `mapstructure:"base_url"`
	TokenPath    string `mapstructure:"token_path"`
	MessagesPath string `mapstructure:"messages_path"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// MessageType is sent with every message to mark its direction.
	MessageType string `mapstructure:"message_type"`

	// Timeout bounds every call to the channel, token requests included.
	Timeout time.Duration `mapstructure:"timeout"`
	// TokenBuffer is subtracted from the token lifetime so the cached token
	// is replaced before the channel would reject it.
	TokenBuffer time.Duration `mapstructure:"token_buffer"`
}

const (
	defaultTokenPath    = "/authentication/v1/token"
	defaultMessagesPath = "/messaging/v1/messages"
	defaultMessageType  = "HOST_TO_GUEST"
	defaultTimeout      = 10 * time.Second
	defaultTokenBuffer  = 300 * time.Second
)

// DefaultConfig returns a Config with the standard endpoint paths.
func DefaultConfig() Config {
	return Config{
		TokenPath:    defaultTokenPath,
		MessagesPath: defaultMessagesPath,
		MessageType:  defaultMessageType,
		Timeout:      defaultTimeout,
		TokenBuffer:  defaultTokenBuffer,
	}
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("channel: base_url is required")
	}
	if c.ClientID == "" {
		return errors.New("channel: client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("channel: client_secret is required")
	}

	if c.TokenPath == "" {
		c.TokenPath = defaultTokenPath
	}
	if c.MessagesPath == "" {
		c.MessagesPath = defaultMessagesPath
	}
	if c.MessageType == "" {
		c.MessageType = defaultMessageType
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.TokenBuffer < 0 {
		return errors.New("channel: token_buffer must not be negative")
	}
	return nil
}
