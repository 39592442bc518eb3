package codes

import (
	"strings"

	"github.com/Alijeyrad/simorq_calendar/config"
)

// Config holds settings for confirmation code generation
type Config struct {
	// Length of confirmation codes. Defaults to ConfirmationCodeLength.
	Length int

	// Charset is the character set used for confirmation codes.
	// If empty, defaults to upper case alphanumeric without ambiguous chars.
	Charset string
}

// DefaultConfig returns sensible defaults for code generation
func DefaultConfig() Config {
	return Config{
		Length:  ConfirmationCodeLength,
		Charset: charsetConfirmation,
	}
}

// GetCharset returns the configured charset or the default if empty
func (c Config) GetCharset() string {
	if c.Charset == "" {
		return charsetConfirmation
	}
	return strings.ToUpper(c.Charset)
}

// GetLength returns the configured length or the default if unset
func (c Config) GetLength() int {
	if c.Length <= 0 {
		return ConfirmationCodeLength
	}
	return c.Length
}

// FromCentralConfig converts central config.CodesConfig to package Config
func FromCentralConfig(c config.CodesConfig) Config {
	return Config{
		Length:  c.ConfirmationLength,
		Charset: c.Charset,
	}
}
