// Package proxy parses the per-account proxy configuration string.
package proxy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a proxy string does not have the expected
// "host:port:username:password" shape.
var ErrMalformed = errors.New("malformed proxy string")

// Descriptor is the structured form of an account's proxy string.
type Descriptor struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Parse turns a stored "host:port:username:password" string into a
// Descriptor. An empty or blank input means no proxy is configured and
// returns (nil, nil).
func Parse(raw string) (*Descriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 colon-delimited fields, got %d", ErrMalformed, len(parts))
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: port %q is not numeric", ErrMalformed, parts[1])
	}

	return &Descriptor{
		Host:     parts[0],
		Port:     port,
		Username: parts[2],
		Password: parts[3],
	}, nil
}

// Addr returns the host:port endpoint for launch flags.
func (d *Descriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// URL returns an http proxy URL with embedded credentials, suitable for
// drivers that take a single proxy address.
func (d *Descriptor) URL() string {
	if d.Username != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", d.Username, d.Password, d.Host, d.Port)
	}
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}
