// Package fetcher retrieves listing pages through a rotating-session proxy.
package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// Fetcher returns the raw HTML of a listing page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ProxyOptions describes the upstream rotating proxy. An empty Host disables it.
type ProxyOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	InsecureTLS bool
}

// Enabled reports whether requests go through the proxy.
func (p ProxyOptions) Enabled() bool {
	return p.Host != ""
}

// sessionUser gives every request a fresh proxy identity so the provider
// rotates the exit address.
func (p ProxyOptions) sessionUser() string {
	return fmt.Sprintf("%s-session-%d", p.Username, rand.IntN(1000000))
}

func (p ProxyOptions) address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
