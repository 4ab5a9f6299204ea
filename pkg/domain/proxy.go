package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyBinding is an egress route bound to exactly one identity.
type ProxyBinding struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// URL returns the proxy URL including credentials.
func (b ProxyBinding) URL() *url.URL {
	scheme := b.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{
		Scheme: scheme,
		User:   url.UserPassword(b.Username, b.Password),
		Host:   net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
	}
}

// Address returns host:port without credentials, for logs.
func (b ProxyBinding) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// String implements fmt.Stringer without leaking credentials.
func (b ProxyBinding) String() string {
	return fmt.Sprintf("%s://%s", b.Scheme, b.Address())
}
