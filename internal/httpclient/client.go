// Package httpclient builds HTTP clients for calling URLs that come from job
// definitions, which are user input. By default such clients refuse to reach
// loopback, private and other non-public addresses.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/teranos/cadence/errors"
)

// ErrBlocked marks requests refused by the address policy
var ErrBlocked = errors.New("destination blocked")

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Timeout      time.Duration // whole-request timeout (default: 30s)
	MaxRedirects int           // default: 5
	AllowPrivate bool          // permit loopback and private destinations
}

// Client is an http.Client that checks every request and every connection
// against its destination policy.
type Client struct {
	http         *http.Client
	allowPrivate bool
}

// New returns a client for user-supplied URLs.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	c := &Client{allowPrivate: opts.AllowPrivate}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !opts.AllowPrivate {
		// Checked on the resolved address being dialled, so DNS rebinding cannot slip past
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return errors.Wrapf(err, "parse dial address %q", address)
			}
			if !isPublic(ap.Addr()) {
				return errors.Wrapf(ErrBlocked, "address %s is not public", ap.Addr())
			}
			return nil
		}
	}

	c.http = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return errors.Newf("stopped after %d redirects", opts.MaxRedirects)
			}
			return errors.Wrap(c.Check(req.URL), "redirect blocked")
		},
	}
	return c
}

// Check validates u before any connection is made.
func (c *Client) Check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "URLs with credentials are not allowed")
	}
	host := u.Hostname()
	if host == "" {
		return errors.Wrap(ErrBlocked, "URL has no host")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhostName(host) {
		return errors.Wrapf(ErrBlocked, "host %q is local", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && !isPublic(addr) {
		return errors.Wrapf(ErrBlocked, "address %s is not public", addr)
	}
	return nil
}

// Do checks and sends req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.Check(req.URL); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// Post sends body to rawURL with ctx bounding the request.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %q", rawURL)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// documentation is 2001:db8::/32, reserved for examples
var documentation = netip.MustParsePrefix("2001:db8::/32")

// isPublic reports whether addr is globally routable unicast.
func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast():
		return false
	}
	if addr.Is4() {
		b := addr.As4()
		// 0.0.0.0/8 and 240.0.0.0/4
		return b[0] != 0 && b[0] < 240
	}
	// fec0::/10 site-local, deprecated but still routable inside sites
	b := addr.As16()
	if b[0] == 0xfe && b[1]&0xc0 == 0xc0 {
		return false
	}
	return !documentation.Contains(addr)
}

func isLocalhostName(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" ||
		host == "localhost.localdomain" ||
		strings.HasSuffix(host, ".localhost")
}
