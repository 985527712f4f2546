// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsresolve

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/miekg/dns"

	"landscape.router/core/internal/errors"
)

// dohClient lazily builds (and reuses) the http.Client used for
// DNS-over-HTTPS upstreams, with its Transport dialing through the same
// SO_MARK-tagged dialer as every other transport (§4.4).
func (r *Resolver) dohClient() *http.Client {
	if r.doh != nil {
		return r.doh
	}
	dialer := &net.Dialer{Timeout: r.cfg.DialTimeout, Control: markControl(r.cfg)}
	r.doh = &http.Client{
		Timeout: r.cfg.DialTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				rawConn, err := dialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				tlsConn := tls.Client(rawConn, &tls.Config{ServerName: r.cfg.SNI})
				if err := tlsConn.HandshakeContext(ctx); err != nil {
					rawConn.Close()
					return nil, err
				}
				return tlsConn, nil
			},
		},
	}
	return r.doh
}

// lookupDoH performs a RFC 8484 wire-format DoH query via HTTP POST.
func (r *Resolver) lookupDoH(ctx context.Context, domain string, qtype uint16) (Outcome, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	packed, err := msg.Pack()
	if err != nil {
		return Outcome{ServFail: true}, errors.Wrapf(err, errors.KindInternal, "pack DoH query")
	}

	url := fmt.Sprintf("https://%s%s", r.cfg.SNI, r.cfg.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(packed))
	if err != nil {
		return Outcome{ServFail: true}, errors.Wrapf(err, errors.KindUpstreamResolver, "build DoH request")
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	req.URL.Host = r.cfg.Address

	resp, err := r.dohClient().Do(req)
	if err != nil {
		return Outcome{ServFail: true}, errors.Wrapf(err, errors.KindUpstreamResolver, "DoH exchange with %s", r.cfg.Address)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Outcome{ServFail: true}, errors.Errorf(errors.KindUpstreamResolver, "DoH %s: HTTP %d", r.cfg.Address, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{ServFail: true}, errors.Wrapf(err, errors.KindUpstreamResolver, "read DoH response")
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return Outcome{ServFail: true}, errors.Wrapf(err, errors.KindUpstreamResolver, "unpack DoH response")
	}

	return classify(reply), nil
}
