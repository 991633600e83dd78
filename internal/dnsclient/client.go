/*
Package dnsclient is the stub resolver domclass validates candidates with. Each query has a
three-way outcome: Answered, NoAnswer or Failed. Only Failed is logged.
*/
package dnsclient

/*
domclass — extract and classify Internet domains from raw text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/x-stp/domclass/internal/core"
	"github.com/x-stp/domclass/internal/metrics"
)

// Outcome is the result class of one query.
type Outcome int

const (
	// Answered means at least one RR of the queried type came back.
	Answered Outcome = iota + 1
	// NoAnswer covers NXDOMAIN and NOERROR without data of the queried type.
	NoAnswer
	// Failed covers timeouts, transport errors, SERVFAIL and REFUSED.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Answered:
		return "answered"
	case NoAnswer:
		return "no_answer"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Response is the result of Query.
type Response struct {
	Outcome Outcome
	Records []dns.RR // RRs of the queried type, in answer order
	Server  string   // host:port that produced the response
	Rcode   int
	Err     error // set when Outcome == Failed
}

// Client sends queries to a fixed list of resolvers, in order.
type Client struct {
	servers []string
	timeout time.Duration
	udp     *dns.Client
	tcp     *dns.Client
	limiter *rate.Limiter
}

// New validates the resolver list and returns a client. qps <= 0 disables pacing.
func New(servers []string, port int, timeout time.Duration, qps float64) (*Client, error) {
	if len(servers) == 0 {
		return nil, core.NewError(core.KindConfiguration, "dns client", errors.New("no nameservers configured"))
	}
	if port < 1 || port > 65535 {
		return nil, core.NewError(core.KindConfiguration, "dns client", fmt.Errorf("invalid port %d", port))
	}
	if timeout <= 0 {
		timeout = core.DefaultQueryTimeout
	}

	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if net.ParseIP(s) == nil {
			return nil, core.NewError(core.KindConfiguration, "dns client", fmt.Errorf("nameserver %q is not an IP address", s))
		}
		addrs = append(addrs, net.JoinHostPort(s, strconv.Itoa(port)))
	}

	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		servers: addrs,
		timeout: timeout,
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Servers returns the resolver addresses as host:port.
func (c *Client) Servers() []string {
	return append([]string(nil), c.servers...)
}

// Resolver returns the IP of the primary resolver.
func (c *Client) Resolver() string {
	host, _, err := net.SplitHostPort(c.servers[0])
	if err != nil {
		return c.servers[0]
	}
	return host
}

// Query asks for qtype records of name. Servers are tried in order until one gives a
// usable answer; each attempt is bounded by the client timeout.
func (c *Client) Query(ctx context.Context, name string, qtype uint16) Response {
	start := time.Now()
	resp := c.query(ctx, name, qtype)

	typ := TypeString(qtype)
	if resp.Outcome == Failed {
		log.Printf("dns: %s/%s: %v", name, typ, resp.Err)
	}
	metrics.GetMetrics().RecordDNSQuery(typ, resp.Outcome.String(), time.Since(start))
	return resp
}

func (c *Client) query(ctx context.Context, name string, qtype uint16) Response {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{Outcome: Failed, Err: core.NewError(core.KindTimeout, "dns rate limit", err)}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var last Response
	for _, server := range c.servers {
		r, err := c.exchange(ctx, m, server)
		if err != nil {
			last = Response{Outcome: Failed, Server: server, Err: classify(name, qtype, err)}
			continue
		}

		switch r.Rcode {
		case dns.RcodeSuccess:
			records := filter(r.Answer, qtype)
			if len(records) == 0 {
				return Response{Outcome: NoAnswer, Server: server, Rcode: r.Rcode}
			}
			return Response{Outcome: Answered, Records: records, Server: server, Rcode: r.Rcode}
		case dns.RcodeNameError:
			return Response{Outcome: NoAnswer, Server: server, Rcode: r.Rcode}
		default:
			last = Response{
				Outcome: Failed,
				Server:  server,
				Rcode:   r.Rcode,
				Err: core.NewError(core.KindSourceUnavailable, "dns "+name+"/"+TypeString(qtype),
					fmt.Errorf("%s from %s", dns.RcodeToString[r.Rcode], server)),
			}
		}
	}
	return last
}

// exchange sends m over UDP and retries over TCP when the answer is truncated.
func (c *Client) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r, _, err := c.udp.ExchangeContext(qctx, m, server)
	if err != nil {
		return nil, err
	}
	if r.Truncated {
		r, _, err = c.tcp.ExchangeContext(qctx, m, server)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LookupA returns the IPv4 addresses of host, or nil when it has none.
func (c *Client) LookupA(ctx context.Context, host string) []string {
	resp := c.Query(ctx, host, dns.TypeA)
	if resp.Outcome != Answered {
		return nil
	}
	ips := make([]string, 0, len(resp.Records))
	for _, rr := range resp.Records {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

func filter(rrs []dns.RR, qtype uint16) []dns.RR {
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if rr.Header().Rrtype == qtype {
			out = append(out, rr)
		}
	}
	return out
}

func classify(name string, qtype uint16, err error) error {
	op := "dns " + name + "/" + TypeString(qtype)
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return core.NewError(core.KindTimeout, op, err)
	}
	return core.NewError(core.KindSourceUnavailable, op, err)
}

// RData renders the data part of rr the way zone files show it, e.g. "10 mx.foo.lu." for MX.
// TXT strings are concatenated without quotes.
func RData(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return v.Target
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	default:
		return strings.TrimPrefix(rr.String(), rr.Header().String())
	}
}

// TypeFromString maps a mnemonic such as "mx" to its RR type.
func TypeFromString(s string) (uint16, error) {
	t, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, core.NewError(core.KindConfiguration, "record type", fmt.Errorf("unknown record type %q", s))
	}
	return t, nil
}

// TypeString returns the mnemonic of t.
func TypeString(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(t))
}

// ClassString returns the mnemonic of class c, e.g. "IN".
func ClassString(c uint16) string {
	if s, ok := dns.ClassToString[c]; ok {
		return s
	}
	return "CLASS" + strconv.Itoa(int(c))
}
