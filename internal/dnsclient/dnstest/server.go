// Package dnstest runs a small authoritative DNS server on loopback for tests.
package dnstest

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
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
)

// Server answers from a static record table. Names without records get NXDOMAIN, names
// listed in Fail get SERVFAIL and names in Truncate get a truncated UDP reply.
type Server struct {
	Addr string // 127.0.0.1
	Port int

	mu       sync.RWMutex
	records  map[string][]dns.RR // keyed by lowercased fqdn
	fail     map[string]bool
	truncate map[string]bool
	queries  atomic.Int64

	udp *dns.Server
	tcp *dns.Server
}

// Start launches UDP and TCP listeners on one loopback port and registers cleanup on t.
// Each rr is a zone-file line such as "foo.lu. 300 IN A 192.0.2.1".
func Start(t testing.TB, rrs ...string) *Server {
	t.Helper()

	s := &Server{
		Addr:     "127.0.0.1",
		records:  make(map[string][]dns.RR),
		fail:     make(map[string]bool),
		truncate: make(map[string]bool),
	}
	for _, line := range rrs {
		s.Add(t, line)
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	s.Port = pc.LocalAddr().(*net.UDPAddr).Port
	ln, err := net.Listen("tcp", net.JoinHostPort(s.Addr, strconv.Itoa(s.Port)))
	if err != nil {
		_ = pc.Close()
		t.Fatalf("listen tcp: %v", err)
	}

	s.udp = &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(s.serveUDP)}
	s.tcp = &dns.Server{Listener: ln, Handler: dns.HandlerFunc(s.serveTCP)}
	for _, srv := range []*dns.Server{s.udp, s.tcp} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func(srv *dns.Server) { _ = srv.ActivateAndServe() }(srv)
		<-started
	}

	t.Cleanup(func() {
		_ = s.udp.Shutdown()
		_ = s.tcp.Shutdown()
	})
	return s
}

// Add parses a zone-file line and serves it.
func (s *Server) Add(t testing.TB, line string) {
	t.Helper()
	rr, err := dns.NewRR(line)
	if err != nil {
		t.Fatalf("parse rr %q: %v", line, err)
	}
	key := strings.ToLower(rr.Header().Name)
	s.mu.Lock()
	s.records[key] = append(s.records[key], rr)
	s.mu.Unlock()
}

// Fail makes every query for name return SERVFAIL.
func (s *Server) Fail(name string) {
	s.mu.Lock()
	s.fail[strings.ToLower(dns.Fqdn(name))] = true
	s.mu.Unlock()
}

// Truncate makes UDP answers for name truncated, forcing a TCP retry.
func (s *Server) Truncate(name string) {
	s.mu.Lock()
	s.truncate[strings.ToLower(dns.Fqdn(name))] = true
	s.mu.Unlock()
}

// Queries returns how many queries were served.
func (s *Server) Queries() int64 {
	return s.queries.Load()
}

func (s *Server) serveUDP(w dns.ResponseWriter, r *dns.Msg) { s.serve(w, r, true) }
func (s *Server) serveTCP(w dns.ResponseWriter, r *dns.Msg) { s.serve(w, r, false) }

func (s *Server) serve(w dns.ResponseWriter, r *dns.Msg, udp bool) {
	s.queries.Add(1)
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		_ = w.WriteMsg(m)
		return
	}
	q := r.Question[0]
	name := strings.ToLower(q.Name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.fail[name]:
		m.Rcode = dns.RcodeServerFailure
	case udp && s.truncate[name]:
		m.Truncated = true
	default:
		rrs, ok := s.records[name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			break
		}
		for _, rr := range rrs {
			// CNAME is returned for any type, like a resolver following the chain would.
			if rr.Header().Rrtype == q.Qtype || rr.Header().Rrtype == dns.TypeCNAME {
				m.Answer = append(m.Answer, dns.Copy(rr))
			}
		}
	}
	_ = w.WriteMsg(m)
}
