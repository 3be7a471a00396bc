package nettrace

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"time"
)

// WithClientTrace attaches an httptrace hook set that feeds c.
func WithClientTrace(ctx context.Context, c *Collector) context.Context {
	if c == nil {
		return ctx
	}
	return httptrace.WithClientTrace(ctx, ClientTrace(c))
}

// ClientTrace maps httptrace callbacks onto phases.
func ClientTrace(c *Collector) *httptrace.ClientTrace {
	now := time.Now
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { c.Begin(PhaseDNS, now()) },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			c.UpdateMeta(PhaseDNS, func(meta *PhaseMeta) { meta.Cached = info.Coalesced })
			c.End(PhaseDNS, now(), info.Err)
		},
		ConnectStart: func(_, addr string) {
			c.Begin(PhaseConnect, now())
			c.UpdateMeta(PhaseConnect, func(meta *PhaseMeta) { meta.Addr = addr })
		},
		ConnectDone:       func(_, _ string, err error) { c.End(PhaseConnect, now(), err) },
		TLSHandshakeStart: func() { c.Begin(PhaseTLS, now()) },
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			c.UpdateMeta(PhaseTLS, func(meta *PhaseMeta) {
				meta.Cached = state.DidResume
				meta.Note = state.NegotiatedProtocol
			})
			c.End(PhaseTLS, now(), err)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				c.Begin(PhaseConnect, now())
				c.UpdateMeta(PhaseConnect, func(meta *PhaseMeta) {
					meta.Reused = true
					if info.Conn != nil {
						meta.Addr = info.Conn.RemoteAddr().String()
					}
				})
				c.End(PhaseConnect, now(), nil)
			}
			c.Begin(PhaseReqHdrs, now())
		},
		WroteHeaders: func() { c.End(PhaseReqHdrs, now(), nil) },
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			c.End(PhaseReqHdrs, now(), info.Err)
			c.Begin(PhaseTTFB, now())
		},
		GotFirstResponseByte: func() { c.End(PhaseTTFB, now(), nil) },
	}
}
