package exchange

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// MaxReplyBytes caps how much of an answer is read into memory.
const MaxReplyBytes = 32 << 20

var ErrReplyTooLarge = errors.New("reply exceeds size limit")

// NetworkMetrics breaks one round trip down by phase.
type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// phaseTimer records the instants httptrace reports for one request and
// turns them into NetworkMetrics. Phases that never happen (DNS on a
// reused connection, TLS over plain http) stay zero.
type phaseTimer struct {
	now func() time.Time
	m   NetworkMetrics

	start        time.Time
	getConn      time.Time
	dns          time.Time
	connect      time.Time
	handshake    time.Time
	gotConn      time.Time
	wroteHeaders time.Time
	wroteBody    time.Time
	firstByte    time.Time
}

func newPhaseTimer(now func() time.Time) *phaseTimer {
	if now == nil {
		now = time.Now
	}
	return &phaseTimer{now: now}
}

func (p *phaseTimer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { p.getConn = p.now() },
		GotConn: func(info httptrace.GotConnInfo) {
			p.gotConn = p.now()
			p.m.ConnWait = p.gotConn.Sub(p.getConn)
			p.m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { p.dns = p.now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { p.m.DNS = p.now().Sub(p.dns) },
		ConnectStart:      func(string, string) { p.connect = p.now() },
		ConnectDone:       func(string, string, error) { p.m.TCP = p.now().Sub(p.connect) },
		TLSHandshakeStart: func() { p.handshake = p.now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			p.m.TLS = p.now().Sub(p.handshake)
			p.m.TLSProtocol = tls.VersionName(cs.Version)
		},
		WroteHeaders: func() {
			p.wroteHeaders = p.now()
			p.m.ReqHeaders = p.wroteHeaders.Sub(p.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.wroteBody = p.now()
			p.m.ReqBody = p.wroteBody.Sub(p.wroteHeaders)
		},
		GotFirstResponseByte: func() {
			p.firstByte = p.now()
			p.m.TTFB = p.firstByte.Sub(p.wroteBody)
		},
	}
}

func (p *phaseTimer) begin() { p.start = p.now() }

func (p *phaseTimer) done() *NetworkMetrics {
	end := p.now()
	if !p.firstByte.IsZero() {
		p.m.Download = end.Sub(p.firstByte)
	}
	p.m.Total = end.Sub(p.start)
	m := p.m
	return &m
}

type reply struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// roundTrip sends req, reads the whole answer and times each phase.
func roundTrip(client *http.Client, req *http.Request) (*reply, error) {
	timer := newPhaseTimer(nil)
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), timer.trace()))
	timer.begin()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readCapped(resp.Body, MaxReplyBytes)
	if err != nil {
		return nil, err
	}
	return &reply{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    timer.done(),
	}, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrReplyTooLarge, limit)
	}
	return body, nil
}
