package exchange

import (
	"crypto/tls"
	"net/http/httptrace"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by one millisecond on every reading.
type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func TestPhaseTimerFreshConnection(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0)}
	p := newPhaseTimer(clock.now)
	tr := p.trace()

	p.begin()
	tr.GetConn("example.com:443")
	tr.DNSStart(httptrace.DNSStartInfo{})
	tr.DNSDone(httptrace.DNSDoneInfo{})
	tr.ConnectStart("tcp", "1.2.3.4:443")
	tr.ConnectDone("tcp", "1.2.3.4:443", nil)
	tr.TLSHandshakeStart()
	tr.TLSHandshakeDone(tls.ConnectionState{Version: tls.VersionTLS13}, nil)
	tr.GotConn(httptrace.GotConnInfo{})
	tr.WroteHeaders()
	tr.WroteRequest(httptrace.WroteRequestInfo{})
	tr.GotFirstResponseByte()
	m := p.done()

	assert.Equal(t, time.Millisecond, m.DNS)
	assert.Equal(t, time.Millisecond, m.TCP)
	assert.Equal(t, time.Millisecond, m.TLS)
	assert.Equal(t, "TLS 1.3", m.TLSProtocol)
	assert.Equal(t, 7*time.Millisecond, m.ConnWait)
	assert.Equal(t, time.Millisecond, m.ReqHeaders)
	assert.Equal(t, time.Millisecond, m.ReqBody)
	assert.Equal(t, time.Millisecond, m.TTFB)
	assert.Equal(t, time.Millisecond, m.Download)
	assert.Equal(t, 12*time.Millisecond, m.Total)
	assert.False(t, m.ConnReused)
}

func TestPhaseTimerReusedConnection(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0)}
	p := newPhaseTimer(clock.now)
	tr := p.trace()

	p.begin()
	tr.GetConn("example.com:80")
	tr.GotConn(httptrace.GotConnInfo{Reused: true})
	tr.WroteHeaders()
	tr.WroteRequest(httptrace.WroteRequestInfo{})
	m := p.done()

	assert.True(t, m.ConnReused)
	assert.Zero(t, m.DNS)
	assert.Zero(t, m.TCP)
	assert.Zero(t, m.TLS)
	assert.Empty(t, m.TLSProtocol)
	assert.Zero(t, m.TTFB)
	assert.Zero(t, m.Download, "no first byte means no download phase")
	assert.Equal(t, 5*time.Millisecond, m.Total)
}

func TestReadCapped(t *testing.T) {
	body, err := readCapped(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(body))

	_, err = readCapped(strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, ErrReplyTooLarge)
}
