package readiness

import (
	"context"
	"net"
	"time"
)

// TCPProbe is ready once Address accepts a TCP connection.
type TCPProbe struct{ Address string }

func (p TCPProbe) Ready(ctx context.Context) (bool, error) {
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (p TCPProbe) Describe() string { return "tcp:" + p.Address }
