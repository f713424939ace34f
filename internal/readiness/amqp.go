package readiness

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPProbe is ready once an AMQP 0-9-1 broker at URL completes a handshake.
type AMQPProbe struct{ URL string }

func (p AMQPProbe) Ready(ctx context.Context) (bool, error) {
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return false, nil
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

// Describe omits credentials.
func (p AMQPProbe) Describe() string {
	u, err := amqp.ParseURI(p.URL)
	if err != nil {
		return "amqp:invalid-url"
	}
	return fmt.Sprintf("amqp:%s:%d%s", u.Host, u.Port, u.Vhost)
}
