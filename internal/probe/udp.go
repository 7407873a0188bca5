package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// UDPSender sends single datagrams. Success means the local stack accepted
// the write; nothing is read back.
type UDPSender struct {
	dialer net.Dialer
}

func NewUDPSender() *UDPSender { return &UDPSender{} }

func (s *UDPSender) Send(ctx context.Context, address string, port uint16, payload []byte, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if address == "" {
		return errors.New("empty address")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := s.dialer.DialContext(ctx, "udp", net.JoinHostPort(address, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	_, err = conn.Write(payload)
	return err
}
