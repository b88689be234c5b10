package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds how long DialTCP waits for the TCP handshake.
const DefaultDialTimeout = 10 * time.Second

// DefaultReadPollInterval bounds how long a single Read call blocks before
// returning a timeout error, letting the session's reader-pump goroutine
// cooperatively check for a shutdown signal between reads.
const DefaultReadPollInterval = 2 * time.Second

// tcpTransport wraps a dialed TCP connection and splits it into
// independently closable halves.
type tcpTransport struct {
	conn         *net.TCPConn
	pollInterval time.Duration
}

// DialTCP connects to addr (host:port) and returns a Splittable
// transport.
func DialTCP(ctx context.Context, addr string) (Splittable, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dapcore/transport: dial %s: %w", addr, err)
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		// in practice DialContext with "tcp" always returns *net.TCPConn
		return nil, fmt.Errorf("dapcore/transport: unexpected connection type %T", conn)
	}
	return &tcpTransport{conn: tcpConn, pollInterval: DefaultReadPollInterval}, nil
}

func (t *tcpTransport) Split() (ReadHalf, WriteHalf) {
	return &tcpReadHalf{conn: t.conn, pollInterval: t.pollInterval},
		&tcpWriteHalf{conn: t.conn}
}

type tcpReadHalf struct {
	conn         *net.TCPConn
	pollInterval time.Duration
}

// Read renews a short read deadline on every call so a blocked Read can
// never prevent the owning goroutine from observing a shutdown request;
// a deadline-exceeded error is surfaced like any other net.Error and the
// caller (the multiplexer's reader pump) is expected to check
// err.(net.Error).Timeout() and retry rather than treat it as fatal.
func (r *tcpReadHalf) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.pollInterval)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

func (r *tcpReadHalf) Close() error {
	return r.conn.CloseRead()
}

type tcpWriteHalf struct {
	conn *net.TCPConn
}

func (w *tcpWriteHalf) Write(p []byte) (int, error) {
	return w.conn.Write(p)
}

func (w *tcpWriteHalf) Close() error {
	return w.conn.CloseWrite()
}
