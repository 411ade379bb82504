package comms

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	BufferSize         = 8192
	DefaultReadTimeout = 10 * time.Second
	maxAcceptBackoff   = time.Second
)

// Listener accepts raw TCP connections and handles each on its own goroutine.
// Every connection carries exactly one request and one response.
type Listener struct {
	Address     string
	Conductor   ConductorInterface
	ReadTimeout time.Duration

	ln    net.Listener
	conns sync.WaitGroup
}

func NewListener(address string, conductor ConductorInterface) *Listener {
	return &Listener{
		Address:     address,
		Conductor:   conductor,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Listen binds the socket. Failure here is fatal to the process.
func (l *Listener) Listen() (err error) {
	l.ln, err = net.Listen("tcp", l.Address)
	if err != nil {
		return
	}
	logger.Printf("listening on %s", l.ln.Addr())
	return
}

func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled, then waits for in-flight connections.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.ln.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.conns.Wait()
				return nil
			}
			// EMFILE, ECONNABORTED and friends pass once connections drain
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			logger.Printf("accept error: %v; retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		l.conns.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	id := uuid.New()
	defer l.conns.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s: recovered from %v", id, r)
		}
	}()

	if l.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(l.ReadTimeout))
	}

	raw, err := readRequest(conn)
	if err != nil {
		logger.Printf("%s: unable to read request from %s: %v", id, conn.RemoteAddr(), err)
		return
	}
	if raw == "" {
		return
	}

	req := ParseRequest(raw)
	logger.Printf("%s: %s %s from %s", id, req.Method, req.Path, conn.RemoteAddr())

	resp := l.Conductor.ProcessRequest(ctx, req)
	if _, err = resp.WriteTo(conn); err != nil {
		logger.Printf("%s: unable to write response: %v", id, err)
	}
}

// readRequest reads BufferSize chunks until a read returns fewer bytes than requested. A request
// that fills the buffer exactly ends on EOF or the read deadline; what arrived before is kept.
func readRequest(conn io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, BufferSize)
	for {
		n, err := conn.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, os.ErrDeadlineExceeded) && sb.Len() > 0 {
				break
			}
			return "", err
		}
		if n < BufferSize {
			break
		}
	}
	return strings.ToValidUTF8(sb.String(), "�"), nil
}
