package comms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/CodedInternet/iotcar/onboard"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyListener fails its first Accept calls the way an exhausted fd table does.
type flakyListener struct {
	net.Listener
	lock     sync.Mutex
	failures int
	count    int
}

func (f *flakyListener) Accept() (net.Conn, error) {
	f.lock.Lock()
	if f.count < f.failures {
		f.count++
		f.lock.Unlock()
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept4", syscall.EMFILE)}
	}
	f.lock.Unlock()
	return f.Listener.Accept()
}

func (f *flakyListener) failed() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.count
}

func roundTrip(addr net.Addr, request string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err = io.WriteString(conn, request); err != nil {
		return "", err
	}
	resp, err := io.ReadAll(conn)
	return string(resp), err
}

func TestReadRequest(t *testing.T) {
	Convey("Reading a request", t, func() {
		Convey("Stops after a short read", func() {
			raw, err := readRequest(strings.NewReader("GET / HTTP/1.1\r\n\r\n"))
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, "GET / HTTP/1.1\r\n\r\n")
		})

		Convey("Keeps reading while the buffer fills", func() {
			long := "GET /?x=" + strings.Repeat("a", BufferSize*2) + " HTTP/1.1\r\n\r\n"
			raw, err := readRequest(bytes.NewBufferString(long))
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, long)
		})

		Convey("Keeps a buffer sized request when the deadline passes", func() {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			exact := strings.Repeat("a", BufferSize)
			go client.Write([]byte(exact))

			server.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			raw, err := readRequest(server)
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, exact)
		})

		Convey("A deadline with nothing read is an error", func() {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			server.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
			_, err := readRequest(server)
			So(errors.Is(err, os.ErrDeadlineExceeded), ShouldBeTrue)
		})

		Convey("Replaces invalid UTF-8", func() {
			raw, err := readRequest(bytes.NewReader([]byte{'G', 'E', 'T', ' ', 0xff, '\n'}))
			So(err, ShouldBeNil)
			So(raw, ShouldEqual, "GET �\n")
		})
	})
}

func TestListener(t *testing.T) {
	Convey("Given a listener in front of a simulated car", t, func() {
		car, sim, err := onboard.NewCarSimulator(onboard.DefaultConfig())
		So(err, ShouldBeNil)
		defer car.Close()

		listener := NewListener("127.0.0.1:0", NewConductor(car))
		So(listener.Listen(), ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- listener.Serve(ctx) }()
		defer func() {
			cancel()
			<-served
		}()

		config := onboard.DefaultConfig()
		motor := sim.PWM(config.Motor.Chip, config.Motor.Channel)
		servo := sim.Digital(config.Steering.Pin)

		Convey("A full request drives the car and returns the page", func() {
			resp, err := roundTrip(listener.Addr(), "GET /Default.html?motorSpeed=100&direction=0 HTTP/1.1\r\nHost: car\r\n\r\n")
			So(err, ShouldBeNil)
			So(resp, ShouldStartWith, "HTTP/1.1 200 OK\r\n")
			So(resp, ShouldContainSubstring, "Content-Type: text/html")
			So(resp, ShouldContainSubstring, "Connection: close")
			So(resp, ShouldEndWith, string(StaticPage().Body))

			So(motor.DutyCycle(), ShouldEqual, 1)
			pulses := servo.Pulses()
			So(len(pulses), ShouldBeGreaterThan, 0)
			So(pulses[0], ShouldBeGreaterThanOrEqualTo, config.Pulse.MinPulse-50*time.Microsecond)
		})

		Convey("A bad value returns a diagnostic", func() {
			resp, err := roundTrip(listener.Addr(), "GET /?motorSpeed=full HTTP/1.1\r\n\r\n")
			So(err, ShouldBeNil)
			So(resp, ShouldContainSubstring, "Content-Type: text/plain")
			So(resp, ShouldContainSubstring, "motorSpeed")
			So(motor.DutyCycle(), ShouldEqual, 0)
		})

		Convey("Concurrent clients are all answered", func() {
			results := make(chan error, 4)
			for i := 0; i < 4; i++ {
				go func() {
					resp, err := roundTrip(listener.Addr(), "GET /?motorSpeed=20 HTTP/1.1\r\n\r\n")
					if err == nil && !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
						err = io.ErrUnexpectedEOF
					}
					results <- err
				}()
			}
			for i := 0; i < 4; i++ {
				So(<-results, ShouldBeNil)
			}
			So(motor.DutyCycle(), ShouldAlmostEqual, 0.2)
		})

		Convey("A client that connects and leaves is dropped quietly", func() {
			conn, err := net.Dial("tcp", listener.Addr().String())
			So(err, ShouldBeNil)
			conn.Close()

			resp, err := roundTrip(listener.Addr(), "GET / HTTP/1.1\r\n\r\n")
			So(err, ShouldBeNil)
			So(resp, ShouldStartWith, "HTTP/1.1 200 OK")
		})
	})

	Convey("Accept failures do not stop the listener", t, func() {
		car, _, err := onboard.NewCarSimulator(onboard.DefaultConfig())
		So(err, ShouldBeNil)
		defer car.Close()

		inner, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		flaky := &flakyListener{Listener: inner, failures: 2}

		listener := NewListener(inner.Addr().String(), NewConductor(car))
		listener.ln = flaky

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- listener.Serve(ctx) }()

		resp, err := roundTrip(inner.Addr(), "GET /?motorSpeed=10 HTTP/1.1\r\n\r\n")
		So(err, ShouldBeNil)
		So(resp, ShouldStartWith, "HTTP/1.1 200 OK")
		So(flaky.failed(), ShouldEqual, 2)

		cancel()
		So(<-served, ShouldBeNil)
	})

	Convey("A request filling the buffer exactly is still answered", t, func() {
		car, _, err := onboard.NewCarSimulator(onboard.DefaultConfig())
		So(err, ShouldBeNil)
		defer car.Close()

		listener := NewListener("127.0.0.1:0", NewConductor(car))
		listener.ReadTimeout = 200 * time.Millisecond
		So(listener.Listen(), ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- listener.Serve(ctx) }()
		defer func() {
			cancel()
			<-served
		}()

		head := "GET /?motorSpeed=10&pad="
		tail := " HTTP/1.1\r\n\r\n"
		request := head + strings.Repeat("x", BufferSize-len(head)-len(tail)) + tail
		So(len(request), ShouldEqual, BufferSize)

		resp, err := roundTrip(listener.Addr(), request)
		So(err, ShouldBeNil)
		So(resp, ShouldStartWith, "HTTP/1.1 200 OK")
		So(car.State().MotorDuty, ShouldAlmostEqual, 0.1)
	})

	Convey("Binding an address in use fails", t, func() {
		taken, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer taken.Close()

		listener := NewListener(taken.Addr().String(), NewConductor(nil))
		So(listener.Listen(), ShouldNotBeNil)
		So(listener.Addr(), ShouldBeNil)
	})
}
