// Package reference reads the external reference thermometer over a serial
// port.
package reference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 9600
	readTimeout     = 2 * time.Second
)

var (
	ErrNotOpen   = pkgerrors.New("reference port is not open")
	ErrNoReading = pkgerrors.New("no numeric reading in reply")
)

// Opener opens the port the thermometer is attached to.
type Opener func(port string, baudRate int) (io.ReadWriteCloser, error)

// OpenSerial opens a serial port with a read timeout so a silent instrument
// cannot block a poll forever.
func OpenSerial(port string, baudRate int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", port, err)
	}
	return p, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Reader queries one channel of the thermometer and caches the last good
// reading.
type Reader struct {
	port     string
	baudRate int
	channel  string
	open     Opener

	mu   sync.Mutex
	conn io.ReadWriteCloser
	br   *bufio.Reader

	vmu     sync.RWMutex
	last    float64
	updated time.Time
}

func New(port string, baudRate int, channel string) *Reader {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Reader{
		port:     port,
		baudRate: baudRate,
		channel:  channel,
		open:     OpenSerial,
	}
}

// WithOpener replaces the function used to open the port.
func (r *Reader) WithOpener(o Opener) *Reader {
	r.open = o
	return r
}

func (r *Reader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	conn, err := r.open(r.port, r.baudRate)
	if err != nil {
		return err
	}
	r.conn = conn
	r.br = bufio.NewReader(conn)

	logrus.WithFields(logrus.Fields{
		"port":     r.port,
		"baudRate": r.baudRate,
		"channel":  r.channel,
	}).Info("reference thermometer connected")

	return nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.br = nil
	return err
}

// Read sends one query and returns the parsed reply. A good reading also
// updates the cached temperature.
func (r *Reader) Read() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return 0, ErrNotOpen
	}

	if _, err := io.WriteString(r.conn, "READ? "+r.channel+"\r\n"); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to query %s", r.port)
	}

	line, err := r.br.ReadString('\n')
	if err != nil && line == "" {
		return 0, pkgerrors.Wrapf(err, "failed to read reply from %s", r.port)
	}

	v, err := ParseReading(line)
	if err != nil {
		return 0, err
	}

	r.vmu.Lock()
	r.last = v
	r.updated = time.Now()
	r.vmu.Unlock()

	return v, nil
}

// Poll reads the thermometer every interval until ctx is done.
func (r *Reader) Poll(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if v, err := r.Read(); err != nil {
			logrus.WithError(err).WithField("port", r.port).Warn("failed to read reference temperature")
		} else {
			logrus.WithField("referenceTemperature", v).Trace("reference temperature read")
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Temperature returns the last good reading.
func (r *Reader) Temperature() float64 {
	r.vmu.RLock()
	defer r.vmu.RUnlock()
	return r.last
}

// UpdatedAt returns when the last good reading was taken.
func (r *Reader) UpdatedAt() time.Time {
	r.vmu.RLock()
	defer r.vmu.RUnlock()
	return r.updated
}

// ParseReading returns the first numeric field of a reply line such as
// "CH1: +4.0512 C" or "4.05C".
func ParseReading(line string) (float64, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '='
	})
	for _, f := range fields {
		f = strings.TrimRightFunc(f, func(r rune) bool {
			return unicode.IsLetter(r) || r == '°'
		})
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			return v, nil
		}
	}
	return 0, pkgerrors.Wrapf(ErrNoReading, "%q", strings.TrimSpace(line))
}
