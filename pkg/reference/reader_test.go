package reference

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort answers each query with the next queued reply.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies []string
	pending bytes.Buffer
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(b)
	if len(p.replies) > 0 {
		p.pending.WriteString(p.replies[0])
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestReader(t *testing.T, port *fakePort) *Reader {
	t.Helper()
	r := New("/dev/ttyFAKE", 0, "2").WithOpener(func(name string, baud int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyFAKE", name)
		assert.Equal(t, DefaultBaudRate, baud)
		return port, nil
	})
	require.NoError(t, r.Open())
	return r
}

func TestParseReading(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"4.0512\r\n", 4.0512, true},
		{"CH1: +4.0512 C\r\n", 4.0512, true},
		{"-30.125,OK", -30.125, true},
		{"T=3.99°C", 3.99, true},
		{"4.05C", 4.05, true},
		{"1.2e1", 12, true},
		{"ERR", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseReading(tc.line)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseReading(%q): unexpected error %v", tc.line, err)
			}
			if got != tc.want {
				t.Fatalf("ParseReading(%q): expected %v, got %v", tc.line, tc.want, got)
			}
			continue
		}
		if !errors.Is(err, ErrNoReading) {
			t.Fatalf("ParseReading(%q): expected ErrNoReading, got %v", tc.line, err)
		}
	}
}

func TestReadQueriesChannel(t *testing.T) {
	port := &fakePort{replies: []string{"4.10\r\n", "4.20\r\n"}}
	r := newTestReader(t, port)

	v, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, 4.10, v)

	v, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, 4.20, v)
	assert.Equal(t, 4.20, r.Temperature())
	assert.False(t, r.UpdatedAt().IsZero())

	assert.Equal(t, "READ? 2\r\nREAD? 2\r\n", port.written.String())
}

func TestReadKeepsLastGoodValue(t *testing.T) {
	port := &fakePort{replies: []string{"4.10\r\n", "OVERRANGE\r\n"}}
	r := newTestReader(t, port)

	_, err := r.Read()
	require.NoError(t, err)

	_, err = r.Read()
	assert.True(t, errors.Is(err, ErrNoReading))
	assert.Equal(t, 4.10, r.Temperature())

	// no reply at all
	_, err = r.Read()
	assert.Error(t, err)
	assert.Equal(t, 4.10, r.Temperature())
}

func TestReadBeforeOpen(t *testing.T) {
	_, err := New("/dev/null", 0, "1").Read()
	assert.True(t, errors.Is(err, ErrNotOpen))
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	r := newTestReader(t, port)
	require.NoError(t, r.Close())
	assert.True(t, port.closed)
	require.NoError(t, r.Close())

	_, err := r.Read()
	assert.True(t, errors.Is(err, ErrNotOpen))
}
