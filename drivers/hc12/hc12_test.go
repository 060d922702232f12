package hc12

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/hal/haltest"
)

// module answers AT commands while SET is low and otherwise records what
// would go over the air.
type module struct {
	mu     sync.Mutex
	set    *haltest.FakePin
	baud   uint32
	air    []string
	cmds   []string
	silent bool
	rx     chan []byte
}

func newModule() *module {
	return &module{set: haltest.NewPin(22), rx: make(chan []byte, 16)}
}

func (m *module) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := string(b)
	if m.set.Get() {
		m.air = append(m.air, s)
		return len(b), nil
	}
	m.cmds = append(m.cmds, s)
	if m.silent {
		return len(b), nil
	}
	switch {
	case s == "AT":
		m.rx <- []byte("OK\r\n")
	case strings.HasPrefix(s, "AT+"):
		m.rx <- []byte("OK+" + s[3:] + "\r\n")
	default:
		m.rx <- []byte("ERROR\r\n")
	}
	return len(b), nil
}

func (m *module) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	select {
	case b := <-m.rx:
		return copy(buf, b), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (m *module) SetBaudRate(br uint32) error {
	m.mu.Lock()
	m.baud = br
	m.mu.Unlock()
	return nil
}

func newDevice(t *testing.T, m *module) (*Device, *haltest.Clock) {
	t.Helper()
	clk := haltest.NewClock()
	d, err := New(Config{Port: m, Set: m.set, Clock: clk, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	return d, clk
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings.Validate())
	cases := []struct {
		s    Settings
		want error
	}{
		{Settings{Baud: 8, Channel: 1, Power: 8, Mode: FU3}, ErrInvalidBaud},
		{Settings{Baud: Baud9600, Channel: 0, Power: 8, Mode: FU3}, ErrInvalidChannel},
		{Settings{Baud: Baud9600, Channel: 128, Power: 8, Mode: FU3}, ErrInvalidChannel},
		{Settings{Baud: Baud9600, Channel: 1, Power: 0, Mode: FU3}, ErrInvalidPower},
		{Settings{Baud: Baud9600, Channel: 1, Power: 9, Mode: FU3}, ErrInvalidPower},
		{Settings{Baud: Baud9600, Channel: 1, Power: 8, Mode: 3}, ErrInvalidMode},
		{Settings{Baud: Baud9600, Channel: 1, Power: 8, Mode: FU2}, ErrModeBaud},
	}
	for _, c := range cases {
		assert.ErrorIs(t, c.s.Validate(), c.want, "%+v", c.s)
	}
	require.NoError(t, Settings{Baud: Baud4800, Channel: 127, Power: 1, Mode: FU2}.Validate())
}

func TestTables(t *testing.T) {
	assert.Equal(t, uint32(115200), Baud115200.Rate())
	assert.Zero(t, Baud(8).Rate())
	b, ok := BaudFor(19200)
	assert.True(t, ok)
	assert.Equal(t, Baud19200, b)
	_, ok = BaudFor(14400)
	assert.False(t, ok)
	assert.Equal(t, -1, PowerMinus1dBm.DBm())
	assert.Equal(t, 20, Power20dBm.DBm())
}

func TestInitializeDefaultsSkipsATMode(t *testing.T) {
	m := newModule()
	d, clk := newDevice(t, m)
	require.NoError(t, d.Initialize(context.Background(), DefaultSettings))
	assert.Empty(t, m.cmds)
	assert.True(t, m.set.Get())
	assert.Equal(t, uint32(9600), m.baud)
	assert.Zero(t, clk.Slept())
}

func TestInitializeProgramsDifferences(t *testing.T) {
	m := newModule()
	d, clk := newDevice(t, m)
	want := Settings{Baud: Baud19200, Channel: 21, Power: Power20dBm, Mode: FU1}
	require.NoError(t, d.Initialize(context.Background(), want))

	assert.Equal(t, []string{"AT+B19200", "AT+C021", "AT+FU1"}, m.cmds)
	assert.Equal(t, []bool{false, true}, m.set.History())
	assert.Equal(t, ATEnterDelay+ATExitDelay, clk.Slept())
	assert.Equal(t, uint32(19200), m.baud)
	assert.Equal(t, want, d.Settings())
	assert.False(t, d.InATMode())
}

func TestApplyStopsOnBadReply(t *testing.T) {
	m := newModule()
	d, _ := newDevice(t, m)
	require.NoError(t, d.Initialize(context.Background(), DefaultSettings))
	m.silent = true

	err := d.Apply(context.Background(), Settings{Baud: Baud9600, Channel: 5, Power: Power2dBm, Mode: FU3})
	assert.ErrorIs(t, err, errcode.NoResponse)
	assert.Equal(t, []string{"AT+C005"}, m.cmds)
	assert.False(t, d.InATMode(), "SET released after a failure")
	assert.Equal(t, DefaultSettings, d.Settings())
}

func TestCommandAndData(t *testing.T) {
	m := newModule()
	d, _ := newDevice(t, m)
	ctx := context.Background()
	require.NoError(t, d.Initialize(ctx, DefaultSettings))

	_, err := d.Command(ctx, "AT")
	assert.ErrorIs(t, err, ErrNotATMode)

	require.NoError(t, d.EnterATMode())
	resp, err := d.Command(ctx, "AT+RX")
	require.NoError(t, err)
	assert.Equal(t, "OK+RX", resp)
	_, err = d.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrATMode)
	require.NoError(t, d.Close())

	n, err := d.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"hello"}, m.air)
}

func TestReadLineQueues(t *testing.T) {
	m := newModule()
	d, _ := newDevice(t, m)
	ctx := context.Background()
	m.rx <- []byte("one\r\ntw")
	m.rx <- []byte("o\n\nthree\n")

	line, err := d.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", line)
	line, err = d.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", line)
	assert.Equal(t, 1, d.Pending())

	buf := make([]byte, 3)
	n, err := d.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "thr", string(buf[:n]))
	n, err = d.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "ee\n", string(buf[:n]))

	ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	_, err = d.ReadLine(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNoSetPin(t *testing.T) {
	m := newModule()
	d, err := New(Config{Port: m})
	require.NoError(t, err)
	err = d.Initialize(context.Background(), Settings{Baud: Baud9600, Channel: 2, Power: 8, Mode: FU3})
	assert.ErrorIs(t, err, ErrNoSetPin)
	assert.ErrorIs(t, d.ResetDefaults(context.Background()), ErrNoSetPin)
	require.NoError(t, d.Close())

	_, err = New(Config{})
	assert.ErrorIs(t, err, errcode.InvalidParams)
}

func TestUARTPins(t *testing.T) {
	assert.True(t, ValidUARTPins(0, 0, 1))
	assert.True(t, ValidUARTPins(1, 4, 5))
	assert.False(t, ValidUARTPins(0, 4, 5))
	assert.False(t, ValidUARTPins(2, 0, 1))

	reg := hal.NewRegistry()
	owner, err := claimUART(reg, 1, 8, 9)
	require.NoError(t, err)
	assert.Equal(t, "uart1", owner)
	who, fn, ok := reg.Owner(8)
	assert.True(t, ok)
	assert.Equal(t, "uart1", who)
	assert.Equal(t, hal.FuncUART, fn)

	_, err = claimUART(reg, 0, 8, 9)
	assert.ErrorIs(t, err, errcode.InvalidPin)
}

// stream returns the same chunk on every receive.
type stream struct{ chunk string }

func (s stream) Write(b []byte) (int, error) { return len(b), nil }
func (s stream) SetBaudRate(uint32) error    { return nil }
func (s stream) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return copy(buf, s.chunk), nil
}

func TestConcurrentReadLine(t *testing.T) {
	d, err := New(Config{Port: stream{chunk: "abcdefgh\n"}})
	require.NoError(t, err)

	const readers, each = 4, 2000
	var wg sync.WaitGroup
	bad := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				line, err := d.ReadLine(context.Background())
				if err != nil || line != "abcdefgh" {
					bad <- line
					return
				}
			}
		}()
	}
	wg.Wait()
	close(bad)
	for line := range bad {
		t.Errorf("mixed line %q", line)
	}
}

func TestReadLineWaitingForPortHonoursContext(t *testing.T) {
	m := newModule()
	d, _ := newDevice(t, m)

	got := make(chan string, 1)
	go func() {
		line, _ := d.ReadLine(context.Background())
		got <- line
	}()
	// Let the first reader take the port.
	require.Eventually(t, func() bool { return len(d.rx) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := d.ReadLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m.rx <- []byte("late\n")
	select {
	case line := <-got:
		assert.Equal(t, "late", line)
	case <-time.After(time.Second):
		t.Fatal("first reader never returned")
	}
}
