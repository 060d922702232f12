package monitor

import (
	"context"
	"time"

	"picoperiph/drivers/bmx280"
	"picoperiph/drivers/max1415"
	"picoperiph/x/strconvx"
)

type base struct{ id, kind string }

func (b base) ID() string   { return b.id }
func (b base) Kind() string { return b.kind }

// Readings that need no conversion time trigger immediately.
func (base) Trigger(context.Context) (time.Duration, error) { return 0, nil }

type clockReader interface {
	Now() (time.Time, error)
	Running() (bool, error)
}

type rtcAdaptor struct {
	base
	d   clockReader
	now func() time.Time
}

// NewRTC samples a DS1307: its time as Unix seconds and its offset from
// the host clock.
func NewRTC(id string, d clockReader) Adaptor {
	return &rtcAdaptor{base: base{id, "ds1307"}, d: d, now: time.Now}
}

func (a *rtcAdaptor) Collect(context.Context) (Values, error) {
	t, err := a.d.Now()
	if err != nil {
		return nil, err
	}
	running, err := a.d.Running()
	if err != nil {
		return nil, err
	}
	v := Values{
		"unix":     float64(t.Unix()),
		"offset_s": t.Sub(a.now().UTC().Truncate(time.Second)).Seconds(),
		"running":  0,
	}
	if running {
		v["running"] = 1
	}
	return v, nil
}

type envSensor interface {
	Mode() bmx280.Mode
	SetMode(bmx280.Mode) error
	Measuring() (bool, error)
	ReadRaw() (bmx280.Raw, error)
	Compensate(bmx280.Raw) bmx280.Measurement
	IsBME() bool
}

// Forced conversion time with x1 oversampling on all channels.
const envConversion = 10 * time.Millisecond

type envAdaptor struct {
	base
	d envSensor
}

// NewEnv samples a BMP280/BME280, starting a forced conversion unless the
// sensor is in normal mode.
func NewEnv(id string, d envSensor) Adaptor {
	return &envAdaptor{base: base{id, "bmx280"}, d: d}
}

func (a *envAdaptor) Trigger(context.Context) (time.Duration, error) {
	if a.d.Mode() == bmx280.Normal {
		return 0, nil
	}
	if err := a.d.SetMode(bmx280.Forced); err != nil {
		return 0, err
	}
	return envConversion, nil
}

func (a *envAdaptor) Collect(context.Context) (Values, error) {
	if a.d.Mode() != bmx280.Normal {
		busy, err := a.d.Measuring()
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, ErrNotReady
		}
	}
	raw, err := a.d.ReadRaw()
	if err != nil {
		return nil, err
	}
	m := a.d.Compensate(raw)
	v := Values{
		"temp_c":       float64(m.Temperature) / 100,
		"pressure_hpa": float64(m.Pressure) / 100,
	}
	if a.d.IsBME() {
		v["humidity_pct"] = float64(m.Humidity) / 1024
	}
	return v, nil
}

type converter interface {
	ReadVoltage(ch max1415.Channel, vref float32) (float32, error)
}

type adcAdaptor struct {
	base
	d    converter
	vref float32
}

// NewADC samples both MAX1415 channels in volts.
func NewADC(id string, d converter, vref float64) Adaptor {
	return &adcAdaptor{base: base{id, "max1415"}, d: d, vref: float32(vref)}
}

func (a *adcAdaptor) Collect(context.Context) (Values, error) {
	va, err := a.d.ReadVoltage(max1415.A, a.vref)
	if err != nil {
		return nil, err
	}
	vb, err := a.d.ReadVoltage(max1415.B, a.vref)
	if err != nil {
		return nil, err
	}
	return Values{"a_v": float64(va), "b_v": float64(vb)}, nil
}

type inputReader interface {
	Read() ([]byte, error)
}

type inputsAdaptor struct {
	base
	d inputReader
}

// NewInputs samples a 74HC165 chain, one value per register.
func NewInputs(id string, d inputReader) Adaptor {
	return &inputsAdaptor{base: base{id, "sn74hc165"}, d: d}
}

func (a *inputsAdaptor) Collect(context.Context) (Values, error) {
	b, err := a.d.Read()
	if err != nil {
		return nil, err
	}
	v := make(Values, len(b))
	for i, x := range b {
		v["in"+strconvx.Itoa(i)] = float64(x)
	}
	return v, nil
}
