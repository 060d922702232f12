// Package telemetry defines the sample frames the monitor and firmware emit
// and their CBOR / JSON encodings. On a byte stream such as a UART or
// HC-12 link each frame carries a 2-byte big-endian length prefix.
package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// MaxFrameSize bounds one encoded frame.
const MaxFrameSize = 1024

const prefixSize = 2

var (
	ErrFrameTooLarge = errors.New("telemetry: frame too large")
	ErrEmptyFrame    = errors.New("telemetry: empty frame")
	ErrFormat        = errors.New("telemetry: unknown format")
)

// Frame is one set of readings from one device.
type Frame struct {
	Session uuid.UUID          `cbor:"1,keyasint" json:"session"`
	Seq     uint32             `cbor:"2,keyasint" json:"seq"`
	Time    time.Time          `cbor:"3,keyasint" json:"time"`
	Device  string             `cbor:"4,keyasint" json:"device"`
	Kind    string             `cbor:"5,keyasint" json:"kind"`
	Values  map[string]float64 `cbor:"6,keyasint,omitempty" json:"values,omitempty"`
}

type Format uint8

const (
	CBOR Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case CBOR:
		return "cbor"
	case JSON:
		return "json"
	}
	return "unknown"
}

// ParseFormat accepts "cbor" or "json".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "cbor":
		return CBOR, nil
	case "json":
		return JSON, nil
	}
	return 0, fmt.Errorf("%w %q", ErrFormat, s)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("telemetry: cbor encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("telemetry: cbor decoder mode: %v", err))
	}
}

func Marshal(f Format, fr Frame) ([]byte, error) {
	switch f {
	case CBOR:
		return encMode.Marshal(fr)
	case JSON:
		return json.Marshal(fr)
	}
	return nil, ErrFormat
}

func Unmarshal(f Format, data []byte) (Frame, error) {
	var fr Frame
	var err error
	switch f {
	case CBOR:
		err = decMode.Unmarshal(data, &fr)
	case JSON:
		err = json.Unmarshal(data, &fr)
	default:
		err = ErrFormat
	}
	return fr, err
}

// Session stamps frames with one random session ID and a running sequence
// number, so a receiver can spot restarts and drops.
type Session struct {
	ID uuid.UUID

	mu  sync.Mutex
	seq uint32
	now func() time.Time
}

func NewSession() *Session { return &Session{ID: uuid.New(), now: time.Now} }

// Next builds the next frame. Time is truncated to whole seconds, the
// resolution of the CBOR encoding.
func (s *Session) Next(device, kind string, values map[string]float64) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return Frame{
		Session: s.ID,
		Seq:     s.seq,
		Time:    s.now().Truncate(time.Second),
		Device:  device,
		Kind:    kind,
		Values:  values,
	}
}

// Encoder writes length-prefixed frames. Safe for concurrent use.
type Encoder struct {
	w      io.Writer
	format Format

	mu  sync.Mutex
	buf []byte
}

func NewEncoder(w io.Writer, f Format) *Encoder { return &Encoder{w: w, format: f} }

// Encode writes fr as one prefix+payload write.
func (e *Encoder) Encode(fr Frame) error {
	payload, err := Marshal(e.format, fr)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = e.buf[:0]
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(payload)))
	e.buf = append(e.buf, payload...)
	_, err = e.w.Write(e.buf)
	return err
}

// Decoder reads frames written by an Encoder of the same format.
type Decoder struct {
	r      io.Reader
	format Format
	buf    []byte
}

func NewDecoder(r io.Reader, f Format) *Decoder { return &Decoder{r: r, format: f} }

// Decode returns io.EOF at a clean end of stream and io.ErrUnexpectedEOF
// for a truncated frame.
func (d *Decoder) Decode() (Frame, error) {
	var hdr [prefixSize]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	switch {
	case n == 0:
		return Frame{}, ErrEmptyFrame
	case n > MaxFrameSize:
		return Frame{}, ErrFrameTooLarge
	}
	if cap(d.buf) < n {
		d.buf = make([]byte, n)
	}
	payload := d.buf[:n]
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Unmarshal(d.format, payload)
}
