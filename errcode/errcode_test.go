package errcode

import (
	"errors"
	"testing"
)

func TestCodesAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"busy":                Busy,
		"timeout":             Timeout,
		"invalid_pin":         InvalidPin,
		"invalid_dir":         InvalidDir,
		"already_initialized": AlreadyInitialized,
		"not_initialized":     NotInitialized,
		"invalid_address":     InvalidAddress,
		"pin_in_use":          PinInUse,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("code %q mismatch: got %#v", want, e)
		}
	}
}

func TestOf(t *testing.T) {
	if got := Of(nil); got != OK {
		t.Fatalf("Of(nil)=%q", got)
	}
	if got := Of(Timeout); got != Timeout {
		t.Fatalf("Of(Timeout)=%q", got)
	}
	if got := Of(&E{C: Busy, Op: "i2c.Tx"}); got != Busy {
		t.Fatalf("Of(E)=%q", got)
	}
	if got := Of(errors.New("boom")); got != Error {
		t.Fatalf("Of(plain)=%q", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
	cause := errors.New("nack")
	err := Wrap("ds1307.Now", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause lost")
	}
	if Of(err) != BusError {
		t.Fatalf("plain bus failure should map to bus_error, got %q", Of(err))
	}
	if got := err.Error(); got != "ds1307.Now: bus_error: nack" {
		t.Fatalf("message %q", got)
	}

	err = Wrap("i2c.Tx", Timeout)
	if Of(err) != Timeout || !errors.Is(err, Timeout) {
		t.Fatalf("code lost through wrap: %v", err)
	}
}
