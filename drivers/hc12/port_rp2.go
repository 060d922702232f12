//go:build rp2040

package hc12

import (
	"context"
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"picoperiph/hal"
)

type uartPort struct{ u *uartx.UART }

func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *uartPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}
func (p *uartPort) SetBaudRate(br uint32) error { p.u.SetBaudRate(br); return nil }

// OpenUART claims tx and rx for UART n in reg and configures the
// controller at 9600 baud 8N1.
func OpenUART(reg *hal.Registry, n, tx, rx int) (Port, error) {
	if _, err := claimUART(reg, n, tx, rx); err != nil {
		return nil, err
	}
	hw := uartx.UART0
	if n == 1 {
		hw = uartx.UART1
	}
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: Baud9600.Rate(),
		TX:       machine.Pin(tx),
		RX:       machine.Pin(rx),
	}); err != nil {
		return nil, err
	}
	return &uartPort{u: hw}, nil
}
