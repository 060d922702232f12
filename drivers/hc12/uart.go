package hc12

import "picoperiph/hal"

// RP2040 UART pin options.
var (
	uartTX = [2][]int{{0, 12, 16, 28}, {4, 8, 20, 24}}
	uartRX = [2][]int{{1, 13, 17, 29}, {5, 9, 21, 25}}
)

func has(set []int, pin int) bool {
	for _, p := range set {
		if p == pin {
			return true
		}
	}
	return false
}

// ValidUARTPins reports whether tx and rx can be muxed to UART n.
func ValidUARTPins(n, tx, rx int) bool {
	if n < 0 || n > 1 {
		return false
	}
	return has(uartTX[n], tx) && has(uartRX[n], rx)
}

// claimUART validates the pins and records them in reg.
func claimUART(reg *hal.Registry, n, tx, rx int) (owner string, err error) {
	if !ValidUARTPins(n, tx, rx) {
		return "", errInvalidUARTPins
	}
	owner = "uart0"
	if n == 1 {
		owner = "uart1"
	}
	if reg == nil {
		return owner, nil
	}
	return owner, reg.ClaimPins(owner, hal.FuncUART, tx, rx)
}
