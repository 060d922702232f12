package pwm

import (
	"time"

	"picoperiph/x/ramp"
)

// Ramp moves the level on pin linearly to `to` over d in the given number
// of steps, in the background. A later SetLevel, SetDuty or StopRamp on the
// same channel cancels it. done, if non-nil, is closed when the ramp ends.
func (c *Controller) Ramp(pin int, to uint16, d time.Duration, steps uint16, done chan<- struct{}) error {
	slice, ch, err := checkPin(pin)
	if err != nil {
		return err
	}
	key := slice*NumChannels + ch

	c.mu.Lock()
	if _, busy := c.ramps[key]; busy {
		c.mu.Unlock()
		return ErrRampActive
	}
	cancel := make(chan struct{})
	c.ramps[key] = cancel
	start := c.slices[slice].level[ch]
	top := c.slices[slice].wrap
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			if c.ramps[key] == cancel {
				delete(c.ramps, key)
			}
			c.mu.Unlock()
			if done != nil {
				close(done)
			}
		}()
		tick := func(d time.Duration) bool {
			select {
			case <-cancel:
				return false
			case <-time.After(d):
				return true
			}
		}
		ramp.Linear(start, to, top, d, steps, tick, func(lvl uint16) {
			c.mu.Lock()
			if c.ramps[key] == cancel {
				c.setLevel(slice, ch, lvl)
			}
			c.mu.Unlock()
		})
	}()
	return nil
}

// StopRamp cancels a running ramp on pin, leaving the level where it is.
func (c *Controller) StopRamp(pin int) {
	if _, _, err := checkPin(pin); err != nil {
		return
	}
	c.stopRamp(SliceOf(pin)*NumChannels + ChannelOf(pin))
}

func (c *Controller) stopRamp(key int) {
	c.mu.Lock()
	if cancel, ok := c.ramps[key]; ok {
		close(cancel)
		delete(c.ramps, key)
	}
	c.mu.Unlock()
}

// Ramping reports whether a ramp is running on pin.
func (c *Controller) Ramping(pin int) bool {
	if _, _, err := checkPin(pin); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ramps[SliceOf(pin)*NumChannels+ChannelOf(pin)]
	return ok
}
