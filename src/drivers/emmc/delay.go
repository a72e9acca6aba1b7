package emmc

// Delayer is the platform's microsecond sleep.  Every wait in the driver
// goes through it, so a simulation can advance time instead of sleeping.
type Delayer interface {
	Sleep(us uint64)
}

// DelayFunc adapts a plain function to Delayer.
type DelayFunc func(us uint64)

func (f DelayFunc) Sleep(us uint64) {
	f(us)
}

// poll calls cond until it is true or timeoutUs has elapsed, sleeping
// stepUs between checks.  cond gets one last look after the deadline is
// used up.
func poll(d Delayer, timeoutUs, stepUs uint64, cond func() bool) bool {
	if stepUs == 0 {
		stepUs = 1
	}
	for waited := uint64(0); ; waited += stepUs {
		if cond() {
			return true
		}
		if waited >= timeoutUs {
			return false
		}
		d.Sleep(stepUs)
	}
}
