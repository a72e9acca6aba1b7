package emmc

import (
	"testing"

	"sdmmc/src/drivers/emmc/emmctest"
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

func TestVoltageSwitchFailureRetriesAt33(t *testing.T) {
	card := emmctest.NewSDHC(1 << 20)
	r := newRig(t, card, rigOptions{})
	r.ctl.Faults.DatNeverSettles = true
	if err := r.sess.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	c := r.sess.Card()
	if c.Timing != TimingHS || r.host.Voltage() != Signal330 || card.Signaling18() {
		t.Errorf("negotiated %v at %v", c.Timing, r.host.Voltage())
	}
	if c.Supports18V {
		t.Errorf("retry still asked for 1.8V")
	}
	if !r.log.Contains(trust.WarnMask, "1.8V switch failed") {
		t.Errorf("retry not logged")
	}
	data := pattern(2, 0x33)
	if err := r.sess.WriteBlocks(20, data); err != nil {
		t.Fatal(err)
	}
	checkSectors(t, card, 20, data)
}

func TestSwitchVoltageReportsStuckDat(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{tweak: func(c *Config) { c.EnableUHS = false }})
	if r.host.Voltage() != Signal330 {
		t.Fatalf("UHS disabled but at %v", r.host.Voltage())
	}
	r.ctl.Faults.DatNeverSettles = true
	if err := r.host.SwitchVoltage(Signal180); err != EmmcVoltageSwitchFailed {
		t.Errorf("got %v", err)
	}
	if r.host.Voltage() != Signal330 {
		t.Errorf("voltage recorded as %v after a failed switch", r.host.Voltage())
	}
}

func TestSwitchVoltageBackTo33(t *testing.T) {
	r := up(t, emmctest.NewEMMC(1<<24), rigOptions{})
	if r.host.Voltage() != Signal180 {
		t.Fatalf("eMMC HS400 at %v", r.host.Voltage())
	}
	if err := r.host.SwitchVoltage(Signal330); err != nil {
		t.Fatal(err)
	}
	if r.host.Registers().HostControl2.HasBits(dwcmshc.HC2Signal18V) || r.host.Voltage() != Signal330 {
		t.Errorf("still signaling at 1.8V")
	}
}

func TestTuningFailureFallsBackToSDR50(t *testing.T) {
	r := newRig(t, emmctest.NewSDHC(1<<20), rigOptions{})
	r.ctl.Faults.TuningNeverConverges = true
	if err := r.sess.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	c := r.sess.Card()
	if c.Timing != TimingSDR50 || c.ClockHz != 100000000 {
		t.Errorf("negotiated %v at %d", c.Timing, c.ClockHz)
	}
	if !r.log.Contains(trust.WarnMask, "SDR104 setup failed") {
		t.Errorf("fallback not logged")
	}
	if r.host.Tuned(TimingSDR104) {
		t.Errorf("SDR104 marked tuned")
	}
}

func TestRetuneFailureGatesCommands(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{})
	r.ctl.Faults.TuningNeverConverges = true
	if err := r.host.RunTuning(TimingSDR104); err != EmmcTuningFailed {
		t.Fatalf("got %v", err)
	}
	if r.host.Tuned(TimingSDR104) {
		t.Errorf("tuned after failure")
	}
	hc2 := r.host.Registers().HostControl2.Get()
	if hc2&(dwcmshc.HC2ExecuteTuning|dwcmshc.HC2SamplingClock) != 0 {
		t.Errorf("tuning bits left set: %04x", hc2)
	}
	writes := r.ctl.CommandWrites
	if _, err := r.host.Execute(r.status()); err != EmmcCommandError {
		t.Errorf("untuned SDR104 accepted a command: %v", err)
	}
	if err := r.sess.ReadBlocks(0, make([]byte, BlockSize)); err != EmmcCommandError {
		t.Errorf("untuned read: %v", err)
	}
	if r.ctl.CommandWrites != writes {
		t.Errorf("commands reached the controller")
	}
	r.ctl.Faults.TuningNeverConverges = false
	if err := r.host.RunTuning(TimingSDR104); err != nil {
		t.Fatalf("retune: %v", err)
	}
	if _, err := r.host.Execute(r.status()); err != nil {
		t.Errorf("after retune: %v", err)
	}
}

func TestTuningCommandAndBlockSize(t *testing.T) {
	r := up(t, emmctest.NewEMMC(1<<24), rigOptions{tweak: func(c *Config) {
		c.HostModes = MaskOf(TimingLegacy, TimingHS, TimingHS200)
	}})
	if r.sess.Card().Timing != TimingHS200 {
		t.Fatalf("negotiated %v", r.sess.Card().Timing)
	}
	r.ctl.Log = nil
	if err := r.host.RunTuning(TimingHS200); err != nil {
		t.Fatal(err)
	}
	if len(r.ctl.Log) != r.ctl.TuningAttempts {
		t.Errorf("%d tuning blocks, controller wanted %d", len(r.ctl.Log), r.ctl.TuningAttempts)
	}
	for _, cmd := range r.ctl.Log {
		if cmd.Index != CmdSendTuningMMC || !cmd.Data {
			t.Errorf("tuning sent %+v", cmd)
		}
	}
	if got := r.host.Registers().BlockSize.Get(); got != 128 {
		t.Errorf("8 bit tuning block of %d bytes", got)
	}
	if r.host.RunTuning(TimingSDR104) != EmmcInvalidArgument {
		t.Errorf("tuning for a timing the host is not in")
	}
}

func TestTuningNotNeeded(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{tweak: func(c *Config) {
		c.HostModes = MaskOf(TimingLegacy, TimingHS)
	}})
	r.ctl.Log = nil
	if err := r.host.RunTuning(TimingHS); err != nil {
		t.Errorf("got %v", err)
	}
	if len(r.ctl.Log) != 0 {
		t.Errorf("tuning blocks sent for HS")
	}
	if r.host.RunTuning(TimingHS400) != EmmcTuningFailed {
		t.Errorf("HS400 without an HS200 tuning")
	}
}

func TestDLLFailureFallsBackToHS(t *testing.T) {
	r := newRig(t, emmctest.NewSDHC(1<<20), rigOptions{})
	r.ctl.Faults.DLLNeverLocks = true
	if err := r.sess.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if c := r.sess.Card(); c.Timing != TimingHS || c.ClockHz != 50000000 {
		t.Errorf("negotiated %v at %d", c.Timing, c.ClockHz)
	}
	if r.host.SetClock(200000000) != EmmcIoError {
		t.Errorf("DLL failure not reported")
	}
}

func TestSetClockDivisors(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{})
	cases := []struct {
		want, got uint32
	}{
		{400000, 400000},
		{25000000, 25000000},
		{52000000, 50000000},
		{26000000, 25000000},
		{208000000, 200000000},
	}
	for _, tc := range cases {
		if err := r.host.SetClock(tc.want); err != nil {
			t.Fatalf("%d: %v", tc.want, err)
		}
		if r.host.Clock() != tc.got {
			t.Errorf("asked %d got %d, want %d", tc.want, r.host.Clock(), tc.got)
		}
		if !r.host.Registers().ClockControl.HasBits(dwcmshc.CCCardEnable) {
			t.Errorf("%d: SD clock left gated", tc.want)
		}
	}
	if err := r.host.SetClock(0); err != nil || r.host.Clock() != 0 {
		t.Errorf("clock off: %v, %d", err, r.host.Clock())
	}
	if _, err := r.host.Execute(r.status()); err != EmmcCommandError {
		t.Errorf("command with the clock off: %v", err)
	}
}

func TestSetBusWidthChecks(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{})
	if r.host.SetBusWidth(3) != EmmcInvalidArgument {
		t.Errorf("3 bit bus accepted")
	}
	if r.host.SetBusWidth(BusWidth8) != EmmcBusWidth {
		t.Errorf("8 bit SD bus accepted")
	}
	if err := r.host.SetBusWidth(BusWidth1); err != nil {
		t.Fatal(err)
	}
	if r.sess.Host().BusWidth() != BusWidth1 || r.ctl.Card().Width() != 1 {
		t.Errorf("width did not change")
	}
}

func TestMMCBusWidthRoundTrip(t *testing.T) {
	card := emmctest.NewEMMC(1 << 20)
	r := up(t, card, rigOptions{tweak: func(c *Config) {
		c.HostModes = MaskOf(TimingLegacy, TimingHS)
	}})
	for _, tc := range []struct {
		w    BusWidth
		want uint8
	}{
		{BusWidth4, extBusWidth4},
		{BusWidth1, extBusWidth1},
		{BusWidth8, extBusWidth8},
	} {
		if got := mmcWidthValue(tc.w); got != tc.want {
			t.Errorf("%v encodes as %d", tc.w, got)
		}
		if err := r.host.SetBusWidth(tc.w); err != nil {
			t.Fatalf("%v: %v", tc.w, err)
		}
		if card.ExtCSD()[extCSDBusWidth] != tc.want || r.host.BusWidth() != tc.w {
			t.Errorf("%v: card %d host %v", tc.w, card.ExtCSD()[extCSDBusWidth], r.host.BusWidth())
		}
	}
}

func TestRefusedWidthStaysOneBit(t *testing.T) {
	card := emmctest.NewSDHC(1 << 20)
	card.RejectWidth = true
	r := up(t, card, rigOptions{})
	if w := r.sess.Card().BusWidth; w != BusWidth1 {
		t.Errorf("bus width %v", w)
	}
	if !r.log.Contains(trust.WarnMask, "4 bit bus refused") {
		t.Errorf("refusal not logged")
	}
	data := pattern(3, 0x77)
	if err := r.sess.WriteBlocks(0, data); err != nil {
		t.Fatal(err)
	}
	checkSectors(t, card, 0, data)
}

func TestSetTimingProgramsHost(t *testing.T) {
	r := up(t, emmctest.NewEMMC(1<<24), rigOptions{})
	regs := r.host.Registers()
	if !regs.EMMCControl.HasBits(dwcmshc.EMMCEnhancedStrobe) {
		t.Errorf("HS400 without enhanced strobe")
	}
	if regs.HostControl2.Get()&dwcmshc.HC2UHSModeMask != dwcmshc.HC2UHSHS400 {
		t.Errorf("mode select %04x", regs.HostControl2.Get())
	}
	if err := r.host.SetTiming(TimingLegacy); err != nil {
		t.Fatal(err)
	}
	if regs.HostControl1.HasBits(dwcmshc.HC1HighSpeed) || regs.EMMCControl.HasBits(dwcmshc.EMMCEnhancedStrobe) {
		t.Errorf("legacy timing left high speed bits")
	}
	if r.host.SetTiming(timingCount) != EmmcInvalidArgument {
		t.Errorf("bad timing accepted")
	}
}
