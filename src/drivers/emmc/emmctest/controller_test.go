package emmctest

import (
	"bytes"
	"strings"
	"testing"

	"sdmmc/src/hardware/dwcmshc"
)

func TestIntStatusIsWriteOneToClear(t *testing.T) {
	c := NewController(DefaultCaps)
	c.raise(dwcmshc.IntCmdComplete | dwcmshc.IntDataCRC)
	if got := c.Read32(dwcmshc.IntStatus); got&dwcmshc.IntError == 0 {
		t.Fatalf("error summary not set: %08x", got)
	}
	c.Write32(dwcmshc.IntStatus, dwcmshc.IntDataCRC)
	if got := c.Read32(dwcmshc.IntStatus); got != dwcmshc.IntCmdComplete {
		t.Errorf("expected only command complete left, got %08x", got)
	}
	// a 16 bit write to the error half
	c.raise(dwcmshc.IntCmdTimeout)
	c.Write16(dwcmshc.IntStatus+2, uint16(dwcmshc.IntCmdTimeout>>16))
	if got := c.Read32(dwcmshc.IntStatus); got != dwcmshc.IntCmdComplete {
		t.Errorf("16 bit clear of error half failed: %08x", got)
	}
}

func TestResetKeepsIdentity(t *testing.T) {
	c := NewController(DefaultCaps)
	c.Write8(dwcmshc.HostControl1, dwcmshc.HC1DataWidth4)
	c.Write8(dwcmshc.SoftwareReset, dwcmshc.SRAll)
	if c.Read8(dwcmshc.SoftwareReset) != 0 {
		t.Errorf("reset did not self clear")
	}
	if c.Read8(dwcmshc.HostControl1) != 0 {
		t.Errorf("host control survived reset")
	}
	caps := dwcmshc.DecodeCaps(c.Read32(dwcmshc.Capabilities), c.Read32(dwcmshc.Capabilities1))
	if caps.BaseClockHz != 200000000 || !caps.SDR104 || !caps.Bus8Bit {
		t.Errorf("capabilities lost: %+v", caps)
	}
	if c.Read16(dwcmshc.VendorAreaPointer) != dwcmshc.DefaultVendorArea {
		t.Errorf("vendor area pointer lost")
	}
}

func TestClockAndDLL(t *testing.T) {
	c := NewController(DefaultCaps)
	c.Write16(dwcmshc.ClockControl, dwcmshc.CCInternalEnable)
	if c.Read16(dwcmshc.ClockControl)&dwcmshc.CCInternalStable == 0 {
		t.Errorf("internal clock not stable")
	}
	c.Write32(dwcmshc.DLLControl, dwcmshc.DLLStart)
	if c.Read32(dwcmshc.DLLStatus0) != dwcmshc.DLLLocked {
		t.Errorf("DLL did not lock")
	}
	c.Write32(dwcmshc.DLLControl, dwcmshc.DLLBypass|dwcmshc.DLLStart)
	if c.Read32(dwcmshc.DLLStatus0) != 0 {
		t.Errorf("bypassed DLL reports status")
	}
	c.Faults.DLLNeverLocks = true
	c.Write32(dwcmshc.DLLControl, dwcmshc.DLLStart)
	if c.Read32(dwcmshc.DLLStatus0) != dwcmshc.DLLTimeout {
		t.Errorf("expected a DLL timeout")
	}
}

func TestPowerFaults(t *testing.T) {
	c := NewController(DefaultCaps)
	c.Faults.NoBusPower = true
	c.Write8(dwcmshc.PowerControl, dwcmshc.PCVoltage33|dwcmshc.PCBusPower)
	if c.Read8(dwcmshc.PowerControl)&dwcmshc.PCBusPower != 0 || c.Powered() {
		t.Errorf("bus power latched despite fault")
	}
	c.Faults = Faults{BusPowerError: true}
	c.Write8(dwcmshc.PowerControl, dwcmshc.PCVoltage33|dwcmshc.PCBusPower)
	if c.Read32(dwcmshc.IntStatus)&dwcmshc.IntBusPower == 0 {
		t.Errorf("bus power error not raised")
	}
}

// command drives one command the way the driver would.
func command(c *Controller, index uint8, arg uint32, flags uint16) uint32 {
	c.Write32(dwcmshc.IntStatus, dwcmshc.IntAll)
	c.Write32(dwcmshc.Argument, arg)
	c.Write16(dwcmshc.Command, uint16(index)<<dwcmshc.CmdIndexShift|flags)
	return c.Read32(dwcmshc.IntStatus)
}

func powerUp(c *Controller) {
	c.Write8(dwcmshc.PowerControl, dwcmshc.PCVoltage33|dwcmshc.PCBusPower)
	c.Write16(dwcmshc.ClockControl, dwcmshc.CCInternalEnable|dwcmshc.CCCardEnable)
}

func TestHangHoldsInhibitUntilReset(t *testing.T) {
	c := NewController(DefaultCaps)
	c.Insert(NewSDHC(1 << 20))
	powerUp(c)
	c.Faults.Hang = true
	c.Faults.HangIndex = 0
	if st := command(c, 0, 0, dwcmshc.CmdRespNone); st != 0 {
		t.Fatalf("hung command completed: %08x", st)
	}
	if c.Read32(dwcmshc.PresentState)&dwcmshc.PSCmdInhibit == 0 {
		t.Errorf("no inhibit while hung")
	}
	c.Write8(dwcmshc.SoftwareReset, dwcmshc.SRCmd)
	if c.Read32(dwcmshc.PresentState)&dwcmshc.PSCmdInhibit != 0 {
		t.Errorf("inhibit survived CMD line reset")
	}
	if st := command(c, 0, 0, dwcmshc.CmdRespNone); st != dwcmshc.IntCmdComplete {
		t.Errorf("hang is one shot, got %08x", st)
	}
}

func TestNoCardTimesOut(t *testing.T) {
	c := NewController(DefaultCaps)
	powerUp(c)
	st := command(c, 8, 0x1AA, dwcmshc.CmdResp48)
	if st&dwcmshc.IntCmdTimeout == 0 {
		t.Errorf("expected a timeout, got %08x", st)
	}
	if c.Read32(dwcmshc.PresentState)&dwcmshc.PSCardInserted != 0 {
		t.Errorf("card detect with empty slot")
	}
}

func TestLongResponseLayout(t *testing.T) {
	c := NewController(DefaultCaps)
	k := NewSDHC(1 << 20)
	c.Insert(k)
	powerUp(c)
	command(c, 0, 0, dwcmshc.CmdRespNone)
	command(c, 8, 0x1AA, dwcmshc.CmdResp48)
	for i := 0; i < 5; i++ {
		command(c, 55, 0, dwcmshc.CmdResp48)
		command(c, 41, ocrWindow|ocrCCS, dwcmshc.CmdResp48)
	}
	if k.state != stReady {
		t.Fatalf("card never became ready, state %d", k.state)
	}
	command(c, 2, 0, dwcmshc.CmdResp136)
	cid := k.cid()
	// the controller drops the CRC byte and shifts everything down by 8
	if got, want := c.Read32(dwcmshc.Response3), cid[0]>>8; got != want {
		t.Errorf("RESPONSE3 %08x want %08x", got, want)
	}
	if got, want := c.Read32(dwcmshc.Response0), cid[3]>>8|cid[2]<<24; got != want {
		t.Errorf("RESPONSE0 %08x want %08x", got, want)
	}
}

func TestCSDCapacityFields(t *testing.T) {
	k := NewSDHC(8192 * 1024)
	csd := k.csd()
	var got [4]uint32
	put128(&got, 48, 22, 8191)
	if csd[1]&got[1] != got[1] || csd[2]&got[2] != got[2] {
		t.Errorf("C_SIZE not where expected: %08x", csd)
	}
	if csd[0]>>30 != 1 {
		t.Errorf("CSD structure %d", csd[0]>>30)
	}
}

func TestSwitchFunctionStatus(t *testing.T) {
	k := NewSDHC(1 << 20)
	st := k.switchStatus(0x00FFFFF1)
	if st[13] != 0x03 || st[16] != 1 {
		t.Errorf("check of HS: support %02x%02x result %x", st[12], st[13], st[16])
	}
	// SDR104 is not offered before the card signals at 1.8V
	if st = k.switchStatus(0x80FFFFF3); st[16] != 0xF {
		t.Errorf("SDR104 accepted at 3.3V")
	}
	k.s18 = true
	if st = k.switchStatus(0x80FFFFF3); st[16] != 3 || k.function != 3 {
		t.Errorf("SDR104 refused at 1.8V: %x", st[16])
	}
}

func TestMemoryReserve(t *testing.T) {
	m := NewMemory(DefaultMemoryBase, 4096)
	a, buf := m.Reserve(10, 4)
	b, _ := m.Reserve(16, 8)
	if a != DefaultMemoryBase || len(buf) != 10 {
		t.Errorf("first reservation %#x len %d", a, len(buf))
	}
	if b%8 != 0 || b < a+10 {
		t.Errorf("second reservation %#x not aligned or overlapping", b)
	}
	if _, buf := m.Reserve(8192, 4); buf != nil {
		t.Errorf("oversized reservation succeeded")
	}
	m.Release(a)
	m.Release(b)
	if m.Live() != 0 {
		t.Errorf("live %d", m.Live())
	}
	if again, _ := m.Reserve(4, 4); again != a {
		t.Errorf("allocator did not start over: %#x", again)
	}
	m.FailReserve = true
	if _, buf := m.Reserve(4, 4); buf != nil {
		t.Errorf("FailReserve ignored")
	}
}

func TestHexImage(t *testing.T) {
	k := NewSDHC(1 << 20)
	for i := 0; i < 512; i++ {
		k.sector(3, true)[i] = byte(i)
	}
	var buf bytes.Buffer
	if err := k.SaveHex(&buf, 3, 1); err != nil {
		t.Fatal(err)
	}
	other := NewSDHC(1 << 20)
	if err := other.LoadHex(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(other.Sector(3), k.Sector(3)) {
		t.Errorf("sector changed through hex")
	}
	small := NewSDHC(1)
	err := small.LoadHex(strings.NewReader(":0400100001020304E2\n:020000040001F9\n:0400100001020304E2\n:00000001FF\n"))
	if err == nil {
		t.Errorf("expected a write past the end of the card to fail")
	}
}
