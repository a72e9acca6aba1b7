package emmc

import (
	"bytes"
	"testing"

	"sdmmc/src/drivers/emmc/emmctest"
)

func TestRoundTripSizes(t *testing.T) {
	for _, dma := range []bool{false, true} {
		name := "pio"
		if dma {
			name = "dma"
		}
		t.Run(name, func(t *testing.T) {
			card := emmctest.NewSDHC(1 << 20)
			r := up(t, card, rigOptions{dma: dma})
			lba := uint32(0)
			for i, blocks := range []int{1, 2, 7, 128, 4096, 4097} {
				data := pattern(blocks, byte(i))
				if err := r.sess.WriteBlocks(lba, data); err != nil {
					t.Fatalf("write %d blocks: %v", blocks, err)
				}
				got := make([]byte, len(data))
				if err := r.sess.ReadBlocks(lba, got); err != nil {
					t.Fatalf("read %d blocks: %v", blocks, err)
				}
				if !bytes.Equal(got, data) {
					t.Fatalf("%d blocks came back different", blocks)
				}
				checkSectors(t, card, uint64(lba), data)
				lba += uint32(blocks)
			}
			if r.mem.Live() != 0 {
				t.Errorf("%d DMA reservations leaked", r.mem.Live())
			}
		})
	}
}

func TestPIOAndDMAAgree(t *testing.T) {
	card := emmctest.NewEMMC(1 << 24)
	data := pattern(33, 0xC3)
	for i := 0; i < 33; i++ {
		card.SetSector(uint64(500+i), data[i*BlockSize:])
	}
	pio := up(t, card, rigOptions{})
	viaPIO := make([]byte, len(data))
	if err := pio.sess.ReadBlocks(500, viaPIO); err != nil {
		t.Fatal(err)
	}
	dma := up(t, card, rigOptions{dma: true})
	viaDMA := make([]byte, len(data))
	if err := dma.sess.ReadBlocks(500, viaDMA); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(viaPIO, data) || !bytes.Equal(viaDMA, data) {
		t.Errorf("PIO and DMA reads differ from the card")
	}
}

func TestMultiBlockUsesAutoStop(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{})
	r.ctl.Log = nil
	if err := r.sess.ReadBlocks(8, make([]byte, 4*BlockSize)); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range r.ctl.Log {
		if cmd.Index == CmdStopTransmission {
			t.Errorf("manual CMD12 with auto CMD12 enabled")
		}
	}
	if r.ctl.Log[0].Index != CmdReadMulti || r.ctl.Log[0].Arg != 8 {
		t.Errorf("first command %+v", r.ctl.Log[0])
	}
}

func TestManualStopWithoutAutoCmd12(t *testing.T) {
	card := emmctest.NewSDHC(1 << 20)
	r := up(t, card, rigOptions{tweak: func(c *Config) { c.AutoCmd12 = false }})
	r.ctl.Log = nil
	data := pattern(5, 0x21)
	if err := r.sess.WriteBlocks(40, data); err != nil {
		t.Fatal(err)
	}
	if len(r.ctl.Log) < 2 || r.ctl.Log[1].Index != CmdStopTransmission {
		t.Errorf("no CMD12 after the write: %+v", r.ctl.Log)
	}
	checkSectors(t, card, 40, data)
}

func TestReadCRCErrorStopsTransfer(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{})
	r.ctl.Faults.ReadDataCRC = true
	r.ctl.Log = nil
	if err := r.sess.ReadBlocks(0, make([]byte, 2*BlockSize)); err != EmmcDataCrc {
		t.Fatalf("got %v", err)
	}
	if len(r.ctl.Log) != 2 || r.ctl.Log[1].Index != CmdStopTransmission {
		t.Errorf("expected a stop after the failed read: %+v", r.ctl.Log)
	}
	if r.sess.State() != StateTransfer {
		t.Errorf("data CRC faulted the session")
	}
	r.ctl.Faults.ReadDataCRC = false
	if err := r.sess.ReadBlocks(0, make([]byte, 2*BlockSize)); err != nil {
		t.Errorf("read after recovery: %v", err)
	}
}

func TestWriteWaitsForProgramming(t *testing.T) {
	card := emmctest.NewSDHC(1 << 20)
	r := up(t, card, rigOptions{})
	card.ProgramPolls = 3
	r.ctl.Log = nil
	if err := r.sess.WriteBlocks(1, pattern(1, 0)); err != nil {
		t.Fatal(err)
	}
	polls := 0
	for _, cmd := range r.ctl.Log {
		if cmd.Index == CmdSendStatus {
			polls++
		}
	}
	if polls != 4 {
		t.Errorf("%d status polls, want 4", polls)
	}
}

func TestWriteProgrammingNeverEnds(t *testing.T) {
	card := emmctest.NewSDHC(1 << 20)
	r := up(t, card, rigOptions{tweak: func(c *Config) { c.WriteReadyRetries = 5 }})
	card.ProgramPolls = 100
	if err := r.sess.WriteBlocks(1, pattern(1, 0)); err != EmmcDataTimeout {
		t.Errorf("got %v", err)
	}
}

func TestBlockRequestChecks(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{dma: true})
	writes := r.ctl.Writes
	if err := r.sess.ReadBlocks(0, make([]byte, 100)); err != EmmcInvalidArgument {
		t.Errorf("short buffer: %v", err)
	}
	if err := r.sess.WriteBlocks(0, nil); err != EmmcInvalidArgument {
		t.Errorf("empty buffer: %v", err)
	}
	if err := r.sess.ReadBlocks(1<<20-1, make([]byte, 2*BlockSize)); err != EmmcInvalidArgument {
		t.Errorf("past the end: %v", err)
	}
	if r.ctl.Writes != writes {
		t.Errorf("bad requests reached the controller")
	}
}

func TestDMAReservationFailure(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{dma: true})
	r.mem.FailReserve = true
	writes := r.ctl.CommandWrites
	if err := r.sess.ReadBlocks(0, make([]byte, BlockSize)); err != EmmcMemoryError {
		t.Errorf("got %v", err)
	}
	if r.mem.Live() != 0 || r.ctl.CommandWrites != writes {
		t.Errorf("live %d, %d commands", r.mem.Live(), r.ctl.CommandWrites-writes)
	}
}

func TestADMAErrorReleasesBuffers(t *testing.T) {
	r := up(t, emmctest.NewSDHC(1<<20), rigOptions{dma: true})
	// the controller now sees memory where none of our tables are
	r.ctl.Mem = emmctest.NewMemory(0x20000000, 4096)
	r.ctl.Log = nil
	if err := r.sess.ReadBlocks(0, make([]byte, 3*BlockSize)); err != EmmcAdmaError {
		t.Fatalf("got %v", err)
	}
	if r.mem.Live() != 0 {
		t.Errorf("%d reservations leaked", r.mem.Live())
	}
	if n := len(r.ctl.Log); n < 2 || r.ctl.Log[n-1].Index != CmdStopTransmission {
		t.Errorf("no stop after the ADMA error: %+v", r.ctl.Log)
	}
	r.ctl.Mem = r.mem
	if err := r.sess.ReadBlocks(0, make([]byte, 3*BlockSize)); err != nil {
		t.Errorf("after recovery: %v", err)
	}
}

func TestByteAddressedCard(t *testing.T) {
	card := emmctest.NewSDSC(1 << 16)
	r := up(t, card, rigOptions{dma: true})
	r.ctl.Log = nil
	data := pattern(2, 0x99)
	if err := r.sess.WriteBlocks(3, data); err != nil {
		t.Fatal(err)
	}
	if r.ctl.Log[0].Arg != 3*BlockSize {
		t.Errorf("argument %d for lba 3", r.ctl.Log[0].Arg)
	}
	checkSectors(t, card, 3, data)
}
