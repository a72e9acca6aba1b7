package emmc

import (
	"bytes"
	"testing"

	"sdmmc/src/drivers/emmc/emmctest"
	"sdmmc/src/lib/trust"
)

// rig is a host and session wired to a simulated controller.
type rig struct {
	ctl   *emmctest.Controller
	clock *emmctest.Clock
	mem   *emmctest.Memory
	host  *Host
	sess  *Session
	log   *trust.Recorder
}

type rigOptions struct {
	dma   bool
	tweak func(*Config)
}

func newRig(t *testing.T, card *emmctest.Card, o rigOptions) *rig {
	t.Helper()
	r := &rig{
		ctl:   emmctest.NewController(emmctest.DefaultCaps),
		clock: &emmctest.Clock{},
		mem:   emmctest.NewMemory(emmctest.DefaultMemoryBase, 4<<20),
		log:   &trust.Recorder{},
	}
	r.ctl.Mem = r.mem
	if card != nil {
		r.ctl.Insert(card)
	}
	cfg := DefaultConfig()
	if o.tweak != nil {
		o.tweak(&cfg)
	}
	var opts []Option
	if o.dma {
		opts = append(opts, WithDMA(r.mem))
	}
	r.host = New(r.ctl, r.clock, cfg, opts...)
	r.sess = NewSession(r.host)

	prevSink := trust.SetSink(r.log)
	prevLevel := trust.SetLevel(trust.WarnMask)
	t.Cleanup(func() {
		trust.SetSink(prevSink)
		trust.SetLevel(prevLevel)
	})
	return r
}

// up is newRig plus a successful Init.
func up(t *testing.T, card *emmctest.Card, o rigOptions) *rig {
	t.Helper()
	r := newRig(t, card, o)
	if err := r.sess.Init(); err != nil {
		t.Fatalf("init failed: %v (log %+v)", err, r.log.Lines)
	}
	return r
}

func (r *rig) status() Command {
	return Command{Index: CmdSendStatus, Arg: uint32(r.host.Card().RCA) << 16, Resp: RespR1}
}

func pattern(blocks int, seed byte) []byte {
	b := make([]byte, blocks*BlockSize)
	for i := range b {
		b[i] = byte(i/BlockSize) ^ byte(i*7) ^ seed
	}
	return b
}

func checkSectors(t *testing.T, card *emmctest.Card, lba uint64, want []byte) {
	t.Helper()
	for i := 0; i*BlockSize < len(want); i++ {
		if got := card.Sector(lba + uint64(i)); !bytes.Equal(got, want[i*BlockSize:(i+1)*BlockSize]) {
			t.Fatalf("sector %d differs on the card", lba+uint64(i))
		}
	}
}
