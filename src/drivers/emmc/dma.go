package emmc

import (
	"github.com/usbarmory/tamago/dma"

	"sdmmc/src/lib/trust"
)

// DMAMemory hands out buffers the controller can reach.  addr is the bus
// address of buf[0].  A failed reservation returns a nil buf.
type DMAMemory interface {
	Reserve(size int, align int) (addr uint, buf []byte)
	Release(addr uint)
}

var _ DMAMemory = (*dma.Region)(nil)

// regionMemory turns the out of memory panic of a dma.Region into a failed
// reservation.
type regionMemory struct {
	r *dma.Region
}

// NewDMARegion carves a DMA region out of physical memory at start.  The
// memory must be uncached or the caller must handle coherency.
func NewDMARegion(start uint, size int) (DMAMemory, error) {
	r, err := dma.NewRegion(start, size, false)
	if err != nil {
		return nil, err
	}
	return &regionMemory{r: r}, nil
}

func (m *regionMemory) Reserve(size int, align int) (addr uint, buf []byte) {
	defer func() {
		if r := recover(); r != nil {
			trust.Errorf("emmc: dma reserve of %d bytes failed: %v", size, r)
			addr, buf = 0, nil
		}
	}()
	return m.r.Reserve(size, align)
}

func (m *regionMemory) Release(addr uint) {
	m.r.Release(addr)
}

// setupDMA reserves the bounce buffer and descriptor table for req and
// builds the chain.  Nothing is written to the controller.
func (h *Host) setupDMA(req *dataRequest) error {
	size := req.blocks * req.blockSize
	addr, buf := h.mem.Reserve(size, 4)
	if buf == nil || len(buf) < size {
		return EmmcMemoryError
	}
	req.bufAddr = addr
	req.bounce = buf[:size]
	if err := h.chain.Build(uint64(addr), size); err != nil {
		h.mem.Release(addr)
		req.bounce = nil
		return err
	}
	daddr, dbuf := h.mem.Reserve(h.chain.Len()*descriptorSize, 8)
	if dbuf == nil {
		h.mem.Release(addr)
		req.bounce = nil
		return EmmcMemoryError
	}
	req.descAddr = daddr
	req.descTable = true
	if daddr&3 != 0 || uint64(daddr)+uint64(len(dbuf)) > 1<<32 {
		h.releaseDMA(req)
		return EmmcAdmaError
	}
	if err := h.chain.Encode(dbuf); err != nil {
		h.releaseDMA(req)
		return err
	}
	if req.dir == DirWrite {
		copy(req.bounce, req.buf)
	}
	return nil
}

func (h *Host) releaseDMA(req *dataRequest) {
	if req.descTable {
		h.mem.Release(req.descAddr)
		req.descTable = false
	}
	if req.bounce != nil {
		h.mem.Release(req.bufAddr)
		req.bounce = nil
	}
}
