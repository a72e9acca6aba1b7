package emmc

import (
	"encoding/binary"

	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// dataRequest is everything the engine needs for one data phase.
type dataRequest struct {
	dir       Direction
	blockSize int
	blocks    int
	buf       []byte
	dma       bool
	autoCmd12 bool
	issued    bool

	bufAddr   uint
	bounce    []byte
	descAddr  uint
	descTable bool
}

func (r *dataRequest) transferMode() uint16 {
	m := uint16(dwcmshc.TMBlockCountEnable)
	if r.blocks > 1 {
		m |= dwcmshc.TMMultiBlock
		if r.autoCmd12 {
			m |= dwcmshc.TMAutoCmd12
		}
	}
	if r.dir == DirRead {
		m |= dwcmshc.TMDataRead
	}
	if r.dma {
		m |= dwcmshc.TMDMAEnable
	}
	return m
}

// ReadBlocks reads len(buf)/512 blocks starting at lba from the attached
// card.  No session state is checked.
func (h *Host) ReadBlocks(lba uint32, buf []byte) error {
	return h.blockIO(DirRead, lba, buf)
}

// WriteBlocks writes len(buf)/512 blocks starting at lba and waits for the
// card to finish programming them.
func (h *Host) WriteBlocks(lba uint32, buf []byte) error {
	return h.blockIO(DirWrite, lba, buf)
}

// checkRequest validates a block request without touching the controller.
func (h *Host) checkRequest(lba uint32, buf []byte) (int, error) {
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		return 0, EmmcInvalidArgument
	}
	if h.card == nil {
		return 0, EmmcNoCard
	}
	blocks := len(buf) / BlockSize
	if uint64(lba)+uint64(blocks) > h.card.CapacityBlocks {
		return 0, EmmcInvalidArgument
	}
	return blocks, nil
}

func (h *Host) blockIO(dir Direction, lba uint32, buf []byte) error {
	blocks, err := h.checkRequest(lba, buf)
	if err != nil {
		return err
	}
	for done := 0; done < blocks; {
		n := blocks - done
		if n > maxBlocksPerTransfer {
			n = maxBlocksPerTransfer
		}
		chunk := buf[done*BlockSize : (done+n)*BlockSize]
		if err := h.transfer(dir, lba+uint32(done), n, chunk); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// transfer moves blocks 512 byte blocks between buf and the card.
func (h *Host) transfer(dir Direction, lba uint32, blocks int, buf []byte) error {
	if blocks <= 0 || blocks > 0xFFFF || len(buf) != blocks*BlockSize {
		return EmmcInvalidArgument
	}
	arg := lba
	if !h.card.HighCapacity {
		arg = lba * BlockSize
	}
	var index uint8
	switch {
	case dir == DirRead && blocks == 1:
		index = CmdReadSingle
	case dir == DirRead:
		index = CmdReadMulti
	case blocks == 1:
		index = CmdWriteSingle
	default:
		index = CmdWriteMulti
	}
	req := &dataRequest{
		dir:       dir,
		blockSize: BlockSize,
		blocks:    blocks,
		buf:       buf,
		dma:       h.cfg.UseDMA,
		autoCmd12: h.cfg.AutoCmd12 && blocks > 1,
	}
	if err := h.runData(Command{Index: index, Arg: arg, Resp: RespR1, Data: true}, req); err != nil {
		trust.Errorf("emmc: %s of %d blocks at %d failed: %v", dir, blocks, lba, err)
		return err
	}
	if dir == DirWrite {
		return h.waitWriteDone()
	}
	return nil
}

// readData runs a single block data command that reads a card register
// such as EXT_CSD or SCR into buf.
func (h *Host) readData(cmd Command, buf []byte) error {
	cmd.Data = true
	req := &dataRequest{
		dir:       DirRead,
		blockSize: len(buf),
		blocks:    1,
		buf:       buf,
		dma:       h.cfg.UseDMA,
	}
	return h.runData(cmd, req)
}

// runData owns the lifetime of a data command: DMA buffers, the command,
// the copy out of the bounce buffer and the stop command when the
// controller did not send one.
func (h *Host) runData(cmd Command, req *dataRequest) error {
	if req.dma {
		if err := h.setupDMA(req); err != nil {
			return err
		}
		defer h.releaseDMA(req)
	}
	_, err := h.execute(cmd, req)
	if err == nil && req.dma && req.dir == DirRead {
		copy(req.buf, req.bounce)
	}
	if req.issued && req.blocks > 1 && (err != nil || !req.autoCmd12) && !isPowerClass(err) {
		stop := Command{Index: CmdStopTransmission, Resp: RespR1b, abort: true}
		if _, serr := h.execute(stop, nil); serr != nil {
			trust.Warnf("emmc: stop after %v failed: %v", cmd, serr)
			if err == nil {
				err = serr
			}
		}
	}
	return err
}

// prepareData programs the block geometry and, for DMA, the descriptor
// table.  It runs after the inhibit check, before ARGUMENT.
func (h *Host) prepareData(req *dataRequest) {
	h.regs.BlockSize.Set(uint16(req.blockSize & 0xFFF))
	h.regs.BlockCount.Set(uint16(req.blocks))
	if req.dma {
		h.regs.ADMAAddressLo.Set(uint32(req.descAddr))
		h.regs.ADMAAddressHi.Set(0)
		h.regs.HostControl1.Update(dwcmshc.HC1DMASelectMask, dwcmshc.HC1DMASelectADMA2)
	}
}

// dataPhase runs after the command has completed.
func (h *Host) dataPhase(req *dataRequest) error {
	if !req.dma {
		if err := h.pio(req); err != nil {
			return err
		}
	}
	return h.waitTransferComplete(req)
}

// pio moves every block through the BUFFER_DATA port a word at a time.
func (h *Host) pio(req *dataRequest) error {
	ready := uint32(dwcmshc.IntBufferReadReady)
	if req.dir == DirWrite {
		ready = dwcmshc.IntBufferWriteReady
	}
	words := req.blockSize / 4
	for b := 0; b < req.blocks; b++ {
		var status uint32
		if !poll(h.delay, h.cfg.DataTimeoutUs, h.cfg.PollIntervalUs, func() bool {
			status = h.regs.IntStatus.Get()
			return status&(ready|dwcmshc.IntTransferComplete|dwcmshc.IntErrorMask) != 0
		}) {
			trust.Errorf("emmc: block %d of %d never became ready", b, req.blocks)
			h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
			return EmmcDataTimeout
		}
		if err := classifyData(status); err != nil {
			h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
			return err
		}
		if status&ready == 0 {
			trust.Errorf("emmc: transfer complete with %d of %d blocks left", req.blocks-b, req.blocks)
			h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
			return EmmcTransferError
		}
		h.regs.IntStatus.Set(ready)
		block := req.buf[b*req.blockSize : (b+1)*req.blockSize]
		if req.dir == DirRead {
			for i := 0; i < words; i++ {
				binary.LittleEndian.PutUint32(block[i*4:], h.regs.BufferData.Get())
			}
		} else {
			for i := 0; i < words; i++ {
				h.regs.BufferData.Set(binary.LittleEndian.Uint32(block[i*4:]))
			}
		}
	}
	return nil
}

// waitTransferComplete waits for the end of the data phase, including the
// auto CMD12 if one was requested.
func (h *Host) waitTransferComplete(req *dataRequest) error {
	var status uint32
	timeout := h.cfg.DataTimeoutUs * uint64(req.blocks)
	if !poll(h.delay, timeout, h.cfg.PollIntervalUs, func() bool {
		status = h.regs.IntStatus.Get()
		return status&(dwcmshc.IntTransferComplete|dwcmshc.IntErrorMask) != 0
	}) {
		trust.Errorf("emmc: %s of %d blocks never completed", req.dir, req.blocks)
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return EmmcDataTimeout
	}
	if err := classifyData(status); err != nil {
		switch err {
		case EmmcAdmaError:
			trust.Errorf("emmc: ADMA error, state %x at %08x", h.regs.ADMAErrorStatus.Get(),
				h.regs.SDMAAddress.Get())
		case EmmcAcmd12Error:
			trust.Errorf("emmc: auto CMD12 error status %04x", h.regs.AutoCmdStatus.Get())
		}
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return err
	}
	h.regs.IntStatus.Set(dwcmshc.IntTransferComplete | dwcmshc.IntDMA)
	if req.autoCmd12 && req.blocks > 1 {
		if h.regs.AutoCmdStatus.Get() != 0 {
			trust.Errorf("emmc: auto CMD12 error status %04x", h.regs.AutoCmdStatus.Get())
			return EmmcAcmd12Error
		}
		// the auto command's R1b lands in RESPONSE[3]
		status := h.regs.Response[3].Get() &^ StatusAddressOutOfRange
		if err := ClassifyCardStatus(status); err != nil {
			return err
		}
	}
	return nil
}

// waitWriteDone polls CMD13 until the card is back to accepting data.
func (h *Host) waitWriteDone() error {
	cmd := Command{Index: CmdSendStatus, Arg: uint32(h.card.RCA) << 16, Resp: RespR1}
	for i := 0; i < h.cfg.WriteReadyRetries; i++ {
		resp, err := h.Execute(cmd)
		if err != nil {
			return err
		}
		status := resp.CardStatus()
		if status&StatusReadyForData != 0 && CardState(status) != CardStatePrg {
			return nil
		}
		h.delay.Sleep(h.cfg.PollIntervalUs)
	}
	trust.Errorf("emmc: card stayed busy programming")
	return EmmcDataTimeout
}

// SendStatus reads the card status with CMD13.
func (h *Host) SendStatus() (uint32, error) {
	if h.card == nil {
		return 0, EmmcNoCard
	}
	resp, err := h.Execute(Command{Index: CmdSendStatus, Arg: uint32(h.card.RCA) << 16, Resp: RespR1})
	return resp.CardStatus(), err
}
