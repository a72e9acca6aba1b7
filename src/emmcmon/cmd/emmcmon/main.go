package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"sdmmc/src/drivers/emmc"
	"sdmmc/src/drivers/emmc/emmctest"
	"sdmmc/src/lib/trust"
)

var helpFlag = flag.Bool("h", false, "get usage info")
var ttyFlag = flag.String("p", "", "tty device to run the console on (default: the controlling terminal)")
var cardFlag = flag.String("card", "sdhc", "simulated card: sdsc, sdhc, sdxc, mmc, emmc or sdio")
var blocksFlag = flag.Uint64("blocks", 1<<20, "size of the simulated card in 512 byte blocks")
var imageFlag = flag.String("image", "", "Intel hex image to load onto the card before init")
var dmaFlag = flag.Bool("dma", true, "move data with ADMA2 instead of PIO")
var uhsFlag = flag.Bool("uhs", true, "try 1.8V signaling on SD cards")
var autoStopFlag = flag.Bool("autocmd12", true, "let the controller send CMD12 after multi block transfers")
var widthFlag = flag.Int("width", 8, "widest data bus to use: 1, 4 or 8")
var modesFlag = flag.String("modes", "", "timings the host may use, comma separated (default: all)")
var cacheFlag = flag.Uint("cache", 64, "sector cache size in pages, a multiple of 64")
var levelFlag = flag.String("log", "error,warn,info", "log levels: error, warn, info, debug, stats")
var memFlag = flag.Int("dmamem", 8<<20, "bytes of simulated DMA memory")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: emmcmon [flags]\n")
	fmt.Fprintf(os.Stderr, "runs the eMMC/SD driver against a simulated DWCMSHC controller.\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()
	if *helpFlag {
		usage()
	}
	level, err := trust.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		usage()
	}
	trust.SetLevel(level)

	cfg, err := configFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		usage()
	}
	card, err := newCard(*cardFlag, *blocksFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		usage()
	}
	if *imageFlag != "" {
		fp, err := os.Open(*imageFlag)
		if err != nil {
			trust.Fatalf(1, "unable to open %s: %v", *imageFlag, err)
		}
		err = card.LoadHex(fp)
		fp.Close()
		if err != nil {
			trust.Fatalf(1, "unable to load %s: %v", *imageFlag, err)
		}
	}

	m := newMonitor(cfg, card, *memFlag, *dmaFlag)
	con, err := openConsole(*ttyFlag)
	if err != nil {
		trust.Fatalf(1, "unable to open console: %v", err)
	}
	defer con.Close()
	m.run(con)
}

// configFromFlags applies the command line to the driver defaults.
func configFromFlags() (emmc.Config, error) {
	cfg := emmc.DefaultConfig()
	cfg.EnableUHS = *uhsFlag
	cfg.AutoCmd12 = *autoStopFlag
	switch *widthFlag {
	case 1:
		cfg.MaxBusWidth = emmc.BusWidth1
	case 4:
		cfg.MaxBusWidth = emmc.BusWidth4
	case 8:
		cfg.MaxBusWidth = emmc.BusWidth8
	default:
		return cfg, fmt.Errorf("bad bus width %d", *widthFlag)
	}
	if *modesFlag != "" {
		mask := emmc.MaskOf(emmc.TimingLegacy)
		for _, name := range strings.Split(*modesFlag, ",") {
			t, err := emmc.ParseTiming(strings.TrimSpace(name))
			if err != nil {
				return cfg, err
			}
			mask |= emmc.MaskOf(t)
		}
		cfg.HostModes = mask
	}
	return cfg, nil
}

func newCard(kind string, blocks uint64) (*emmctest.Card, error) {
	switch strings.ToLower(kind) {
	case "sdsc":
		return emmctest.NewSDSC(blocks), nil
	case "sdhc":
		return emmctest.NewSDHC(blocks), nil
	case "sdxc":
		return emmctest.NewSDXC(blocks), nil
	case "mmc":
		return emmctest.NewMMC(blocks), nil
	case "emmc":
		return emmctest.NewEMMC(blocks), nil
	case "sdio":
		return emmctest.NewSDIO(), nil
	}
	return nil, fmt.Errorf("unknown card kind %q", kind)
}
