// Command dualpi2shape runs a coupled PI² queue discipline inside a
// small synthetic link shaper, demonstrating the AQM core doing its
// job the way spec.md §1 describes it: sitting inside a link emulator,
// classifying and marking/dropping Classic and L4S traffic under a
// shared byte budget and rate limit.
//
// Flag layout is adapted from the teacher pack's yuyyi51-YCP
// ycp-cli/cmd.go: one cli.Flag per tunable, bound to fields on
// dualpi2.Config in the action function.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/MarcoPolo/dualpi2"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "dualpi2shape",
		Usage: "demonstrate the DualPI2 coupled AQM inside a rate-limited link shaper",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "bandwidth", Aliases: []string{"b"}, Value: 20_000_000, Usage: "link bandwidth in `BITSPERSEC`"},
			&cli.IntFlag{Name: "latency", Aliases: []string{"l"}, Value: 20, Usage: "simulated one-way latency in `MS`"},
			&cli.IntFlag{Name: "packets", Value: 10000, Usage: "shared packet budget across both sub-queues"},
			&cli.IntFlag{Name: "sched", Value: 0, Usage: "0=strict priority, 1=WRR"},
			&cli.IntFlag{Name: "target", Value: 15, Usage: "PI setpoint in `MS`"},
			&cli.IntFlag{Name: "max_rtt", Value: 100, Usage: "worst-case RTT in `MS` used for gain calculation"},
			&cli.Float64Flag{Name: "l4s_fraction", Value: 0.5, Usage: "fraction of synthetic traffic classified ECT(1)"},
			&cli.IntFlag{Name: "duration", Value: 5, Usage: "how long to run the demo, in `SECONDS`"},
			&cli.IntFlag{Name: "rate", Value: 2000, Usage: "synthetic packets generated per second"},
			&cli.IntFlag{Name: "size", Value: 1200, Usage: "synthetic packet size in `BYTES`"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Going through ParseConfig re-derives alpha/beta from max_rtt and
	// the L4S ramp range from target.
	cfg, err := dualpi2.ParseConfig(fmt.Sprintf("packets=%d sched=%d target=%d max_rtt=%d",
		c.Int("packets"), c.Int("sched"), c.Int("target"), c.Int("max_rtt")))
	if err != nil {
		return err
	}

	aqm := dualpi2.New(cfg)
	aqm.Logger = slog.Default()
	aqm.OnDrop = dualpi2.LogOnDrop(slog.Default())
	aqm.OnMark = dualpi2.LogOnMark(slog.Default())

	shaper := NewShaper(aqm, c.Int("bandwidth"), 32*1500, time.Duration(c.Int("latency"))*time.Millisecond)

	var delivered, ceMarked int
	shaper.Delivered = func(p dualpi2.Packet) {
		delivered++
		if p.ECN() == dualpi2.ECNCE {
			ceMarked++
		}
	}
	shaper.Start()
	defer shaper.Stop()

	stop := time.After(time.Duration(c.Int("duration")) * time.Second)
	ticker := time.NewTicker(time.Second / time.Duration(max(c.Int("rate"), 1)))
	defer ticker.Stop()

	l4sFraction := c.Float64("l4s_fraction")
	size := c.Int("size")
	var seq uint32

	generating := true
	for generating {
		select {
		case <-stop:
			generating = false
		case <-ticker.C:
			shaper.Send(syntheticPacket(seq, size, rand.Float64() < l4sFraction))
			seq++
		}
	}

	fmt.Printf("sent=%d delivered=%d ce_marked=%d saturation_drops=%d final_size_bytes=%d\n",
		seq, delivered, ceMarked, aqm.SaturationDrops(), aqm.SizeBytes())
	return nil
}

// syntheticPacket builds a minimal 20-byte IPv4 header (behind the
// 4-byte link-layer preamble the AQM expects) carrying a sequence
// number in the payload, tagged ECT(1) or Not-ECT per l4s.
const ipv4HeaderLen = 20

func syntheticPacket(seq uint32, size int, l4s bool) dualpi2.Packet {
	if size < 4+ipv4HeaderLen+4 {
		size = 4 + ipv4HeaderLen + 4
	}
	buf := make([]byte, size)

	buf[4] = 0x45 // version 4, IHL 5 (20 bytes)
	ecn := byte(dualpi2.ECNNotECT)
	if l4s {
		ecn = byte(dualpi2.ECNECT1)
	}
	buf[5] = ecn
	binary.BigEndian.PutUint16(buf[6:8], uint16(size-4))
	binary.BigEndian.PutUint32(buf[4+ipv4HeaderLen:4+ipv4HeaderLen+4], seq)

	return dualpi2.NewPacket(buf)
}
