package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/replay"
	"github.com/laurigates/CleanScope/pkg/validate"
)

func main() {
	path := flag.String("path", "", "capture file to replay (packets_*.bin or capture_*.bin)")
	speed := flag.Float64("speed", 1.0, "playback speed multiplier (0 = as fast as possible)")
	loop := flag.Bool("loop", false, "restart from the beginning at end of capture")
	formatName := flag.String("format", "", "force stream format (mjpeg, yuy2; empty = auto)")
	size := flag.Int("size", 0, "force raw frame size in bytes (0 = auto)")
	dump := flag.String("dump", "", "directory to dump frames into (empty = no dump)")
	flag.Parse()

	if *path == "" {
		log.Fatal("Usage: replay -path <capture file>")
	}

	format, err := assemble.ParseFormat(*formatName)
	if err != nil {
		log.Fatalf("Bad -format: %v", err)
	}

	player, err := replay.Load(*path, replay.Options{
		Speed:             *speed,
		Loop:              *loop,
		ExpectedFrameSize: *size,
		Format:            format,
	})
	if err != nil {
		log.Fatalf("Failed to load capture: %v", err)
	}

	if meta := player.Metadata(); meta != nil {
		log.Printf("Capture: %s %dx%d, %d packets, %d bytes",
			meta.FormatType, meta.Width, meta.Height, meta.TotalPackets, meta.TotalBytes)
	}

	frames, err := player.Start()
	if err != nil {
		log.Fatalf("Failed to start playback: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("Interrupted")
		player.Stop()
	}()

	level := validate.LevelFromEnv()
	start := time.Now()
	var count, invalid uint64
	for f := range frames {
		count++
		if f.Format == assemble.FormatYUY2 && f.Width > 0 && f.Height > 0 {
			r := validate.YUY2(f.Data, f.Width, f.Height, f.Width*f.Height*2, level)
			if !r.Valid {
				invalid++
				log.Printf("Frame %d invalid: %s", f.Number, r.FailureReason)
			}
		}
		if *dump != "" {
			if err := dumpFrame(*dump, f); err != nil {
				log.Printf("Failed to dump frame %d: %v", f.Number, err)
			}
		}
	}

	log.Printf("Replayed %d frames (%d invalid) in %s", count, invalid,
		time.Since(start).Round(time.Millisecond))
}

func dumpFrame(dir string, f *assemble.Frame) error {
	ext := "raw"
	if f.Format == assemble.FormatMJPEG {
		ext = "jpg"
	} else if f.Format == assemble.FormatYUY2 {
		ext = "yuy2"
	}
	name := filepath.Join(dir, fmt.Sprintf("frame_%06d.%s", f.Number, ext))
	return os.WriteFile(name, f.Data, 0o644)
}
