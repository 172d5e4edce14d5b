package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	cleanscope "github.com/laurigates/CleanScope"
	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/capture"
	"github.com/laurigates/CleanScope/pkg/formats"
	"github.com/laurigates/CleanScope/pkg/validate"
)

func main() {
	path := flag.String("path", "/dev/bus/usb/001/004", "path to the usb device")
	endpoint := flag.Int("endpoint", 0x81, "isochronous IN endpoint address")
	iface := flag.Int("interface", 1, "streaming interface number")
	alt := flag.Int("alt", 1, "alternate setting with the negotiated bandwidth")
	width := flag.Int("width", 640, "negotiated frame width")
	height := flag.Int("height", 480, "negotiated frame height")
	formatName := flag.String("format", "", "stream format (mjpeg, yuy2; empty = detect)")
	maxPacket := flag.Int("maxpacket", 3072, "endpoint max packet size")
	duration := flag.Duration("duration", 0, "stop after this long (0 = run until interrupted)")
	output := flag.String("output", ".", "directory to write the capture into")
	legacy := flag.Bool("legacy", false, "write the timestamped capture_<ts>.bin format")
	vendor := flag.Uint("vendor", 0, "device vendor id for the metadata")
	product := flag.Uint("product", 0, "device product id for the metadata")
	description := flag.String("description", "", "capture description for the metadata")
	flag.Parse()

	format, err := assemble.ParseFormat(*formatName)
	if err != nil {
		log.Fatalf("Bad -format: %v", err)
	}

	log.Printf("Opening USB device at %s", *path)
	handle, err := cleanscope.OpenDeviceNode(*path)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer handle.Close()

	if err := cleanscope.PrepareStreamingInterface(handle, uint8(*iface), uint8(*alt)); err != nil {
		log.Fatalf("Failed to prepare interface %d alt %d: %v", *iface, *alt, err)
	}

	meta := capture.Metadata{
		VendorID:      uint16(*vendor),
		ProductID:     uint16(*product),
		FormatType:    format.String(),
		Width:         *width,
		Height:        *height,
		Endpoint:      uint8(*endpoint),
		MaxPacketSize: *maxPacket,
		Description:   *description,
	}
	if format == assemble.FormatYUY2 {
		if f, ok := formats.ByFourCC("YUY2"); ok {
			meta.FormatGUID = f.GUID()
		}
	}

	rec := capture.NewRecorder()
	if err := rec.Start(meta); err != nil {
		log.Fatalf("Failed to start recorder: %v", err)
	}

	engine, err := cleanscope.Start(handle, cleanscope.Config{
		Endpoint:      uint8(*endpoint),
		Width:         *width,
		Height:        *height,
		Format:        format,
		MaxPacketSize: *maxPacket,
		Validation:    validate.LevelFromEnv(),
		Recorder:      rec,
	})
	if err != nil {
		log.Fatalf("Failed to start stream: %v", err)
	}

	var frameCount atomic.Uint64
	go func() {
		for range engine.Frames() {
			rec.RecordFrame()
			frameCount.Add(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Printf("Capturing from endpoint 0x%02x (ctrl-c to stop)", *endpoint)
loop:
	for {
		select {
		case <-sig:
			log.Printf("Interrupted")
			break loop
		case <-deadline:
			log.Printf("Duration elapsed")
			break loop
		case <-engine.Done():
			break loop
		case <-ticker.C:
			st := rec.Status()
			es := engine.Stats()
			log.Printf("packets=%d bytes=%d frames=%d invalid=%d dropped=%d",
				st.Packets, st.Bytes, es.Assembler.Frames, es.InvalidFrames, es.FramesDropped)
			if err := engine.CheckStall(); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}

	if err := engine.Stop(); err != nil {
		log.Printf("Stream ended with error: %v", err)
	}

	if *legacy {
		meta.DurationMS = uint64(rec.Status().Duration.Milliseconds())
		meta.TotalFrames = frameCount.Load()
		packets := rec.StopBuffered()
		for i := range packets {
			packets[i].Endpoint = uint8(*endpoint)
		}
		res, err := capture.WriteLegacy(*output, packets, meta)
		if err != nil {
			log.Fatalf("Failed to write capture: %v", err)
		}
		log.Printf("Saved %d packets to %s", res.Metadata.TotalPackets, res.PacketsPath)
		return
	}

	res, err := rec.Stop(*output)
	if err != nil {
		log.Fatalf("Failed to write capture: %v", err)
	}
	log.Printf("Saved %d packets (%d frames) to %s", res.Metadata.TotalPackets,
		res.Metadata.TotalFrames, res.PacketsPath)
}
