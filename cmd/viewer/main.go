package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"

	cleanscope "github.com/laurigates/CleanScope"
	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/decode"
	"github.com/laurigates/CleanScope/pkg/replay"
	"github.com/laurigates/CleanScope/pkg/testpattern"
	"github.com/laurigates/CleanScope/pkg/validate"
)

type sourceOptions struct {
	device      string
	captureFile string
	pattern     string

	endpoint  uint8
	iface     uint8
	alt       uint8
	width     int
	height    int
	format    assemble.Format
	maxPacket int

	speed float64
	loop  bool
	fps   int
}

func main() {
	runtime.LockOSThread() // SDL requires the main thread

	device := flag.String("device", "", "usbdevfs node to stream from")
	captureFile := flag.String("capture", "", "capture file to replay")
	pattern := flag.String("pattern", "", "test pattern to display (bars, gradient, vgradient, checkerboard, crosshatch, solid)")
	endpoint := flag.Int("endpoint", 0x81, "isochronous IN endpoint address")
	iface := flag.Int("interface", 1, "streaming interface number")
	alt := flag.Int("alt", 1, "alternate setting with the negotiated bandwidth")
	width := flag.Int("width", 640, "frame width")
	height := flag.Int("height", 480, "frame height")
	formatName := flag.String("format", "", "stream format (mjpeg, yuy2; empty = detect)")
	maxPacket := flag.Int("maxpacket", 3072, "endpoint max packet size")
	speed := flag.Float64("speed", 1.0, "replay speed multiplier (0 = as fast as possible)")
	loop := flag.Bool("loop", true, "loop replay at end of capture")
	fps := flag.Int("fps", 30, "test pattern frame rate")
	flag.Parse()

	format, err := assemble.ParseFormat(*formatName)
	if err != nil {
		log.Fatalf("Bad -format: %v", err)
	}

	frames, stop, err := openSource(sourceOptions{
		device:      *device,
		captureFile: *captureFile,
		pattern:     *pattern,
		endpoint:    uint8(*endpoint),
		iface:       uint8(*iface),
		alt:         uint8(*alt),
		width:       *width,
		height:      *height,
		format:      format,
		maxPacket:   *maxPacket,
		speed:       *speed,
		loop:        *loop,
		fps:         *fps,
	})
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer stop()

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		log.Fatalf("Failed to init SDL: %v", err)
	}
	defer sdl.Quit()

	window, err := sdl.CreateWindow("CleanScope",
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(*width), int32(*height), sdl.WINDOW_SHOWN)
	if err != nil {
		log.Fatalf("Failed to create window: %v", err)
	}
	defer window.Destroy()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	defer renderer.Destroy()

	d := &display{renderer: renderer, mjpeg: decode.NewMJPEGDecoder()}
	defer d.destroy()

	// Keep only the newest frame; display jitter beats display lag.
	var mu sync.Mutex
	var latest *assemble.Frame
	go func() {
		for f := range frames {
			mu.Lock()
			latest = f
			mu.Unlock()
		}
	}()

	var displayCount int
	lastFPS := time.Now()

	running := true
	for running {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch event.(type) {
			case *sdl.QuitEvent:
				running = false
			}
		}

		mu.Lock()
		f := latest
		latest = nil
		mu.Unlock()

		if f != nil && d.show(f) {
			displayCount++
		}

		renderer.Clear()
		if d.texture != nil {
			renderer.Copy(d.texture, nil, nil)
		}
		renderer.Present()

		if time.Since(lastFPS) >= time.Second {
			log.Printf("Display FPS: %d", displayCount)
			displayCount = 0
			lastFPS = time.Now()
		}

		sdl.Delay(1)
	}
}

func openSource(opts sourceOptions) (<-chan *assemble.Frame, func(), error) {
	set := 0
	for _, s := range []string{opts.device, opts.captureFile, opts.pattern} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, nil, errors.New("exactly one of -device, -capture, -pattern is required")
	}

	switch {
	case opts.device != "":
		return liveSource(opts)
	case opts.captureFile != "":
		return replaySource(opts)
	default:
		return patternSource(opts)
	}
}

func liveSource(opts sourceOptions) (<-chan *assemble.Frame, func(), error) {
	handle, err := cleanscope.OpenDeviceNode(opts.device)
	if err != nil {
		return nil, nil, err
	}
	if err := cleanscope.PrepareStreamingInterface(handle, opts.iface, opts.alt); err != nil {
		handle.Close()
		return nil, nil, err
	}
	engine, err := cleanscope.Start(handle, cleanscope.Config{
		Endpoint:      opts.endpoint,
		Width:         opts.width,
		Height:        opts.height,
		Format:        opts.format,
		MaxPacketSize: opts.maxPacket,
		Validation:    validate.LevelFromEnv(),
	})
	if err != nil {
		handle.Close()
		return nil, nil, err
	}
	log.Printf("Streaming from %s endpoint 0x%02x", opts.device, opts.endpoint)
	return engine.Frames(), func() {
		if err := engine.Stop(); err != nil {
			log.Printf("Stream ended with error: %v", err)
		}
		handle.Close()
	}, nil
}

func replaySource(opts sourceOptions) (<-chan *assemble.Frame, func(), error) {
	player, err := replay.Load(opts.captureFile, replay.Options{
		Speed:  opts.speed,
		Loop:   opts.loop,
		Format: opts.format,
	})
	if err != nil {
		return nil, nil, err
	}
	frames, err := player.Start()
	if err != nil {
		return nil, nil, err
	}
	return frames, func() { player.Stop() }, nil
}

func patternSource(opts sourceOptions) (<-chan *assemble.Frame, func(), error) {
	data, err := patternFrame(opts.pattern, opts.width, opts.height)
	if err != nil {
		return nil, nil, err
	}
	fps := opts.fps
	if fps <= 0 {
		fps = 30
	}

	frames := make(chan *assemble.Frame, 1)
	stop := make(chan struct{})
	go func() {
		defer close(frames)
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		var n uint64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f := &assemble.Frame{
					Data:   data,
					Format: assemble.FormatYUY2,
					Width:  opts.width,
					Height: opts.height,
					Number: n,
				}
				n++
				select {
				case frames <- f:
				default:
				}
			}
		}
	}()
	return frames, func() { close(stop) }, nil
}

func patternFrame(name string, width, height int) ([]byte, error) {
	switch name {
	case "solid":
		return testpattern.SolidYUY2(width, height, testpattern.Gray), nil
	case "gradient":
		return testpattern.GradientYUY2(width, height), nil
	case "vgradient":
		return testpattern.VerticalGradientYUY2(width, height), nil
	case "checkerboard":
		return testpattern.CheckerboardYUY2(width, height), nil
	case "bars":
		return testpattern.ColorBarsYUY2(width, height), nil
	case "crosshatch":
		return testpattern.CrosshatchYUY2(width, height, 32), nil
	}
	return nil, fmt.Errorf("unknown pattern %q", name)
}

// display owns the streaming texture, recreated whenever the incoming frame
// kind or size changes. Raw YUY2 uploads straight to a YUY2 texture and the
// GPU converts; MJPEG decodes on the CPU and uploads RGBA.
type display struct {
	renderer   *sdl.Renderer
	texture    *sdl.Texture
	texFormat  uint32
	texW, texH int32
	mjpeg      *decode.MJPEGDecoder
	rgba       *image.RGBA
}

func (d *display) show(f *assemble.Frame) bool {
	if f.Format == assemble.FormatMJPEG {
		return d.showMJPEG(f)
	}
	return d.showRaw(f)
}

func (d *display) showRaw(f *assemble.Frame) bool {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 || len(f.Data) < w*h*2 {
		return false
	}
	if err := d.ensureTexture(sdl.PIXELFORMAT_YUY2, int32(w), int32(h)); err != nil {
		log.Printf("Failed to create texture: %v", err)
		return false
	}
	if err := d.texture.Update(nil, unsafe.Pointer(&f.Data[0]), w*2); err != nil {
		log.Printf("Failed to update texture: %v", err)
		return false
	}
	return true
}

func (d *display) showMJPEG(f *assemble.Frame) bool {
	if _, err := d.mjpeg.Write(f.Data); err != nil {
		log.Printf("Failed to decode frame %d: %v", f.Number, err)
		return false
	}
	img, err := d.mjpeg.ReadFrame()
	if err != nil {
		return false
	}

	b := img.Bounds()
	if d.rgba == nil || !d.rgba.Bounds().Eq(b) {
		d.rgba = image.NewRGBA(b)
	}
	draw.Draw(d.rgba, b, img, b.Min, draw.Src)

	if err := d.ensureTexture(sdl.PIXELFORMAT_ABGR8888, int32(b.Dx()), int32(b.Dy())); err != nil {
		log.Printf("Failed to create texture: %v", err)
		return false
	}
	if err := d.texture.Update(nil, unsafe.Pointer(&d.rgba.Pix[0]), d.rgba.Stride); err != nil {
		log.Printf("Failed to update texture: %v", err)
		return false
	}
	return true
}

func (d *display) ensureTexture(format uint32, w, h int32) error {
	if d.texture != nil && d.texFormat == format && d.texW == w && d.texH == h {
		return nil
	}
	if d.texture != nil {
		d.texture.Destroy()
		d.texture = nil
	}
	tex, err := d.renderer.CreateTexture(format, sdl.TEXTUREACCESS_STREAMING, w, h)
	if err != nil {
		return err
	}
	d.texture = tex
	d.texFormat = format
	d.texW, d.texH = w, h
	return nil
}

func (d *display) destroy() {
	if d.texture != nil {
		d.texture.Destroy()
		d.texture = nil
	}
}
