package main

import (
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/gdamore/tcell/v2"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rivo/tview"

	"github.com/laurigates/CleanScope/pkg/assemble"
	"github.com/laurigates/CleanScope/pkg/capture"
	"github.com/laurigates/CleanScope/pkg/decode"
	"github.com/laurigates/CleanScope/pkg/replay"
	"github.com/laurigates/CleanScope/pkg/validate"
)

// Long captures preview only their first frames; the full stream belongs
// to the replay command.
const maxPreviewFrames = 256

type Display struct {
	frame atomic.Value
}

func (g *Display) Update() error {
	return nil
}

func (g *Display) Draw(screen *ebiten.Image) {
	screen.DrawImage(g.frame.Load().(*ebiten.Image), &ebiten.DrawImageOptions{})
}

func (g *Display) Layout(outsideWidth, outsideHeight int) (int, int) {
	frame := g.frame.Load().(*ebiten.Image)
	return frame.Bounds().Dx(), frame.Bounds().Dy()
}

func main() {
	dir := flag.String("dir", ".", "directory holding capture files")
	render := flag.Bool("render", false, "render the selected frame in a window (requires a display)")
	formatName := flag.String("format", "", "force stream format (mjpeg, yuy2; empty = auto)")
	size := flag.Int("size", 0, "force raw frame size in bytes (0 = auto)")
	flag.Parse()

	format, err := assemble.ParseFormat(*formatName)
	if err != nil {
		log.Fatalf("Bad -format: %v", err)
	}

	paths, err := captureFiles(*dir)
	if err != nil {
		log.Fatalf("Failed to scan %s: %v", *dir, err)
	}
	if len(paths) == 0 {
		log.Fatalf("No capture files in %s", *dir)
	}

	app := tview.NewApplication()

	captures := tview.NewList()
	captures.SetBorder(true).SetTitle("Captures")

	metaView := tview.NewTextView()
	metaView.SetBorder(true).SetTitle("Metadata")

	frameList := tview.NewList()
	frameList.SetBorder(true).SetTitle("Frames")

	preview := tview.NewImage()
	preview.SetColors(256).SetDithering(tview.DitheringNone).SetBorder(true).SetTitle("Preview")

	logText := tview.NewTextView()
	logText.SetMaxLines(10).SetBorder(true).SetTitle("Log")

	log.SetOutput(logText)

	level := validate.LevelFromEnv()
	ebitenDisplay := &Display{}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		captures.AddItem(filepath.Base(path), fmt.Sprintf("%d KB", info.Size()/1024), 0, func() {
			showMetadata(metaView, path)

			frames, err := previewFrames(path, replay.Options{
				Format:            format,
				ExpectedFrameSize: *size,
			})
			if err != nil {
				log.Printf("error reading %s: %s", filepath.Base(path), err)
				return
			}
			log.Printf("%s: %d frames", filepath.Base(path), len(frames))

			frameList.Clear()
			for _, f := range frames {
				frameList.AddItem(
					fmt.Sprintf("Frame %d (%s, %d bytes)", f.Number, f.Format, len(f.Data)),
					frameVerdict(f, level), 0, func() {
						img, err := decodeFrame(f)
						if err != nil {
							log.Printf("error decoding frame %d: %s", f.Number, err)
							return
						}
						if *render {
							if ebitenDisplay.frame.Swap(ebiten.NewImageFromImage(img)) == nil {
								go func() {
									if err := ebiten.RunGame(ebitenDisplay); err != nil {
										log.Printf("ebiten error: %s", err)
									}
								}()
							}
						} else {
							w := 64
							h := img.Bounds().Dy() * w / img.Bounds().Dx()
							preview.SetImage(resize(img, w, h))
						}
					})
			}
			app.SetFocus(frameList)
		})
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			app.Stop()
		}
		return event
	})

	// Create the layout.

	middle := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(metaView, 0, 1, false).
		AddItem(frameList, 0, 2, false)

	flex := tview.NewFlex().
		AddItem(captures, 0, 1, true).
		AddItem(middle, 0, 1, false)

	if !*render {
		flex.AddItem(preview, 0, 2, false)
	}

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(flex, 0, 1, true).
		AddItem(logText, 10, 0, false)

	if err := app.SetRoot(root, true).Run(); err != nil {
		panic(err)
	}
}

// captureFiles lists both on-disk capture formats, newest name last.
func captureFiles(dir string) ([]string, error) {
	modern, err := filepath.Glob(filepath.Join(dir, "packets_*.bin"))
	if err != nil {
		return nil, err
	}
	legacy, err := filepath.Glob(filepath.Join(dir, "capture_*.bin"))
	if err != nil {
		return nil, err
	}
	paths := append(modern, legacy...)
	sort.Strings(paths)
	return paths, nil
}

func showMetadata(view *tview.TextView, path string) {
	view.Clear()
	meta, ok := capture.FindMetadata(path)
	if !ok {
		fmt.Fprintf(view, "%s\n\nno metadata file", filepath.Base(path))
		return
	}
	fmt.Fprintf(view, "%s\n", filepath.Base(path))
	fmt.Fprintf(view, "Device: %04x:%04x\n", meta.VendorID, meta.ProductID)
	fmt.Fprintf(view, "Format: %s", meta.FormatType)
	if meta.FormatGUID != "" {
		fmt.Fprintf(view, " (%s)", meta.FormatGUID)
	}
	fmt.Fprintf(view, "\nSize: %dx%d\n", meta.Width, meta.Height)
	fmt.Fprintf(view, "Packets: %d (%d bytes)\n", meta.TotalPackets, meta.TotalBytes)
	fmt.Fprintf(view, "Frames: %d in %dms\n", meta.TotalFrames, meta.DurationMS)
	if meta.Description != "" {
		fmt.Fprintf(view, "%s\n", meta.Description)
	}
}

// previewFrames assembles the first frames of a capture through the replay
// pipeline.
func previewFrames(path string, opts replay.Options) ([]*assemble.Frame, error) {
	it, err := replay.NewFrameIterator(path, opts)
	if err != nil {
		return nil, err
	}
	var frames []*assemble.Frame
	for len(frames) < maxPreviewFrames {
		f, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// frameVerdict renders the validation readout for one frame. Banding gets
// its period estimated so the operator can tell a stride slip from random
// noise.
func frameVerdict(f *assemble.Frame, level validate.Level) string {
	if f.Format != assemble.FormatYUY2 || f.Width <= 0 || f.Height <= 0 {
		return ""
	}
	r := validate.YUY2(f.Data, f.Width, f.Height, f.Width*f.Height*2, level)
	if r.Valid {
		return "ok"
	}
	verdict := r.FailureReason
	if b := validate.Banding(f.Data, f.Width, f.Height); b.Detected {
		verdict += fmt.Sprintf("; banding every %.1f rows (strength %.2f)", b.Period, b.Strength)
	}
	return verdict
}

func decodeFrame(f *assemble.Frame) (image.Image, error) {
	dec, err := decode.NewFormatDecoder(f.Format, f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	if err := dec.WriteFrame(f); err != nil {
		return nil, err
	}
	return dec.ReadFrame()
}

func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
