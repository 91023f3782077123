// Command texstream streams an ASTC file page by page into a sparse texture
// on a headless GPU backend and reports what became resident.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
	"golang.org/x/image/bmp"

	"github.com/gogpu/texstream"
	"github.com/gogpu/texstream/device/haldevice"
	"github.com/gogpu/texstream/source"
)

type config struct {
	file      string
	synthetic int
	backend   string
	slots     int
	workers   int
	page      int
	srgb      bool
	evict     bool
	frame     time.Duration
	residency string
	verbose   bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.file, "file", "", "ASTC file to stream (empty: synthetic image)")
	flag.IntVar(&cfg.synthetic, "synthetic", 2048, "size of the synthetic ASTC 8x8 image when -file is empty")
	flag.StringVar(&cfg.backend, "backend", "", "HAL backend: noop or software (empty: best available)")
	flag.IntVar(&cfg.slots, "slots", texstream.DefaultSlots, "number of staging slots")
	flag.IntVar(&cfg.workers, "workers", 0, "decode workers (0: GOMAXPROCS)")
	flag.IntVar(&cfg.page, "page", 512, "page size in texels")
	flag.BoolVar(&cfg.srgb, "srgb", false, "treat the image as sRGB")
	flag.BoolVar(&cfg.evict, "evict", false, "uncommit every other page after streaming")
	flag.DurationVar(&cfg.frame, "frame", time.Millisecond, "device frame interval")
	flag.StringVar(&cfg.residency, "residency", "", "write the page residency map to this BMP file")
	flag.BoolVar(&cfg.verbose, "v", false, "log every slot transition")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	texstream.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("texstream failed", "err", err)
		os.Exit(1)
	}
}

// backends lists the headless HAL backends, best first.
func backends() *gpucontext.Registry[hal.Backend] {
	r := gpucontext.NewRegistry[hal.Backend](gpucontext.WithPriority("software", "noop"))
	r.Register("software", func() hal.Backend { return software.API{} })
	r.Register("noop", func() hal.Backend { return noop.API{} })
	return r
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	reg := backends()
	name := cfg.backend
	if name == "" {
		name = reg.BestName()
	}
	if !reg.Has(name) {
		return fmt.Errorf("unknown backend %q (available: %v)", name, reg.Available())
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	hdr, payload, err := source.Payload(src)
	if err != nil {
		return err
	}
	format, ok := texstream.ASTCFormat(hdr.BlockX, hdr.BlockY, cfg.srgb)
	if !ok {
		return fmt.Errorf("unsupported ASTC block %dx%d", hdr.BlockX, hdr.BlockY)
	}
	layout, _ := texstream.LayoutForFormat(format)
	logger.Info("source opened", "path", src.Path(), "image", hdr.String(), "format", format)

	dev, err := haldevice.Open(reg.Get(name), logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	tex, err := dev.CreateSparseTexture(hdr.Width, hdr.Height, format, cfg.page, cfg.page)
	if err != nil {
		return err
	}
	defer tex.Destroy()

	capacity := texstream.StagingSize(layout, cfg.page, cfg.page, dev.CopyPitchAlignment())
	s, err := texstream.New(dev,
		texstream.WithSlots(cfg.slots),
		texstream.WithWorkers(cfg.workers),
		texstream.WithSlotCapacity(capacity),
		texstream.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	vt, err := texstream.NewVirtualTexture(s, tex, payload, cfg.page, cfg.page)
	if err != nil {
		return err
	}

	start := time.Now()
	frames, err := stream(ctx, s, vt, cfg.frame)
	if err != nil {
		return err
	}
	cols, rows := vt.Pages()
	logger.Info("streaming done",
		"pages", cols*rows,
		"resident", vt.ResidentPages(),
		"committed", tex.CommittedPages(),
		"frames", frames,
		"elapsed", time.Since(start),
		"stats", s.Stats().String())

	if cfg.evict {
		if err := evict(vt); err != nil {
			return err
		}
		logger.Info("evicted odd pages", "resident", vt.ResidentPages(), "committed", tex.CommittedPages())
	}

	if cfg.residency != "" {
		if err := writeResidency(cfg.residency, vt); err != nil {
			return err
		}
		logger.Info("residency map written", "path", cfg.residency)
	}
	return nil
}

// openSource maps cfg.file, or writes a synthetic image to a temporary
// file and maps that.
func openSource(cfg config) (*source.MappedFile, error) {
	if cfg.file != "" {
		return source.Open(cfg.file)
	}
	path, err := writeSynthetic(cfg.synthetic)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)
	return source.Open(path)
}

// writeSynthetic writes a size x size ASTC 8x8 file whose blocks carry
// their own index.
func writeSynthetic(size int) (string, error) {
	if size <= 0 || size%8 != 0 {
		return "", fmt.Errorf("synthetic size %d is not a positive multiple of 8", size)
	}
	h := source.ASTCHeader{BlockX: 8, BlockY: 8, BlockZ: 1, Width: size, Height: size, Depth: 1}
	data := make([]byte, source.HeaderSize+h.PayloadSize())
	copy(data, source.EncodeASTCHeader(h))
	for i := source.HeaderSize; i < len(data); i += 16 {
		n := (i - source.HeaderSize) / 16
		data[i], data[i+1], data[i+2] = byte(n), byte(n>>8), byte(n>>16)
	}

	f, err := os.CreateTemp("", "texstream-*.astc")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), f.Close()
}

// stream requests every page from a producer goroutine while this
// goroutine drives the device, until every page settled.
func stream(ctx context.Context, s *texstream.Streamer, vt *texstream.VirtualTexture, interval time.Duration) (uint64, error) {
	cols, rows := vt.Pages()
	produced := make(chan error, 1)
	go func() {
		var errs []error
		for py := range rows {
			for px := range cols {
				if _, err := vt.StreamPage(ctx, px, py); err != nil {
					errs = append(errs, fmt.Errorf("page (%d,%d): %w", px, py, err))
					if errors.Is(err, texstream.ErrPoolStopped) || ctx.Err() != nil {
						produced <- errors.Join(errs...)
						return
					}
				}
			}
		}
		produced <- errors.Join(errs...)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		frame    uint64
		done     bool
		frameErr []error
	)
	for {
		res := s.Drive(ctx, frame)
		frame++
		if res.Err != nil {
			frameErr = append(frameErr, res.Err)
		}
		if !done {
			select {
			case err := <-produced:
				done = true
				if err != nil {
					return frame, err
				}
			default:
			}
		}
		if done && s.InFlight() == 0 {
			return frame, errors.Join(frameErr...)
		}
		select {
		case <-ctx.Done():
			return frame, ctx.Err()
		case <-ticker.C:
		}
	}
}

// evict releases every page whose index is odd.
func evict(vt *texstream.VirtualTexture) error {
	cols, rows := vt.Pages()
	for py := range rows {
		for px := range cols {
			if (py*cols+px)%2 == 1 {
				if err := vt.UncommitPage(px, py); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeResidency(path string, vt *texstream.VirtualTexture) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, vt.ResidencyImage(8)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
