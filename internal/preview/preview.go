// Package preview renders quick-look PNGs from remote rasters (GeoTIFF, PNG,
// JPEG).
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
)

var (
	ErrTooLarge  = errors.New("preview: raster exceeds size limit")
	ErrBadSource = errors.New("preview: unsupported source url")
)

type Metadata struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	ColorModel string `json:"colorModel"`
}

type Image struct {
	PNG    []byte
	Width  int // rendered size
	Height int
	Source Metadata
}

type Options struct {
	MaxBytes  int64
	MaxPixels int64 // declared width*height
	MaxDim    int
	LRUSize   int
	// AllowedHosts lists the hosts rasters may be fetched from, with or
	// without a port. An empty list allows none.
	AllowedHosts []string
	Logger       *slog.Logger
}

type Previewer struct {
	http      *http.Client
	maxBytes  int64
	maxPixels int64
	maxDim    int
	hosts     map[string]struct{}
	last      *lru.Cache[string, Image]
	logger    *slog.Logger
}

func New(httpClient *http.Client, o Options) (*Previewer, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 64 << 20
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = 64 << 20
	}
	if o.MaxDim <= 0 {
		o.MaxDim = 1024
	}
	if o.LRUSize <= 0 {
		o.LRUSize = 32
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	last, err := lru.New[string, Image](o.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("preview cache: %w", err)
	}
	p := &Previewer{
		maxBytes:  o.MaxBytes,
		maxPixels: o.MaxPixels,
		maxDim:    o.MaxDim,
		hosts:     make(map[string]struct{}, len(o.AllowedHosts)),
		last:      last,
		logger:    o.Logger,
	}
	for _, h := range o.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts[h] = struct{}{}
		}
	}

	// redirects are held to the same host list as the first request
	c := *httpClient
	next := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !p.allowed(req.URL) {
			return fmt.Errorf("%w: redirect to %q", ErrBadSource, req.URL.Host)
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	p.http = &c
	return p, nil
}

func (p *Previewer) allowed(u *url.URL) bool {
	if _, ok := p.hosts[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := p.hosts[strings.ToLower(u.Hostname())]
	return ok
}

// Render fetches and renders src, remembering the result as the last good
// preview for src.
func (p *Previewer) Render(ctx context.Context, src string) (Image, error) {
	img, err := p.render(ctx, src)
	if err != nil {
		observability.IncPreviewRender("error")
		return Image{}, err
	}
	observability.IncPreviewRender("ok")
	p.last.Add(src, img)
	return img, nil
}

// Last returns the most recent successful render of src.
func (p *Previewer) Last(src string) (Image, bool) {
	return p.last.Get(src)
}

func (p *Previewer) render(ctx context.Context, src string) (Image, error) {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Image{}, fmt.Errorf("%w: %q", ErrBadSource, src)
	}
	if !p.allowed(u) {
		return Image{}, fmt.Errorf("%w: host %q not allowed", ErrBadSource, u.Host)
	}

	raw, err := p.fetch(ctx, u.String())
	if err != nil {
		return Image{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("decode raster header: %w", err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > p.maxPixels {
		return Image{}, fmt.Errorf("%w (%dx%d > %d pixels)", ErrTooLarge, cfg.Width, cfg.Height, p.maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("decode raster: %w", err)
	}
	meta := MetadataOf(img, format)

	out := Downsample(Stretch(img), p.maxDim)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return Image{}, fmt.Errorf("encode png: %w", err)
	}
	b := out.Bounds()
	p.logger.DebugContext(ctx, "preview rendered",
		"src", u.Redacted(),
		"format", format,
		"src_w", meta.Width, "src_h", meta.Height,
		"w", b.Dx(), "h", b.Dy())
	return Image{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy(), Source: meta}, nil
}

func (p *Previewer) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch raster: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch raster: status %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, resp.ContentLength, p.maxBytes)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	if int64(len(b)) > p.maxBytes {
		return nil, fmt.Errorf("%w (> %d bytes)", ErrTooLarge, p.maxBytes)
	}
	return b, nil
}

func MetadataOf(img image.Image, format string) Metadata {
	b := img.Bounds()
	return Metadata{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     format,
		ColorModel: colorModelName(img),
	}
}

func colorModelName(img image.Image) string {
	switch img.(type) {
	case *image.Gray:
		return "gray"
	case *image.Gray16:
		return "gray16"
	case *image.YCbCr:
		return "ycbcr"
	case *image.Paletted:
		return "paletted"
	case *image.RGBA64, *image.NRGBA64:
		return "rgba64"
	case *image.CMYK:
		return "cmyk"
	default:
		return "rgba"
	}
}

// Stretch maps the first band of img linearly onto 0..255 using its own
// min and max. A constant band keeps its value scaled to 8 bits.
func Stretch(img image.Image) *image.Gray {
	b := img.Bounds()
	lo, hi := uint16(0xffff), uint16(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := firstBand(img, x, y)
			lo, hi = min(lo, v), max(hi, v)
		}
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	span := uint32(hi) - uint32(lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Pix[(y-b.Min.Y)*out.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			v := firstBand(img, x, y)
			if span == 0 {
				row[x-b.Min.X] = uint8(v >> 8)
				continue
			}
			row[x-b.Min.X] = uint8((uint32(v-lo) * 255) / span)
		}
	}
	return out
}

func firstBand(img image.Image, x, y int) uint16 {
	switch m := img.(type) {
	case *image.Gray:
		return uint16(m.GrayAt(x, y).Y) << 8
	case *image.Gray16:
		return m.Gray16At(x, y).Y
	case *image.YCbCr:
		return uint16(m.YCbCrAt(x, y).Y) << 8
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return uint16(r)
	}
}

// Downsample scales img so its longer side is at most maxDim.
func Downsample(img *image.Gray, maxDim int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	nw, nh := maxDim, maxDim
	if w >= h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}
	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
