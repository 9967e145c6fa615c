// Package chart rasterizes recent candles and reference levels to PNG.
package chart

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/models"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	marginLeft   = 70
	marginRight  = 30
	marginTop    = 30
	marginBottom = 60
)

var (
	colorBackground = color.RGBA{20, 20, 24, 255}
	colorWick       = color.RGBA{180, 180, 190, 255}
	colorUp         = color.RGBA{90, 180, 90, 255}
	colorDown       = color.RGBA{200, 100, 100, 255}
	colorLevel      = color.RGBA{120, 120, 200, 255}
	colorText       = color.RGBA{220, 220, 230, 255}
)

// RenderError wraps any failure while producing a chart.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render chart: " + e.Err.Error() }

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer writes charts into OutputDir. When MaxFiles is positive only the
// newest MaxFiles charts are kept.
type Renderer struct {
	OutputDir string
	Bars      int
	Width     int
	Height    int
	MaxFiles  int

	now     func() time.Time
	pruneMu sync.Mutex
}

// NewRenderer returns a renderer with the default canvas size.
func NewRenderer(outputDir string, bars int) *Renderer {
	return &Renderer{
		OutputDir: outputDir,
		Bars:      bars,
		Width:     1100,
		Height:    500,
		now:       time.Now,
	}
}

// Render draws the last Bars candles plus levels and returns the file path.
func (r *Renderer) Render(symbol string, tf models.Timeframe, candles []models.Candle, levels *models.ReferenceLevels) (string, error) {
	if len(candles) == 0 {
		return "", &RenderError{Err: fmt.Errorf("no candles")}
	}
	if r.Width <= marginLeft+marginRight || r.Height <= marginTop+marginBottom {
		return "", &RenderError{Err: fmt.Errorf("canvas %dx%d too small", r.Width, r.Height)}
	}
	if r.Bars > 0 && len(candles) > r.Bars {
		candles = candles[len(candles)-r.Bars:]
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	lo, hi := priceRange(candles, levels)
	plotW := r.Width - marginLeft - marginRight
	plotH := r.Height - marginTop - marginBottom
	y := func(p float64) int {
		return marginTop + int(math.Round((hi-p)/(hi-lo)*float64(plotH)))
	}

	slot := float64(plotW) / float64(len(candles))
	bodyW := max(int(slot*0.6), 1)
	for i, c := range candles {
		cx := marginLeft + int(slot*float64(i)+slot/2)
		vline(img, cx, y(c.High), y(c.Low), colorWick)

		top, bottom := y(math.Max(c.Open, c.Close)), y(math.Min(c.Open, c.Close))
		if bottom == top {
			bottom++
		}
		body := colorDown
		if c.IsBullish() {
			body = colorUp
		}
		draw.Draw(img, image.Rect(cx-bodyW/2, top, cx-bodyW/2+bodyW, bottom), &image.Uniform{body}, image.Point{}, draw.Src)
	}

	if levels != nil {
		for _, lv := range levels.Values() {
			ly := y(lv.Price)
			hline(img, marginLeft, r.Width-marginRight, ly, colorLevel)
			label(img, 6, ly+4, fmt.Sprintf("%s %.6g", lv.Label, lv.Price))
		}
	}

	last := candles[len(candles)-1]
	label(img, marginLeft, 18, fmt.Sprintf("%s %s  close %.6g", strings.ToUpper(symbol), tf, last.Close))
	label(img, marginLeft, r.Height-marginBottom/2, fmt.Sprintf("%s .. %s UTC",
		candles[0].Time().UTC().Format("2006-01-02 15:04"),
		last.Time().UTC().Format("2006-01-02 15:04")))

	return r.write(symbol, tf, img)
}

func (r *Renderer) write(symbol string, tf models.Timeframe, img image.Image) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", &RenderError{Err: err}
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	name := fmt.Sprintf("%s_%s_%d.png", strings.ToUpper(symbol), tf, now().UnixNano())
	path := filepath.Join(r.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", &RenderError{Err: err}
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path) //nolint:errcheck
		return "", &RenderError{Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &RenderError{Err: err}
	}
	if err := r.Prune(); err != nil {
		logger.Warn("Failed to prune charts in %s: %v", r.OutputDir, err)
	}
	return path, nil
}

// Prune deletes all but the newest MaxFiles charts in OutputDir, oldest
// modification time first.
func (r *Renderer) Prune() error {
	if r.MaxFiles <= 0 {
		return nil
	}
	r.pruneMu.Lock()
	defer r.pruneMu.Unlock()

	entries, err := os.ReadDir(r.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type chartFile struct {
		name    string
		modTime time.Time
	}
	var files []chartFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, chartFile{name: e.Name(), modTime: info.ModTime()})
	}
	if len(files) <= r.MaxFiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, f := range files[:len(files)-r.MaxFiles] {
		if err := os.Remove(filepath.Join(r.OutputDir, f.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// priceRange spans the visible candles and levels. A flat range is widened
// so the scale never divides by zero.
func priceRange(candles []models.Candle, levels *models.ReferenceLevels) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if levels != nil {
		for _, lv := range levels.Values() {
			lo = math.Min(lo, lv.Price)
			hi = math.Max(hi, lv.Price)
		}
	}
	if hi-lo < 1e-12 {
		lo -= 1e-6
		hi += 1e-6
	}
	return lo, hi
}

func vline(img *image.RGBA, x, y0, y1 int, c color.Color) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for yy := y0; yy <= y1; yy++ {
		img.Set(x, yy, c)
	}
}

func hline(img *image.RGBA, x0, x1, y int, c color.Color) {
	for xx := x0; xx <= x1; xx++ {
		img.Set(xx, y, c)
	}
}

func label(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
