package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/observability"
)

var ErrModelMissing = errors.New("faceprint model not found")

const modelFile = "w600k_r50.onnx"

// Faceprinter turns a mugshot into a faceprint. Mugshots are assumed to be
// roughly centred portraits, so the largest centred square is used as the face.
type Faceprinter struct {
	embedder *Embedder
}

// Open initialises ONNX Runtime and loads the model from cfg.ModelsDir. The
// returned close func releases both.
func Open(cfg config.VisionConfig) (*Faceprinter, func(), error) {
	modelPath := filepath.Join(cfg.ModelsDir, modelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrModelMissing, modelPath)
	}

	lib := cfg.RuntimeLib
	if lib == "" {
		lib = defaultRuntimeLib()
	}
	ort.SetSharedLibraryPath(lib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	slog.Info("loading faceprint model", "path", modelPath)
	emb, err := NewEmbedder(modelPath)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, nil, err
	}
	closeFn := func() {
		emb.Close()
		_ = ort.DestroyEnvironment()
	}
	return &Faceprinter{embedder: emb}, closeFn, nil
}

func (f *Faceprinter) Faceprint(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	chw, err := Preprocess(data)
	if err != nil {
		return nil, err
	}
	fp, err := f.embedder.Embed(chw)
	if err != nil {
		return nil, err
	}
	observability.ClassificationDuration.WithLabelValues("arcface").Observe(time.Since(start).Seconds())
	return fp, nil
}

// Preprocess decodes an image and produces the ArcFace input tensor:
// centre square crop, 112x112, CHW, scaled to [-1, 1].
func Preprocess(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	face := resize(img, centerSquare(img), faceSize, faceSize)
	return toCHW(face, 127.5, 127.5), nil
}

func centerSquare(img image.Image) image.Rectangle {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// resize samples rect of img into a w x h image with nearest neighbour.
func resize(img image.Image, rect image.Rectangle, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if rect.Empty() {
		return dst
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := rect.Min.X + x*rect.Dx()/w
			sy := rect.Min.Y + y*rect.Dy()/h
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

// toCHW lays out pixels channel-major with (v - mean) / std per channel.
func toCHW(img *image.RGBA, mean, std float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 3*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(x+b.Min.X, y+b.Min.Y)
			i := y*w + x
			out[i] = (float32(c.R) - mean) / std
			out[w*h+i] = (float32(c.G) - mean) / std
			out[2*w*h+i] = (float32(c.B) - mean) / std
		}
	}
	return out
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func defaultRuntimeLib() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
