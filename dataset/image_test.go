package dataset

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/chewxy/math32"
)

// writeJPEG encodes a solid-color image so decoded pixel values are known.
func writeJPEG(t *testing.T, path string, width, height int, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image file: %v", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
}

func TestProcessorDecodesAndScales(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.jpg")
	writeJPEG(t, path, 20, 12, color.RGBA{R: 255, A: 255})

	p, err := NewProcessor(8)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	pixels, err := p.Process(path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(pixels) != p.FeatureSize() {
		t.Fatalf("feature length %d, expected %d", len(pixels), p.FeatureSize())
	}

	// A solid red image decodes to a high R channel and near-zero G and B
	// (JPEG compression wobbles the exact values).
	plane := 8 * 8
	for i := 0; i < plane; i++ {
		if pixels[i] < 0.9 {
			t.Fatalf("R channel pixel %d = %f, expected near 1", i, pixels[i])
		}
		if pixels[plane+i] > 0.1 || pixels[2*plane+i] > 0.1 {
			t.Fatalf("G/B channel pixel %d not near 0: %f, %f",
				i, pixels[plane+i], pixels[2*plane+i])
		}
	}
}

func TestProcessorNormalization(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "white.jpg")
	writeJPEG(t, path, 8, 8, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	p, err := NewProcessor(4)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	p.Mean = [3]float32{0.5, 0.5, 0.5}
	p.Std = [3]float32{0.5, 0.5, 0.5}

	pixels, err := p.Process(path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// White pixels map to (1 - 0.5) / 0.5 = 1
	for i, v := range pixels {
		if math32.Abs(v-1.0) > 0.1 {
			t.Fatalf("normalized pixel %d = %f, expected near 1", i, v)
		}
	}
}

func TestProcessorRejectsMissingFile(t *testing.T) {
	p, err := NewProcessor(8)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	if _, err := p.Process(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := NewProcessor(0); err == nil {
		t.Error("expected error for non-positive target size")
	}
}

func TestFlipHorizontal(t *testing.T) {
	// 2x2 image, one channel ramp per plane
	size := 2
	data := []float32{
		1, 2, 3, 4, // R rows: (1 2) (3 4)
		5, 6, 7, 8,
		9, 10, 11, 12,
	}

	FlipHorizontal(data, size)

	want := []float32{
		2, 1, 4, 3,
		6, 5, 8, 7,
		10, 9, 12, 11,
	}
	for i, v := range want {
		if data[i] != v {
			t.Errorf("element %d = %f, expected %f", i, data[i], v)
		}
	}

	// Flipping twice restores the original
	FlipHorizontal(data, size)
	if data[0] != 1 || data[11] != 12 {
		t.Error("double flip did not restore the image")
	}
}

func TestMaterializeBuildsBatchTensor(t *testing.T) {
	root := t.TempDir()
	for _, class := range []string{"neutral", "happy"} {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create class directory: %v", err)
		}
	}
	writeJPEG(t, filepath.Join(root, "neutral", "a.jpg"), 10, 10, color.RGBA{R: 255, A: 255})
	writeJPEG(t, filepath.Join(root, "neutral", "b.jpg"), 10, 10, color.RGBA{G: 255, A: 255})
	writeJPEG(t, filepath.Join(root, "happy", "c.jpg"), 10, 10, color.RGBA{B: 255, A: 255})

	d, err := NewImageFolder(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolder failed: %v", err)
	}

	data, labels, err := Materialize(d, 4, 2)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	if data.Shape[0] != 3 || data.Shape[1] != 3*4*4 {
		t.Fatalf("unexpected tensor shape %v", data.Shape)
	}
	if len(labels) != 3 {
		t.Fatalf("unexpected label count %d", len(labels))
	}

	// Class "happy" sorts first, so sample 0 is the blue image with label 0
	if labels[0] != 0 {
		t.Errorf("labels[0] = %d, expected 0", labels[0])
	}
	plane := 4 * 4
	if data.Data[2*plane] < 0.9 {
		t.Errorf("first sample B channel = %f, expected near 1", data.Data[2*plane])
	}

	view1, view2, err := MaterializeViews(d, 4, 2)
	if err != nil {
		t.Fatalf("MaterializeViews failed: %v", err)
	}
	if view1.Shape[0] != 3 || view2.Shape[0] != 3 {
		t.Fatal("view tensors have wrong batch size")
	}

	// Solid-color images are mirror-symmetric, so the views agree
	for i := range view1.Data {
		if math32.Abs(view1.Data[i]-view2.Data[i]) > 1e-6 {
			t.Fatalf("views differ at element %d for a symmetric image", i)
		}
	}
}
