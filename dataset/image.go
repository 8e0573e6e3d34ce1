package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

// Processor decodes and preprocesses images for network input. A single
// Processor reuses its buffers across calls and is safe for concurrent use.
type Processor struct {
	mu         sync.Mutex
	targetSize int
	buffer     []float32

	// Optional per-channel normalization applied after scaling to [0, 1].
	// Left zero-valued, pixels stay in [0, 1].
	Mean [3]float32
	Std  [3]float32
}

// NewProcessor creates an image processor producing targetSize x targetSize
// CHW float32 output.
func NewProcessor(targetSize int) (*Processor, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size: %d", targetSize)
	}
	return &Processor{targetSize: targetSize}, nil
}

// FeatureSize returns the flattened length of one processed image
func (p *Processor) FeatureSize() int {
	return 3 * p.targetSize * p.targetSize
}

// Process decodes an image file and returns its pixels in CHW order,
// resized by nearest neighbor and scaled to [0, 1], with the configured
// normalization applied.
func (p *Processor) Process(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %v", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image: %s", path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.targetSize
	plane := size * size
	if len(p.buffer) < 3*plane {
		p.buffer = make([]float32, 3*plane)
	}

	scaleX := float64(width) / float64(size)
	scaleY := float64(height) / float64(size)

	for y := 0; y < size; y++ {
		srcY := bounds.Min.Y + int(float64(y)*scaleY)
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)

			r, g, b, _ := img.At(srcX, srcY).RGBA()
			idx := y*size + x
			p.buffer[idx] = float32(r) / 65535.0
			p.buffer[plane+idx] = float32(g) / 65535.0
			p.buffer[2*plane+idx] = float32(b) / 65535.0
		}
	}

	if p.Std[0] != 0 || p.Std[1] != 0 || p.Std[2] != 0 {
		for c := 0; c < 3; c++ {
			std := p.Std[c]
			if std == 0 {
				std = 1
			}
			for i := 0; i < plane; i++ {
				p.buffer[c*plane+i] = (p.buffer[c*plane+i] - p.Mean[c]) / std
			}
		}
	}

	out := make([]float32, 3*plane)
	copy(out, p.buffer[:3*plane])
	return out, nil
}

// FlipHorizontal mirrors a CHW image in place along its width.
func FlipHorizontal(data []float32, size int) {
	plane := size * size
	for c := 0; c < 3; c++ {
		for y := 0; y < size; y++ {
			row := data[c*plane+y*size : c*plane+(y+1)*size]
			for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
}

// Materialize decodes every image of the dataset into a [n, features]
// tensor plus its labels, spreading the decode work over maxWorkers
// goroutines.
func Materialize(d *ImageFolder, targetSize, maxWorkers int) (*tensor.Tensor, []int, error) {
	p, err := NewProcessor(targetSize)
	if err != nil {
		return nil, nil, err
	}

	n := d.Len()
	features := p.FeatureSize()
	data := make([]float32, n*features)
	labels := make([]int, n)
	errs := make([]error, n)

	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker, err := NewProcessor(targetSize)
			if err != nil {
				return
			}
			worker.Mean, worker.Std = p.Mean, p.Std

			for i := range jobs {
				path, label, err := d.GetItem(i)
				if err != nil {
					errs[i] = err
					continue
				}

				pixels, err := worker.Process(path)
				if err != nil {
					errs[i] = err
					continue
				}

				copy(data[i*features:(i+1)*features], pixels)
				labels[i] = label
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("failed to process sample %d: %v", i, err)
		}
	}

	t, err := tensor.New([]int{n, features}, data)
	if err != nil {
		return nil, nil, err
	}
	return t, labels, nil
}

// MaterializeViews decodes the dataset into two paired augmented views for
// the unlabeled stream: the image itself and its horizontal mirror.
func MaterializeViews(d *ImageFolder, targetSize, maxWorkers int) (*tensor.Tensor, *tensor.Tensor, error) {
	view1, _, err := Materialize(d, targetSize, maxWorkers)
	if err != nil {
		return nil, nil, err
	}

	view2 := view1.Clone()
	n := d.Len()
	features := view2.NumElems / n
	for i := 0; i < n; i++ {
		FlipHorizontal(view2.Data[i*features:(i+1)*features], targetSize)
	}

	return view1, view2, nil
}
