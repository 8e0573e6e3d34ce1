package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FERClasses are the canonical facial-expression classes, in label order.
var FERClasses = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

// ImageFolder is a dataset scanned from a directory tree where each
// subdirectory holds the images of one class.
type ImageFolder struct {
	paths      []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewImageFolder scans root for class subdirectories and their images.
// Class labels are assigned in lexical directory order so repeated scans
// of the same tree agree.
func NewImageFolder(root string, extensions []string) (*ImageFolder, error) {
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %v", err)
	}

	var classNames []string
	for _, entry := range entries {
		if entry.IsDir() {
			classNames = append(classNames, entry.Name())
		}
	}
	sort.Strings(classNames)
	if len(classNames) == 0 {
		return nil, fmt.Errorf("no class directories found in %s", root)
	}

	return scanClasses(root, classNames, extensions)
}

// NewFERFolder scans root for the seven canonical expression classes.
// Missing class directories are an error: a partial tree silently shifts
// every subsequent label.
func NewFERFolder(root string) (*ImageFolder, error) {
	for _, className := range FERClasses {
		info, err := os.Stat(filepath.Join(root, className))
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("missing class directory %q in %s", className, root)
		}
	}
	return scanClasses(root, FERClasses, []string{".jpg", ".jpeg", ".png"})
}

func scanClasses(root string, classNames, extensions []string) (*ImageFolder, error) {
	d := &ImageFolder{
		classNames: classNames,
		classToIdx: make(map[string]int, len(classNames)),
	}

	for classIdx, className := range classNames {
		d.classToIdx[className] = classIdx

		for _, ext := range extensions {
			files, err := filepath.Glob(filepath.Join(root, className, "*"+ext))
			if err != nil {
				continue
			}
			for _, file := range files {
				d.paths = append(d.paths, file)
				d.labels = append(d.labels, classIdx)
			}
		}
	}

	if len(d.paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return d, nil
}

// Len returns the number of samples
func (d *ImageFolder) Len() int {
	return len(d.paths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.paths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.paths))
	}
	return d.paths[index], d.labels[index], nil
}

// NumClasses returns the number of classes
func (d *ImageFolder) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the class names in label order
func (d *ImageFolder) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the sample count per class name
func (d *ImageFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Subset creates a dataset view over the specified indices
func (d *ImageFolder) Subset(indices []int) *ImageFolder {
	subset := &ImageFolder{
		paths:      make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
	}
	for i, idx := range indices {
		subset.paths[i] = d.paths[idx]
		subset.labels[i] = d.labels[idx]
	}
	return subset
}

// Split divides the dataset into two parts by ratio, shuffling with the
// given seed first.
func (d *ImageFolder) Split(ratio float64, seed int64) (*ImageFolder, *ImageFolder) {
	n := len(d.paths)
	firstSize := int(float64(n) * ratio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	rand.New(rand.NewSource(seed)).Shuffle(n, func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	return d.Subset(indices[:firstSize]), d.Subset(indices[firstSize:])
}

// LabeledSplit carves out a stratified labeled subset of perClass samples
// from every class; everything else becomes the unlabeled pool. The draw
// is seeded so a resumed run rebuilds the identical split.
func (d *ImageFolder) LabeledSplit(perClass int, seed int64) (labeled, unlabeled *ImageFolder, err error) {
	if perClass <= 0 {
		return nil, nil, fmt.Errorf("labeled samples per class must be positive: %d", perClass)
	}

	byClass := make([][]int, len(d.classNames))
	for i, label := range d.labels {
		byClass[label] = append(byClass[label], i)
	}

	rng := rand.New(rand.NewSource(seed))
	var labeledIdx, unlabeledIdx []int
	for classIdx, indices := range byClass {
		if len(indices) < perClass {
			return nil, nil, fmt.Errorf("class %q has %d samples, need %d",
				d.classNames[classIdx], len(indices), perClass)
		}

		shuffled := make([]int, len(indices))
		copy(shuffled, indices)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		labeledIdx = append(labeledIdx, shuffled[:perClass]...)
		unlabeledIdx = append(unlabeledIdx, shuffled[perClass:]...)
	}

	return d.Subset(labeledIdx), d.Subset(unlabeledIdx), nil
}

// String summarizes the dataset and its class distribution
func (d *ImageFolder) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ImageFolder: %d samples, %d classes\n", len(d.paths), len(d.classNames))
	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		fmt.Fprintf(&sb, "  %s: %d samples\n", className, dist[className])
	}
	return sb.String()
}
