package legibility

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Below this many pixels stripes are not worth scheduling
const parallelPixelThreshold = 100000

// edgeMagnitude is the Sobel magnitude above which a pixel counts as an edge
const edgeMagnitude = 50

// Calculator computes grayscale statistics of a capture
type Calculator struct {
	pool *WorkerPool
}

// NewCalculator creates a calculator scheduling stripes on pool
func NewCalculator(pool *WorkerPool) *Calculator {
	return &Calculator{pool: pool}
}

// Brightness returns the mean gray level in [0, 255]
func (c *Calculator) Brightness(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	stripes := c.stripes(bounds)
	sums := make([]float64, len(stripes))
	jobs := make([]func(), len(stripes))
	for i, stripe := range stripes {
		i, stripe := i, stripe
		jobs[i] = func() {
			var total float64
			for y := stripe.Min.Y; y < stripe.Max.Y; y++ {
				for x := stripe.Min.X; x < stripe.Max.X; x++ {
					total += float64(gray.GrayAt(x, y).Y)
				}
			}
			sums[i] = total
		}
	}
	c.run(jobs)

	var total float64
	for _, s := range sums {
		total += s
	}
	return total / float64(width*height)
}

// Contrast returns the standard deviation of gray levels. A blank page
// or a lens cap scores close to zero.
func (c *Calculator) Contrast(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	if bounds.Empty() {
		return 0
	}
	values := make([]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			values = append(values, float64(gray.GrayAt(x, y).Y))
		}
	}
	return stat.StdDev(values, nil)
}

// Sharpness returns the variance of the Laplacian. Low values mean blur.
func (c *Calculator) Sharpness(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}

	data := make([]float64, 0, (width-2)*(height-2))
	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			top := float64(gray.GrayAt(x, y-1).Y)
			bottom := float64(gray.GrayAt(x, y+1).Y)
			left := float64(gray.GrayAt(x-1, y).Y)
			right := float64(gray.GrayAt(x+1, y).Y)
			data = append(data, -4*center+top+bottom+left+right)
		}
	}
	return stat.Variance(data, nil)
}

// Skew estimates the dominant text line angle in degrees within
// [-45, 45], or nil when there are too few edges to tell.
func (c *Calculator) Skew(gray *image.Gray) *float64 {
	bounds := gray.Bounds()

	var xs, ys []float64
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			gx := sobelX(gray, x, y)
			gy := sobelY(gray, x, y)
			if math.Sqrt(float64(gx*gx+gy*gy)) > edgeMagnitude {
				xs = append(xs, float64(x))
				ys = append(ys, float64(y))
			}
		}
	}
	if len(xs) < 10 {
		return nil
	}
	if stat.Variance(xs, nil) < 1e-10 {
		return nil
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	angle := math.Atan(slope) * 180 / math.Pi
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return nil
	}
	for angle > 45 {
		angle -= 90
	}
	for angle < -45 {
		angle += 90
	}
	return &angle
}

func (c *Calculator) stripes(bounds image.Rectangle) []image.Rectangle {
	height := bounds.Dy()
	n := 1
	if c.pool != nil && bounds.Dx()*height >= parallelPixelThreshold {
		n = c.pool.Workers()
	}
	if n > height {
		n = height
	}
	if n < 1 {
		n = 1
	}
	rows := (height + n - 1) / n

	out := make([]image.Rectangle, 0, n)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += rows {
		end := y + rows
		if end > bounds.Max.Y {
			end = bounds.Max.Y
		}
		out = append(out, image.Rect(bounds.Min.X, y, bounds.Max.X, end))
	}
	return out
}

func (c *Calculator) run(jobs []func()) {
	if c.pool == nil || len(jobs) == 1 {
		for _, job := range jobs {
			job()
		}
		return
	}
	c.pool.Run(jobs...)
}

func sobelX(gray *image.Gray, x, y int) int {
	return -1*int(gray.GrayAt(x-1, y-1).Y) + 1*int(gray.GrayAt(x+1, y-1).Y) +
		-2*int(gray.GrayAt(x-1, y).Y) + 2*int(gray.GrayAt(x+1, y).Y) +
		-1*int(gray.GrayAt(x-1, y+1).Y) + 1*int(gray.GrayAt(x+1, y+1).Y)
}

func sobelY(gray *image.Gray, x, y int) int {
	return -1*int(gray.GrayAt(x-1, y-1).Y) - 2*int(gray.GrayAt(x, y-1).Y) - 1*int(gray.GrayAt(x+1, y-1).Y) +
		1*int(gray.GrayAt(x-1, y+1).Y) + 2*int(gray.GrayAt(x, y+1).Y) + 1*int(gray.GrayAt(x+1, y+1).Y)
}
