package render

import (
	"image"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/utils"
)

type View int

const (
	// looking along -Z
	ViewFront View = iota
	// looking along +X
	ViewSide
	// looking down -Y
	ViewTop
)

var viewNames = [...]string{"front", "side", "top"}

func (v View) String() string {
	if v >= 0 && int(v) < len(viewNames) {
		return viewNames[v]
	}
	return "unknown"
}

func ParseView(s string) (View, error) {
	for i, name := range viewNames {
		if strings.EqualFold(name, s) {
			return View(i), nil
		}
	}
	return ViewFront, errors.Errorf("Unknown view %q", s)
}

// project returns horizontal and vertical image axes, vertical grows upwards
func (v View) project(p mgl32.Vec3) mgl32.Vec2 {
	switch v {
	case ViewSide:
		return mgl32.Vec2{p[2], p[1]}
	case ViewTop:
		return mgl32.Vec2{p[0], -p[2]}
	}
	return mgl32.Vec2{p[0], p[1]}
}

type Options struct {
	Size        int
	Supersample int
	// part of the image left empty around the skeleton
	Margin     float32
	JointSize  int
	Background utils.ColorFloat
	Bone       utils.ColorFloat
	Joint      utils.ColorFloat
	Simulated  utils.ColorFloat
}

func DefaultOptions() Options {
	return Options{
		Size:        256,
		Supersample: 4,
		Margin:      0.08,
		JointSize:   3,
		Background:  utils.ColorFloat{0.12, 0.12, 0.14, 1},
		Bone:        utils.ColorFloat{0.8, 0.8, 0.8, 1},
		Joint:       utils.ColorFloat{0.3, 0.6, 1, 1},
		Simulated:   utils.ColorFloat{1, 0.3, 0.2, 1},
	}
}

type canvas struct {
	img    *image.RGBA
	scale  float32
	center mgl32.Vec2
	size   float32
}

func (c *canvas) toPixel(p mgl32.Vec2) (float32, float32) {
	d := p.Sub(c.center).Mul(c.scale)
	return c.size/2 + d[0], c.size/2 - d[1]
}

func (c *canvas) line(a, b mgl32.Vec2, col utils.ColorFloat, width int) {
	x0, y0 := c.toPixel(a)
	x1, y1 := c.toPixel(b)
	steps := int(mgl32.Abs(x1-x0)) + int(mgl32.Abs(y1-y0)) + 1
	for i := 0; i <= steps; i++ {
		t := float32(i) / float32(steps)
		c.dot(x0+(x1-x0)*t, y0+(y1-y0)*t, col, width)
	}
}

func (c *canvas) dot(x, y float32, col utils.ColorFloat, radius int) {
	cx, cy := int(x), int(y)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				c.img.Set(cx+dx, cy+dy, col)
			}
		}
	}
}

// Render draws visible bones of the current pose. The skeleton is only read.
func Render(s *pose.Skeleton, view View, opt Options) *image.RGBA {
	if opt.Supersample < 1 {
		opt.Supersample = 1
	}
	big := opt.Size * opt.Supersample
	c := &canvas{
		img:  image.NewRGBA(image.Rect(0, 0, big, big)),
		size: float32(big),
	}
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(opt.Background), image.Point{}, draw.Src)

	bones := s.Bones()
	points := make([]mgl32.Vec2, len(bones))
	var lo, hi mgl32.Vec2
	first := true
	for i := range bones {
		points[i] = view.project(bones[i].WorldPosition())
		if bones[i].IsInvisible() {
			continue
		}
		if first {
			lo, hi, first = points[i], points[i], false
			continue
		}
		for k := 0; k < 2; k++ {
			lo[k] = min(lo[k], points[i][k])
			hi[k] = max(hi[k], points[i][k])
		}
	}

	if !first {
		extent := max(hi[0]-lo[0], hi[1]-lo[1])
		if extent < 1e-3 {
			extent = 1
		}
		c.center = lo.Add(hi).Mul(0.5)
		c.scale = c.size * (1 - 2*opt.Margin) / extent

		lineWidth := opt.Supersample / 2
		for i := range bones {
			b := &bones[i]
			if b.IsInvisible() || b.Parent == pose.NoBone || bones[b.Parent].IsInvisible() {
				continue
			}
			col := opt.Bone
			if b.IsUnderSimulation() {
				col = opt.Simulated
			}
			c.line(points[b.Parent], points[i], col, lineWidth)
		}
		for i := range bones {
			if bones[i].IsInvisible() {
				continue
			}
			col := opt.Joint
			if bones[i].IsUnderSimulation() {
				col = opt.Simulated
			}
			x, y := c.toPixel(points[i])
			c.dot(x, y, col, opt.JointSize*opt.Supersample)
		}
	}

	if opt.Supersample == 1 {
		return c.img
	}
	dst := image.NewRGBA(image.Rect(0, 0, opt.Size, opt.Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), c.img, c.img.Bounds(), draw.Src, nil)
	return dst
}

func EncodeWebP(w io.Writer, img image.Image) error {
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return errors.Wrapf(err, "Failed to encode webp")
	}
	return nil
}
