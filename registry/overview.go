package registry

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kwv/anchormesh/geometry"
)

// OverviewRenderer draws a top-down plan of the registry: world X to the
// right and world -Z up the page.
type OverviewRenderer struct {
	Scale       float64           // canvas units per metre
	Padding     float64           // metres around the content
	Resolution  canvas.Resolution // PNG only
	StrokeWidth float64           // canvas units
	Labels      bool              // PNG only
	Segments    int               // polyline segments per full circle
	Tolerance   float64           // Douglas-Peucker tolerance in metres, 0 keeps every point
}

// NewOverviewRenderer returns a renderer with defaults suited to room-sized
// scenes.
func NewOverviewRenderer() *OverviewRenderer {
	return &OverviewRenderer{
		Scale:       100,
		Padding:     0.5,
		Resolution:  canvas.DPI(50),
		StrokeWidth: 2,
		Labels:      true,
		Segments:    48,
		Tolerance:   0.002,
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// outline is one record projected onto the floor plane.
type outline struct {
	name   string
	color  color.RGBA
	closed [][]orb.Point // filled polygons
	open   [][]orb.Point // stroked polylines
	width  float64       // stroke width override in metres, 0 for default
	label  orb.Point
}

// RenderSVG writes the overview as SVG.
func (r *OverviewRenderer) RenderSVG(w io.Writer, records []Record) error {
	outlines := r.outlines(records)
	bound := r.bound(outlines)
	width, height := r.size(bound)

	s := svg.New(w, width, height, nil)
	r.draw(s, outlines, bound, width, height)
	return s.Close()
}

// RenderPNG writes the overview as PNG.
func (r *OverviewRenderer) RenderPNG(w io.Writer, records []Record) error {
	outlines := r.outlines(records)
	bound := r.bound(outlines)
	width, height := r.size(bound)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.draw(rast, outlines, bound, width, height)
	if r.Labels {
		r.drawLabels(rast, outlines, bound, width, height)
	}
	return png.Encode(w, rast)
}

func (r *OverviewRenderer) size(b orb.Bound) (float64, float64) {
	return (b.Max[0]-b.Min[0]+2*r.Padding)*r.Scale, (b.Max[1]-b.Min[1]+2*r.Padding)*r.Scale
}

// toCanvas maps a floor point to canvas coordinates (origin bottom-left).
func (r *OverviewRenderer) toCanvas(p orb.Point, b orb.Bound) (float64, float64) {
	return (p[0] - b.Min[0] + r.Padding) * r.Scale, (p[1] - b.Min[1] + r.Padding) * r.Scale
}

func (r *OverviewRenderer) bound(outlines []outline) orb.Bound {
	var all orb.MultiPoint
	for _, o := range outlines {
		for _, ring := range o.closed {
			all = append(all, ring...)
		}
		for _, line := range o.open {
			all = append(all, line...)
		}
	}
	if len(all) == 0 {
		return orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	}
	return all.Bound()
}

func (r *OverviewRenderer) draw(dst canvasRenderer, outlines []outline, b orb.Bound, width, height float64) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	bg.Stroke = canvas.Paint{Color: canvas.Transparent}
	dst.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	r.drawGrid(dst, b, width, height)

	for _, o := range outlines {
		fill := canvas.DefaultStyle
		fill.Fill = canvas.Paint{Color: color.RGBA{R: o.color.R / 3, G: o.color.G / 3, B: o.color.B / 3, A: 85}}
		fill.Stroke = canvas.Paint{Color: o.color}
		fill.StrokeWidth = r.StrokeWidth
		for _, ring := range o.closed {
			dst.RenderPath(r.path(ring, b, true), fill, canvas.Identity)
		}

		line := canvas.DefaultStyle
		line.Fill = canvas.Paint{Color: canvas.Transparent}
		line.Stroke = canvas.Paint{Color: o.color}
		line.StrokeWidth = r.StrokeWidth
		if o.width > 0 {
			line.StrokeWidth = o.width * r.Scale
			line.Stroke = canvas.Paint{Color: color.RGBA{R: o.color.R / 2, G: o.color.G / 2, B: o.color.B / 2, A: 128}}
		}
		for _, pl := range o.open {
			dst.RenderPath(r.path(pl, b, false), line, canvas.Identity)
		}

		x, y := r.toCanvas(o.label, b)
		dot := canvas.DefaultStyle
		dot.Fill = canvas.Paint{Color: o.color}
		dot.Stroke = canvas.Paint{Color: canvas.Transparent}
		dst.RenderPath(canvas.Circle(r.StrokeWidth*1.5).Translate(x, y), dot, canvas.Identity)
	}
}

// drawGrid draws a one-metre grid.
func (r *OverviewRenderer) drawGrid(dst canvasRenderer, b orb.Bound, width, height float64) {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: color.RGBA{R: 225, G: 225, B: 225, A: 255}}
	style.StrokeWidth = 0.5

	for gx := math.Ceil(b.Min[0] - r.Padding); gx <= b.Max[0]+r.Padding; gx++ {
		x, _ := r.toCanvas(orb.Point{gx, 0}, b)
		p := &canvas.Path{}
		p.MoveTo(x, 0)
		p.LineTo(x, height)
		dst.RenderPath(p, style, canvas.Identity)
	}
	for gy := math.Ceil(b.Min[1] - r.Padding); gy <= b.Max[1]+r.Padding; gy++ {
		_, y := r.toCanvas(orb.Point{0, gy}, b)
		p := &canvas.Path{}
		p.MoveTo(0, y)
		p.LineTo(width, y)
		dst.RenderPath(p, style, canvas.Identity)
	}
}

func (r *OverviewRenderer) path(pts []orb.Point, b orb.Bound, closed bool) *canvas.Path {
	p := &canvas.Path{}
	for i, pt := range pts {
		x, y := r.toCanvas(pt, b)
		if i == 0 {
			p.MoveTo(x, y)
		} else {
			p.LineTo(x, y)
		}
	}
	if closed {
		p.Close()
	}
	return p
}

func (r *OverviewRenderer) drawLabels(img *rasterizer.Rasterizer, outlines []outline, b orb.Bound, width, height float64) {
	bounds := img.Bounds()
	sx := float64(bounds.Dx()) / width
	sy := float64(bounds.Dy()) / height

	for _, o := range outlines {
		x, y := r.toCanvas(o.label, b)
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.RGBA{R: 30, G: 30, B: 30, A: 255}),
			Face: basicfont.Face7x13,
			Dot: fixed.Point26_6{
				X: fixed.I(int(x*sx) + 6),
				Y: fixed.I(int((height-y)*sy) - 4),
			},
		}
		d.DrawString(o.name)
	}
}

// simplify drops points that do not change a polyline by more than the
// tolerance. Rims of a cylinder lying on its side project to straight lines.
func (r *OverviewRenderer) simplify(pl []orb.Point) []orb.Point {
	if r.Tolerance <= 0 || len(pl) < 3 {
		return pl
	}
	ls := orb.LineString(pl)
	if out, ok := simplify.DouglasPeucker(r.Tolerance).Simplify(ls.Clone()).(orb.LineString); ok {
		return out
	}
	return pl
}

// floor projects a world point onto the plan.
func floor(v geometry.Vec3) orb.Point {
	return orb.Point{v.X, -v.Z}
}

// ring samples a circle of the given radius in the pose's local XZ plane at
// local height y.
func (r *OverviewRenderer) ring(pose geometry.Pose, radius, y float64) []orb.Point {
	return r.arc(pose, radius, y, 0, geometry.FullTurn)
}

func (r *OverviewRenderer) arc(pose geometry.Pose, radius, y, begin, delta float64) []orb.Point {
	n := int(math.Ceil(float64(r.Segments) * delta / geometry.FullTurn))
	if n < 2 {
		n = 2
	}
	pts := make([]orb.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		a := begin + delta*float64(i)/float64(n)
		pts = append(pts, floor(pose.ToWorld(geometry.Vec3{X: radius * math.Cos(a), Y: y, Z: radius * math.Sin(a)})))
	}
	return pts
}

func (r *OverviewRenderer) outlines(records []Record) []outline {
	out := make([]outline, 0, len(records))
	for _, rec := range records {
		if rec.Primitive == nil {
			continue
		}
		o := outline{name: rec.Name, color: rec.Color(), label: floor(rec.Primitive.Center())}

		switch p := rec.Primitive.(type) {
		case geometry.Plane:
			c := p.Corners()
			o.closed = [][]orb.Point{{floor(c[0]), floor(c[1]), floor(c[2]), floor(c[3])}}
		case geometry.Sphere:
			o.closed = [][]orb.Point{r.ring(geometry.Translation(p.Center()), p.Radius, 0)}
		case geometry.Cylinder:
			o.open = [][]orb.Point{
				r.ring(p.Pose, p.Radius, p.Height/2),
				r.ring(p.Pose, p.Radius, -p.Height/2),
				{floor(p.Top()), floor(p.Bottom())},
			}
		case geometry.Cone:
			base := r.ring(p.Pose, p.BottomRadius, p.Height/2)
			o.open = [][]orb.Point{base, {floor(p.Top()), floor(p.Bottom())}}
			if p.TopRadius > 0 {
				o.open = append(o.open, r.ring(p.Pose, p.TopRadius, -p.Height/2))
			}
			for _, i := range []int{0, len(base) / 4, len(base) / 2, 3 * len(base) / 4} {
				o.open = append(o.open, []orb.Point{floor(p.Top()), base[i]})
			}
		case geometry.Torus:
			delta := rec.TorusDelta
			if delta <= 0 {
				delta = geometry.FullTurn
			}
			o.open = [][]orb.Point{r.arc(p.Pose, p.MeanRadius, 0, rec.TorusBegin, delta)}
			o.width = 2 * p.TubeRadius
		}
		for i, pl := range o.open {
			o.open[i] = r.simplify(pl)
		}
		out = append(out, o)
	}
	return out
}
