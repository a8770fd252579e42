package export

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"citewise/internal/models"
)

const (
	mapWidth      = 1600
	mapHeight     = 1100
	mapRadius     = 360
	lineHeight    = 15
	boxPadding    = 8
	maxLabelRunes = 32
	maxSubtopics  = 6
)

var (
	mapBackground = color.RGBA{0xfa, 0xfa, 0xfc, 0xff}
	centralFill   = color.RGBA{0x2b, 0x4c, 0x7e, 0xff}
	connector     = color.RGBA{0x9a, 0xa5, 0xb1, 0xff}
	branchText    = color.RGBA{0x1f, 0x29, 0x33, 0xff}
	subtopicText  = color.RGBA{0x4a, 0x55, 0x60, 0xff}
)

var branchFills = []color.RGBA{
	{0xd6, 0xe9, 0xff, 0xff},
	{0xd8, 0xf3, 0xdc, 0xff},
	{0xff, 0xe8, 0xcc, 0xff},
	{0xf3, 0xd9, 0xfa, 0xff},
	{0xff, 0xf3, 0xbf, 0xff},
	{0xd0, 0xf0, 0xf0, 0xff},
}

// WriteMindMapPNG renders the central topic with branches placed on a
// circle around it and each branch's subtopics listed beneath it.
func WriteMindMapPNG(w io.Writer, mm *models.MindMap) error {
	img := image.NewRGBA(image.Rect(0, 0, mapWidth, mapHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: mapBackground}, image.Point{}, draw.Src)

	cx, cy := mapWidth/2, mapHeight/2
	n := len(mm.MainBranches)

	type placed struct {
		x, y   int
		branch models.MindMapBranch
	}
	nodes := make([]placed, 0, n)
	for i, b := range mm.MainBranches {
		angle := -math.Pi/2 + 2*math.Pi*float64(i)/float64(max(n, 1))
		x := cx + int(mapRadius*1.45*math.Cos(angle))
		y := cy + int(mapRadius*math.Sin(angle))
		nodes = append(nodes, placed{x: x, y: y, branch: b})
	}

	// Connectors go underneath the boxes.
	lines := vector.NewRasterizer(mapWidth, mapHeight)
	for _, node := range nodes {
		strokeLine(lines, float32(cx), float32(cy), float32(node.x), float32(node.y), 2.5)
	}
	lines.Draw(img, img.Bounds(), image.NewUniform(connector), image.Point{})

	drawLabelBox(img, cx, cy, mm.CentralTopic, centralFill, color.White)

	for i, node := range nodes {
		fill := branchFills[i%len(branchFills)]
		bottom := drawLabelBox(img, node.x, node.y, node.branch.Title, fill, branchText)

		subs := node.branch.Subtopics
		if len(subs) > maxSubtopics {
			subs = append(subs[:maxSubtopics:maxSubtopics], "...")
		}
		y := bottom + lineHeight + 2
		for _, sub := range subs {
			label := "- " + truncateLabel(sub)
			drawText(img, node.x-textWidth(label)/2, y, label, subtopicText)
			y += lineHeight
		}
	}

	return png.Encode(w, img)
}

// drawLabelBox draws a filled box centred on (x, y) and returns its bottom
// edge.
func drawLabelBox(img draw.Image, x, y int, label string, fill color.Color, text color.Color) int {
	label = truncateLabel(label)
	width := textWidth(label) + 2*boxPadding
	height := lineHeight + 2*boxPadding
	rect := image.Rect(x-width/2, y-height/2, x+width/2, y+height/2)
	draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Src)
	drawText(img, rect.Min.X+boxPadding, rect.Min.Y+boxPadding+11, label, text)
	return rect.Max.Y
}

func drawText(img draw.Image, x, baseline int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

func truncateLabel(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLabelRunes {
		return s
	}
	return string(runes[:maxLabelRunes-3]) + "..."
}

// strokeLine adds a line of the given width to the rasterizer as a thin
// quadrilateral.
func strokeLine(r *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	r.MoveTo(x0+nx, y0+ny)
	r.LineTo(x1+nx, y1+ny)
	r.LineTo(x1-nx, y1-ny)
	r.LineTo(x0-nx, y0-ny)
	r.ClosePath()
}
