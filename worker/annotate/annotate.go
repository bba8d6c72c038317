package annotate

import (
	"bytes"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"go.uber.org/zap"

	"gridinspect/worker/clients"
)

// Classes that count as defects and get red boxes. Everything else the model
// reports is healthy hardware and gets green.
var defectClasses = map[string]bool{
	"bad_insulator":     true,
	"damaged_insulator": true,
}

var (
	defectColor  = [3]float64{239.0 / 255, 68.0 / 255, 68.0 / 255}
	healthyColor = [3]float64{34.0 / 255, 197.0 / 255, 94.0 / 255}
)

// Probed when no font path is configured. Labels are skipped if none exists.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
}

func IsDefect(className string) bool {
	return defectClasses[className]
}

// CountDefects returns how many detections are defect classes.
func CountDefects(detections []clients.Detection) int {
	count := 0
	for _, det := range detections {
		if IsDefect(det.ClassName) {
			count++
		}
	}
	return count
}

// Annotator draws detection boxes onto inspection photos.
type Annotator struct {
	fontPath string
	logger   *zap.Logger
}

func NewAnnotator(fontPath string, logger *zap.Logger) *Annotator {
	if fontPath == "" {
		fontPath = probeFont()
	}
	if fontPath == "" {
		logger.Warn("no annotation font found, boxes will be drawn without labels")
	}

	return &Annotator{fontPath: fontPath, logger: logger}
}

func probeFont() string {
	for _, path := range fontCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Annotate draws every detection onto the image and returns it as JPEG.
func (a *Annotator) Annotate(data []byte, detections []clients.Detection) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	dc := gg.NewContextForImage(src)
	width := float64(dc.Width())

	lineWidth := max(2.0, width/400)
	fontSize := max(14.0, width/80)

	hasFont := false
	if a.fontPath != "" {
		if err := dc.LoadFontFace(a.fontPath, fontSize); err != nil {
			a.logger.Warn("failed to load annotation font", zap.Error(err))
		} else {
			hasFont = true
		}
	}

	for _, det := range detections {
		if len(det.BBox) < 4 {
			continue
		}

		x1, y1, x2, y2 := det.BBox[0], det.BBox[1], det.BBox[2], det.BBox[3]

		rgb := healthyColor
		if IsDefect(det.ClassName) {
			rgb = defectColor
		}

		dc.SetRGB(rgb[0], rgb[1], rgb[2])
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		if !hasFont {
			continue
		}

		label := fmt.Sprintf("%s %.0f%%", det.ClassName, det.Confidence*100)
		tw, th := dc.MeasureString(label)

		// Label sits above the box unless the box touches the top edge.
		ly := y1 - 4
		if ly-th < 0 {
			ly = y1 + th + 4
		}

		dc.DrawRectangle(x1, ly-th-2, tw+8, th+6)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, x1+4, ly)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dc.Image(), imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}

	return buf.Bytes(), nil
}
