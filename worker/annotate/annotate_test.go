package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"go.uber.org/zap/zaptest"

	"gridinspect/worker/clients"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestIsDefect(t *testing.T) {
	tests := []struct {
		class string
		want  bool
	}{
		{"bad_insulator", true},
		{"damaged_insulator", true},
		{"insulator", false},
		{"pole", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsDefect(tt.class); got != tt.want {
			t.Errorf("IsDefect(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestCountDefects(t *testing.T) {
	detections := []clients.Detection{
		{ClassName: "bad_insulator", Confidence: 0.9},
		{ClassName: "insulator", Confidence: 0.8},
		{ClassName: "damaged_insulator", Confidence: 0.7},
		{ClassName: "tower", Confidence: 0.95},
	}

	if got := CountDefects(detections); got != 2 {
		t.Errorf("CountDefects = %d, want 2", got)
	}
}

func TestAnnotator_Annotate_PreservesDimensions(t *testing.T) {
	annotator := NewAnnotator("", zaptest.NewLogger(t))
	src := testJPEG(t, 320, 240)

	out, err := annotator.Annotate(src, []clients.Detection{
		{ClassName: "bad_insulator", Confidence: 0.91, BBox: []float64{10, 10, 100, 80}},
		{ClassName: "insulator", Confidence: 0.85, BBox: []float64{120, 40, 200, 120}},
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode annotated image: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("Expected jpeg output, got %s", format)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Errorf("Expected 320x240, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestAnnotator_Annotate_DrawsBoxes(t *testing.T) {
	annotator := NewAnnotator("", zaptest.NewLogger(t))
	src := testJPEG(t, 200, 200)

	out, err := annotator.Annotate(src, []clients.Detection{
		{ClassName: "bad_insulator", Confidence: 0.9, BBox: []float64{50, 50, 150, 150}},
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode annotated image: %v", err)
	}

	// The box edge at x=50,y=100 must be visibly red against the grey fill.
	r, g, b, _ := img.At(50, 100).RGBA()
	if r>>8 <= g>>8 || r>>8 <= b>>8 {
		t.Errorf("Expected red box edge at (50,100), got r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestAnnotator_Annotate_SkipsShortBBox(t *testing.T) {
	annotator := NewAnnotator("", zaptest.NewLogger(t))
	src := testJPEG(t, 100, 100)

	out, err := annotator.Annotate(src, []clients.Detection{
		{ClassName: "bad_insulator", Confidence: 0.9, BBox: []float64{10, 10}},
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}
	if len(out) == 0 {
		t.Error("Expected encoded output even when boxes are skipped")
	}
}

func TestAnnotator_Annotate_InvalidImage(t *testing.T) {
	annotator := NewAnnotator("", zaptest.NewLogger(t))

	if _, err := annotator.Annotate([]byte("not an image"), nil); err == nil {
		t.Error("Expected error for undecodable input")
	}
}
