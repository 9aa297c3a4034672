package photo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

// headerOnlyPNG returns a grayscale PNG that declares w x h pixels but carries
// no image data, so it is a few dozen bytes however large it claims to be.
func headerOnlyPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth, color type 0 (gray)
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestDecodeRefusesOversizedImages(t *testing.T) {
	data := headerOnlyPNG(8000, 8000)
	if len(data) > 100 {
		t.Fatalf("fixture is %d bytes, want a tiny file", len(data))
	}
	if _, err := Decode(data); !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("Decode error = %v, want ErrTooManyPixels", err)
	}

	_, err := Validate(data, "image/png")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate error = %v, want *domain.ValidationError", err)
	}
	if !strings.Contains(ve.Message, "dimensions are too large") {
		t.Fatalf("Validate message = %q", ve.Message)
	}

	// Just under the cap is decoded normally and fails for its own reasons.
	if _, err := Decode(headerOnlyPNG(5000, 5000)); err == nil || errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("Decode(5000x5000 header) error = %v, want a plain decode error", err)
	}
}

func noisyImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7 + y*13) % 256)
			img.Set(x, y, color.NRGBA{R: v, G: 255 - v, B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func flatImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 120, G: 90, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, noisyImage(640, 600), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	tests := []struct {
		name    string
		data    []byte
		mime    string
		wantErr string
	}{
		{name: "valid png", data: encodePNG(t, noisyImage(700, 700)), mime: "image/png"},
		{name: "valid jpeg", data: jpg.Bytes(), mime: "image/jpeg"},
		{name: "bad mime", data: encodePNG(t, noisyImage(700, 700)), mime: "application/pdf", wantErr: "Unsupported image format"},
		{name: "too small", data: encodePNG(t, flatImage(400, 400)), mime: "image/png", wantErr: "Minimum size"},
		{name: "one side too small", data: encodePNG(t, noisyImage(900, 500)), mime: "image/png", wantErr: "Minimum size"},
		{name: "flat", data: encodePNG(t, flatImage(600, 600)), mime: "image/png", wantErr: "quality is too low"},
		{name: "garbage", data: []byte("not an image"), mime: "image/png", wantErr: "Invalid image file"},
		{name: "too large", data: make([]byte, MaxUploadBytes+1), mime: "image/png", wantErr: "Maximum size is 10MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Validate(tt.data, tt.mime)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				if img == nil {
					t.Fatalf("Validate returned nil image")
				}
				return
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if !strings.Contains(verr.Message, tt.wantErr) {
				t.Fatalf("message = %q, want substring %q", verr.Message, tt.wantErr)
			}
		})
	}
}

func TestResolveMIME(t *testing.T) {
	pngBytes := encodePNG(t, flatImage(8, 8))
	tests := []struct {
		declared string
		want     string
	}{
		{declared: "image/png", want: "image/png"},
		{declared: "IMAGE/JPEG; charset=binary", want: "image/jpeg"},
		{declared: "image/jpg", want: "image/jpeg"},
		{declared: "", want: "image/png"},
		{declared: "application/octet-stream", want: "image/png"},
	}
	for _, tt := range tests {
		if got := ResolveMIME(tt.declared, pngBytes); got != tt.want {
			t.Fatalf("ResolveMIME(%q) = %q, want %q", tt.declared, got, tt.want)
		}
	}
}

func TestExtension(t *testing.T) {
	if Extension("image/jpeg") != "jpg" || Extension("image/webp") != "webp" || Extension("image/gif") != "" {
		t.Fatalf("unexpected extension mapping")
	}
}

func TestLuminanceVariance(t *testing.T) {
	if v := LuminanceVariance(flatImage(32, 32)); v > 0.001 {
		t.Fatalf("flat variance = %v, want 0", v)
	}
	if v := LuminanceVariance(noisyImage(64, 64)); v < minLuminanceVariance {
		t.Fatalf("noisy variance = %v, want >= %v", v, minLuminanceVariance)
	}
}

func TestBuildFinalOutputs1024Square(t *testing.T) {
	overlay := image.NewNRGBA(image.Rect(0, 0, 1024, 1024))
	for i := 0; i < len(overlay.Pix); i += 4 {
		overlay.Pix[i], overlay.Pix[i+1], overlay.Pix[i+2], overlay.Pix[i+3] = 255, 128, 0, 40
	}
	frame := NewFrame(overlay)

	out, err := frame.BuildFinal(noisyImage(1600, 900))
	if err != nil {
		t.Fatalf("BuildFinal: %v", err)
	}
	result, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if format != "png" {
		t.Fatalf("format = %q, want png", format)
	}
	if b := result.Bounds(); b.Dx() != OutputSize || b.Dy() != OutputSize {
		t.Fatalf("size = %dx%d, want 1024x1024", b.Dx(), b.Dy())
	}
}

func TestNormalizeCropsCenter(t *testing.T) {
	// Left and right thirds are black, the middle is white.
	src := image.NewNRGBA(image.Rect(0, 0, 300, 100))
	for y := 0; y < 100; y++ {
		for x := 100; x < 200; x++ {
			src.Set(x, y, color.White)
		}
		for x := 0; x < 100; x++ {
			src.Set(x, y, color.Black)
			src.Set(x+200, y, color.Black)
		}
	}
	out := Normalize(src)
	if b := out.Bounds(); b.Dx() != OutputSize || b.Dy() != OutputSize {
		t.Fatalf("size = %v", b)
	}
	c := out.NRGBAAt(OutputSize/2, OutputSize/2)
	if c.R < 250 {
		t.Fatalf("center pixel = %v, want white", c)
	}
}
