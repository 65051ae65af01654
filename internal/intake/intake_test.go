package intake

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumoai/backend/internal/models"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestInspect_Raster(t *testing.T) {
	inspector := NewInspector(nil, Options{})

	tests := []struct {
		name        string
		fileName    string
		contentType string
		data        []byte
		wantFormat  models.ImageFormat
		wantWarning bool
	}{
		{
			name:       "png by extension",
			fileName:   "xray.png",
			data:       pngBytes(t, 600, 600),
			wantFormat: models.FormatPNG,
		},
		{
			name:        "jpeg by mime type",
			fileName:    "upload",
			contentType: "image/jpeg",
			data:        jpegBytes(t, 640, 512),
			wantFormat:  models.FormatJPEG,
		},
		{
			name:        "generic mime falls back to extension",
			fileName:    "scan.JPG",
			contentType: "application/octet-stream",
			data:        jpegBytes(t, 512, 512),
			wantFormat:  models.FormatJPEG,
		},
		{
			name:        "small image warns",
			fileName:    "thumb.png",
			data:        pngBytes(t, 200, 300),
			wantFormat:  models.FormatPNG,
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := inspector.Inspect(tt.fileName, tt.contentType, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, ins.Format)
			assert.Nil(t, ins.Preview)
			if tt.wantWarning {
				require.Len(t, ins.Warnings, 1)
				assert.Contains(t, ins.Warnings[0], "below the recommended 512x512")
			} else {
				assert.Empty(t, ins.Warnings)
			}
		})
	}
}

func TestInspect_Dimensions(t *testing.T) {
	ins, err := NewInspector(nil, Options{}).Inspect("chest.png", "image/png", pngBytes(t, 700, 600))
	require.NoError(t, err)
	assert.Equal(t, 700, ins.Width)
	assert.Equal(t, 600, ins.Height)
	assert.Equal(t, "image/png", ins.ContentType)
}

func TestInspect_Rejections(t *testing.T) {
	inspector := NewInspector(nil, Options{MaxSize: 1024})

	tests := []struct {
		name     string
		fileName string
		data     []byte
		wantErr  error
	}{
		{name: "text file", fileName: "notes.txt", data: []byte("hello"), wantErr: ErrUnsupportedFormat},
		{name: "no extension", fileName: "README", data: []byte("hello"), wantErr: ErrUnsupportedFormat},
		{name: "empty", fileName: "xray.png", data: nil, wantErr: ErrEmptyFile},
		{name: "too large", fileName: "xray.png", data: make([]byte, 2048), wantErr: ErrFileTooLarge},
		{name: "png name with text content", fileName: "fake.png", data: []byte("not an image at all"), wantErr: ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := inspector.Inspect(tt.fileName, "", tt.data)
			assert.Nil(t, ins)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestInspect_UnsupportedListsAcceptedExtensions(t *testing.T) {
	_, err := NewInspector(nil, Options{}).Inspect("notes.txt", "text/plain", []byte("hello"))
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.Contains(t, err.Error(), "notes.txt (accepted: .jpg, .jpeg, .png, .dcm, .dicom)")
}

func TestInspect_CorruptPNGHeader(t *testing.T) {
	data := pngBytes(t, 10, 10)[:20]
	_, err := NewInspector(nil, Options{}).Inspect("broken.png", "", data)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr), "got %v", err)
	assert.Equal(t, models.FormatPNG, decodeErr.Format)
}

func TestInspect_DICOMPreview(t *testing.T) {
	pixels := make([]byte, 16*8)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	data := newDICOM(SyntaxExplicitLittle).
		us(TagRows, 8).
		us(TagColumns, 16).
		element(TagPixelData, "OB", pixels).
		bytes()

	ins, err := NewInspector(nil, Options{}).Inspect("study.dcm", "", data)
	require.NoError(t, err)
	assert.Equal(t, models.FormatDICOM, ins.Format)
	assert.Equal(t, 16, ins.Width)
	assert.Equal(t, 8, ins.Height)
	assert.Equal(t, "image/png", ins.PreviewContentType)
	assert.Len(t, ins.Warnings, 1)

	preview, err := png.Decode(bytes.NewReader(ins.Preview))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), preview.Bounds())
}

func TestInspect_DICOMMissingTag(t *testing.T) {
	data := newDICOM(SyntaxExplicitLittle).us(TagColumns, 4).bytes()
	_, err := NewInspector(nil, Options{}).Inspect("study.dicom", "application/dicom", data)
	var missing *MissingTagError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, TagRows, missing.Tag)
	assert.Equal(t, "Invalid DICOM file: missing Rows (0028,0010).", UserMessage(err))
}

func TestRenderPreview_Downscales(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 400, 100))
	out, err := RenderPreview(img, 100)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 25, decoded.Bounds().Dy())
}

func TestRegistry_Detect(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		fileName    string
		contentType string
		want        models.ImageFormat
		ok          bool
	}{
		{"a.jpeg", "", models.FormatJPEG, true},
		{"a.jpg", "", models.FormatJPEG, true},
		{"a.PNG", "", models.FormatPNG, true},
		{"a.dcm", "", models.FormatDICOM, true},
		{"a.bin", "application/dicom", models.FormatDICOM, true},
		{"a", "image/png; charset=binary", models.FormatPNG, true},
		{"a.gif", "image/gif", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.fileName+"|"+tt.contentType, func(t *testing.T) {
			f, ok := r.Detect(tt.fileName, tt.contentType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, f.Name)
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Unsupported file format. Please upload a JPEG, PNG or DICOM image.", UserMessage(ErrUnsupportedFormat))
	assert.Equal(t, "File is too large.", UserMessage(ErrFileTooLarge))
}
