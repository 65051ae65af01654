package intake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dicomBuilder writes minimal little endian DICOM files for tests.
type dicomBuilder struct {
	buf      bytes.Buffer
	explicit bool
}

func newDICOM(syntax string) *dicomBuilder {
	b := &dicomBuilder{explicit: true}
	b.buf.Write(make([]byte, 128))
	b.buf.WriteString("DICM")
	if syntax != "" {
		b.element(TagTransferSyntax, "UI", padEven([]byte(syntax)))
	}
	b.explicit = syntax != SyntaxImplicitLittle
	return b
}

func (b *dicomBuilder) element(t Tag, vr string, value []byte) *dicomBuilder {
	binary.Write(&b.buf, binary.LittleEndian, t.Group)
	binary.Write(&b.buf, binary.LittleEndian, t.Element)
	explicit := b.explicit || t.Group == 0x0002
	switch {
	case !explicit:
		binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	case longVRs[vr]:
		b.buf.WriteString(vr)
		b.buf.Write([]byte{0, 0})
		binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	default:
		b.buf.WriteString(vr)
		binary.Write(&b.buf, binary.LittleEndian, uint16(len(value)))
	}
	b.buf.Write(value)
	return b
}

func (b *dicomBuilder) us(t Tag, v uint16) *dicomBuilder {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return b.element(t, "US", out)
}

func (b *dicomBuilder) raw(p []byte) *dicomBuilder {
	b.buf.Write(p)
	return b
}

func (b *dicomBuilder) bytes() []byte { return b.buf.Bytes() }

func padEven(p []byte) []byte {
	if len(p)%2 == 1 {
		return append(p, 0)
	}
	return p
}

func tagBytes(t Tag, length uint32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out, t.Group)
	binary.LittleEndian.PutUint16(out[2:], t.Element)
	binary.LittleEndian.PutUint32(out[4:], length)
	return out
}

func TestDecodeDICOM_Explicit8Bit(t *testing.T) {
	pixels := []byte{0, 10, 20, 30, 40, 50}
	data := newDICOM(SyntaxExplicitLittle).
		us(TagSamplesPerPixel, 1).
		element(TagPhotometric, "CS", padEven([]byte("MONOCHROME2"))).
		us(TagRows, 2).
		us(TagColumns, 3).
		us(TagBitsAllocated, 8).
		element(TagPixelData, "OB", pixels).
		bytes()

	img, err := DecodeDICOM(data)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Rows)
	assert.Equal(t, 3, img.Columns)
	assert.Equal(t, 8, img.BitsAllocated)
	assert.Equal(t, SyntaxExplicitLittle, img.TransferSyn)
	assert.Equal(t, pixels, img.Image.Pix)
	assert.Equal(t, uint8(50), img.Image.GrayAt(2, 1).Y)
}

func TestDecodeDICOM_Implicit16BitScaled(t *testing.T) {
	pixels := make([]byte, 8)
	for i, v := range []uint16{100, 200, 300, 1100} {
		binary.LittleEndian.PutUint16(pixels[i*2:], v)
	}
	data := newDICOM(SyntaxImplicitLittle).
		us(TagRows, 2).
		us(TagColumns, 2).
		us(TagBitsAllocated, 16).
		element(TagPixelData, "OW", pixels).
		bytes()

	img, err := DecodeDICOM(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 25, 51, 255}, img.Image.Pix)
}

func TestDecodeDICOM_Monochrome1Inverted(t *testing.T) {
	data := newDICOM(SyntaxExplicitLittle).
		element(TagPhotometric, "CS", padEven([]byte("MONOCHROME1"))).
		us(TagRows, 1).
		us(TagColumns, 2).
		element(TagPixelData, "OB", []byte{0, 255}).
		bytes()

	img, err := DecodeDICOM(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0}, img.Image.Pix)
}

func TestDecodeDICOM_NoPreamble(t *testing.T) {
	b := &dicomBuilder{explicit: true}
	data := b.us(TagRows, 1).us(TagColumns, 1).element(TagPixelData, "OB", []byte{7, 0}).bytes()

	img, err := DecodeDICOM(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), img.Image.Pix[0])
}

func TestDecodeDICOM_SkipsUndefinedLengthSequence(t *testing.T) {
	b := newDICOM(SyntaxExplicitLittle)
	// (0008,1140) SQ with undefined length containing one undefined-length item.
	b.raw([]byte{0x08, 0x00, 0x40, 0x11, 'S', 'Q', 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	b.raw(tagBytes(tagItem, undefinedLength))
	b.element(Tag{0x0008, 0x1150}, "UI", padEven([]byte("1.2.3")))
	b.raw(tagBytes(tagItemDelim, 0))
	b.raw(tagBytes(tagSequenceDelim, 0))
	data := b.us(TagRows, 1).us(TagColumns, 2).element(TagPixelData, "OB", []byte{1, 2}).bytes()

	img, err := DecodeDICOM(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, img.Image.Pix)
}

func TestDecodeDICOM_MissingTags(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Tag
	}{
		{
			name: "missing rows",
			data: newDICOM(SyntaxExplicitLittle).us(TagColumns, 2).element(TagPixelData, "OB", []byte{1, 2}).bytes(),
			want: TagRows,
		},
		{
			name: "missing columns",
			data: newDICOM(SyntaxExplicitLittle).us(TagRows, 2).element(TagPixelData, "OB", []byte{1, 2}).bytes(),
			want: TagColumns,
		},
		{
			name: "missing pixel data",
			data: newDICOM(SyntaxExplicitLittle).us(TagRows, 1).us(TagColumns, 2).bytes(),
			want: TagPixelData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeDICOM(tt.data)
			assert.Nil(t, img)
			var missing *MissingTagError
			require.True(t, errors.As(err, &missing), "expected MissingTagError, got %v", err)
			assert.Equal(t, tt.want, missing.Tag)
		})
	}
}

func TestDecodeDICOM_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "jpeg baseline syntax",
			data: newDICOM("1.2.840.10008.1.2.4.50").us(TagRows, 1).bytes(),
		},
		{
			name: "big endian syntax",
			data: newDICOM(SyntaxExplicitBig).us(TagRows, 1).bytes(),
		},
		{
			name: "encapsulated pixel data",
			data: newDICOM(SyntaxExplicitLittle).us(TagRows, 1).us(TagColumns, 1).
				raw([]byte{0xE0, 0x7F, 0x10, 0x00, 'O', 'B', 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}).bytes(),
		},
		{
			name: "truncated pixel data",
			data: newDICOM(SyntaxExplicitLittle).us(TagRows, 4).us(TagColumns, 4).element(TagPixelData, "OB", []byte{1, 2}).bytes(),
		},
		{
			name: "color image",
			data: newDICOM(SyntaxExplicitLittle).us(TagSamplesPerPixel, 3).us(TagRows, 1).us(TagColumns, 1).
				element(TagPixelData, "OB", []byte{1, 2, 3, 0}).bytes(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDICOM(tt.data)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
		})
	}
}

func TestDecodeDICOM_OversizedDimensionsRejectedBeforeAllocation(t *testing.T) {
	data := newDICOM(SyntaxExplicitLittle).
		us(TagRows, 0xFFFF).
		us(TagColumns, 0xFFFF).
		us(TagBitsAllocated, 8).
		element(TagPixelData, "OB", []byte{1, 2, 3, 4}).
		bytes()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := DecodeDICOM(data)
	runtime.ReadMemStats(&after)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
	assert.Equal(t, "truncated pixel data", decodeErr.Reason)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestTagName(t *testing.T) {
	assert.Equal(t, "(0028,0010)", TagRows.String())
	assert.Equal(t, "Rows", TagRows.Name())
	assert.Equal(t, "Unknown", Tag{0x0010, 0x0010}.Name())
}
