/*
DICOM preview decoding.

Only what is needed to show a grayscale preview is read:

	[Preamble]   - 128 bytes (optional) followed by "DICM"
	[File Meta]  - group 0002, always explicit VR little endian
	[Dataset]    - explicit or implicit VR little endian, per transfer syntax

From the dataset we take Rows (0028,0010), Columns (0028,0011), the pixel
layout tags and the raw Pixel Data (7FE0,0010). Sequences are skipped,
including undefined-length ones. Encapsulated (compressed) pixel data and big
endian transfer syntaxes are rejected.
*/

package intake

import (
	"encoding/binary"
	"fmt"
	"image"
	"strings"

	"github.com/pneumoai/backend/internal/models"
)

// Tag is a DICOM data element tag.
type Tag struct {
	Group   uint16
	Element uint16
}

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// Name returns the dictionary keyword for the tags this package knows.
func (t Tag) Name() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "Unknown"
}

var (
	TagTransferSyntax      = Tag{0x0002, 0x0010}
	TagSamplesPerPixel     = Tag{0x0028, 0x0002}
	TagPhotometric         = Tag{0x0028, 0x0004}
	TagRows                = Tag{0x0028, 0x0010}
	TagColumns             = Tag{0x0028, 0x0011}
	TagBitsAllocated       = Tag{0x0028, 0x0100}
	TagPixelRepresentation = Tag{0x0028, 0x0103}
	TagPixelData           = Tag{0x7FE0, 0x0010}

	tagItem          = Tag{0xFFFE, 0xE000}
	tagItemDelim     = Tag{0xFFFE, 0xE00D}
	tagSequenceDelim = Tag{0xFFFE, 0xE0DD}
)

var tagNames = map[Tag]string{
	TagTransferSyntax:      "TransferSyntaxUID",
	TagSamplesPerPixel:     "SamplesPerPixel",
	TagPhotometric:         "PhotometricInterpretation",
	TagRows:                "Rows",
	TagColumns:             "Columns",
	TagBitsAllocated:       "BitsAllocated",
	TagPixelRepresentation: "PixelRepresentation",
	TagPixelData:           "PixelData",
}

// Transfer syntax UIDs.
const (
	SyntaxImplicitLittle = "1.2.840.10008.1.2"
	SyntaxExplicitLittle = "1.2.840.10008.1.2.1"
	SyntaxDeflated       = "1.2.840.10008.1.2.1.99"
	SyntaxExplicitBig    = "1.2.840.10008.1.2.2"
)

const undefinedLength = 0xFFFFFFFF

// VRs using a 2 byte reserved field and a 4 byte length in explicit encoding.
var longVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OV": true, "OW": true,
	"SQ": true, "SV": true, "UC": true, "UN": true, "UR": true, "UT": true, "UV": true,
}

// DICOMImage is the decoded preview of a DICOM file.
type DICOMImage struct {
	Rows          int
	Columns       int
	BitsAllocated int
	Photometric   string
	TransferSyn   string
	Image         *image.Gray
}

type dicomReader struct {
	data     []byte
	pos      int
	explicit bool
	values   map[Tag][]byte
	syntax   string
}

type element struct {
	tag    Tag
	vr     string
	length uint32
	value  int // Offset of the value
}

// DecodeDICOM parses the header of a DICOM file and renders its pixel data
// as 8-bit grayscale.
func DecodeDICOM(data []byte) (*DICOMImage, error) {
	r := &dicomReader{
		data:   data,
		values: make(map[Tag][]byte),
	}

	hasMeta := false
	if len(data) >= 132 && string(data[128:132]) == "DICM" {
		r.pos = 132
		hasMeta = true
	}

	if err := r.readDataset(hasMeta); err != nil {
		return nil, err
	}
	return r.render()
}

func (r *dicomReader) readDataset(hasMeta bool) error {
	inMeta := hasMeta
	if !hasMeta {
		r.explicit = r.looksExplicit(r.pos)
	}

	for r.pos+8 <= len(r.data) {
		group := binary.LittleEndian.Uint16(r.data[r.pos:])
		if inMeta && group != 0x0002 {
			inMeta = false
			if err := r.applySyntax(); err != nil {
				return err
			}
		}

		el, next, err := r.readElement(r.pos, inMeta || r.explicit)
		if err != nil {
			return err
		}

		if el.tag == TagPixelData {
			if el.length == undefinedLength {
				return &DecodeError{Format: models.FormatDICOM, Reason: "compressed pixel data is not supported"}
			}
			r.values[el.tag] = r.data[el.value : el.value+int(el.length)]
			return nil
		}

		if el.length == undefinedLength {
			next, err = r.skipUndefined(el.value, inMeta || r.explicit)
			if err != nil {
				return err
			}
		} else if _, wanted := tagNames[el.tag]; wanted {
			r.values[el.tag] = r.data[el.value : el.value+int(el.length)]
			if el.tag == TagTransferSyntax {
				r.syntax = strings.TrimRight(string(r.values[el.tag]), "\x00 ")
			}
		}
		r.pos = next
	}

	if inMeta {
		// Meta header with no dataset.
		return r.applySyntax()
	}
	return nil
}

func (r *dicomReader) applySyntax() error {
	switch {
	case r.syntax == "" || r.syntax == SyntaxExplicitLittle:
		r.explicit = true
	case r.syntax == SyntaxImplicitLittle:
		r.explicit = false
	case r.syntax == SyntaxExplicitBig:
		return &DecodeError{Format: models.FormatDICOM, Reason: "big endian transfer syntax is not supported"}
	case r.syntax == SyntaxDeflated,
		strings.HasPrefix(r.syntax, "1.2.840.10008.1.2.4."),
		r.syntax == "1.2.840.10008.1.2.5":
		return &DecodeError{Format: models.FormatDICOM, Reason: "compressed transfer syntax " + r.syntax + " is not supported"}
	default:
		r.explicit = true
	}
	return nil
}

// looksExplicit guesses the encoding of a dataset without a meta header by
// checking whether the bytes after the first tag look like a VR.
func (r *dicomReader) looksExplicit(pos int) bool {
	if pos+6 > len(r.data) {
		return false
	}
	a, b := r.data[pos+4], r.data[pos+5]
	return a >= 'A' && a <= 'Z' && b >= 'A' && b <= 'Z'
}

func (r *dicomReader) readElement(pos int, explicit bool) (element, int, error) {
	if pos+8 > len(r.data) {
		return element{}, 0, truncated("element header")
	}
	el := element{tag: Tag{
		Group:   binary.LittleEndian.Uint16(r.data[pos:]),
		Element: binary.LittleEndian.Uint16(r.data[pos+2:]),
	}}

	switch {
	case el.tag.Group == 0xFFFE:
		// Item and delimiter tags never carry a VR.
		el.length = binary.LittleEndian.Uint32(r.data[pos+4:])
		el.value = pos + 8
	case explicit:
		el.vr = string(r.data[pos+4 : pos+6])
		if longVRs[el.vr] {
			if pos+12 > len(r.data) {
				return element{}, 0, truncated("element header")
			}
			el.length = binary.LittleEndian.Uint32(r.data[pos+8:])
			el.value = pos + 12
		} else {
			el.length = uint32(binary.LittleEndian.Uint16(r.data[pos+6:]))
			el.value = pos + 8
		}
	default:
		el.length = binary.LittleEndian.Uint32(r.data[pos+4:])
		el.value = pos + 8
	}

	if el.length == undefinedLength {
		return el, el.value, nil
	}
	end := el.value + int(el.length)
	if end > len(r.data) || end < el.value {
		return element{}, 0, truncated(el.tag.String())
	}
	return el, end, nil
}

// skipUndefined walks an undefined-length sequence starting at pos and
// returns the offset just past its delimiter.
func (r *dicomReader) skipUndefined(pos int, explicit bool) (int, error) {
	for pos+8 <= len(r.data) {
		el, next, err := r.readElement(pos, explicit)
		if err != nil {
			return 0, err
		}
		switch el.tag {
		case tagSequenceDelim:
			return next, nil
		case tagItem:
			if el.length == undefinedLength {
				next, err = r.skipItem(el.value, explicit)
				if err != nil {
					return 0, err
				}
			}
		default:
			if el.length == undefinedLength {
				// Encapsulated data or a nested undefined sequence.
				next, err = r.skipUndefined(el.value, explicit)
				if err != nil {
					return 0, err
				}
			}
		}
		pos = next
	}
	return 0, truncated("sequence")
}

func (r *dicomReader) skipItem(pos int, explicit bool) (int, error) {
	for pos+8 <= len(r.data) {
		el, next, err := r.readElement(pos, explicit)
		if err != nil {
			return 0, err
		}
		if el.tag == tagItemDelim {
			return next, nil
		}
		if el.length == undefinedLength {
			next, err = r.skipUndefined(el.value, explicit)
			if err != nil {
				return 0, err
			}
		}
		pos = next
	}
	return 0, truncated("item")
}

func (r *dicomReader) uint16Value(t Tag) (int, bool) {
	v, ok := r.values[t]
	if !ok || len(v) < 2 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint16(v)), true
}

func (r *dicomReader) render() (*DICOMImage, error) {
	rows, ok := r.uint16Value(TagRows)
	if !ok {
		return nil, &MissingTagError{Tag: TagRows}
	}
	cols, ok := r.uint16Value(TagColumns)
	if !ok {
		return nil, &MissingTagError{Tag: TagColumns}
	}
	pixels, ok := r.values[TagPixelData]
	if !ok {
		return nil, &MissingTagError{Tag: TagPixelData}
	}
	if rows == 0 || cols == 0 {
		return nil, &DecodeError{Format: models.FormatDICOM, Reason: "image has zero size"}
	}

	samples := 1
	if v, ok := r.uint16Value(TagSamplesPerPixel); ok {
		samples = v
	}
	if samples != 1 {
		return nil, &DecodeError{Format: models.FormatDICOM, Reason: fmt.Sprintf("%d samples per pixel, only grayscale is supported", samples)}
	}

	bits := 8
	if v, ok := r.uint16Value(TagBitsAllocated); ok {
		bits = v
	}
	signed := false
	if v, ok := r.uint16Value(TagPixelRepresentation); ok {
		signed = v == 1
	}
	photometric := strings.TrimRight(string(r.values[TagPhotometric]), "\x00 ")

	n := rows * cols
	var need int
	switch bits {
	case 8:
		need = n
	case 16:
		need = n * 2
	default:
		return nil, &DecodeError{Format: models.FormatDICOM, Reason: fmt.Sprintf("%d bits allocated is not supported", bits)}
	}
	// Dimensions are untrusted; check the payload before allocating the image.
	if len(pixels) < need {
		return nil, truncated("pixel data")
	}

	gray := image.NewGray(image.Rect(0, 0, cols, rows))
	if bits == 8 {
		copy(gray.Pix, pixels[:n])
	} else {
		scale16(gray.Pix, pixels[:need], signed)
	}

	if photometric == "MONOCHROME1" {
		for i, v := range gray.Pix {
			gray.Pix[i] = 255 - v
		}
	}

	return &DICOMImage{
		Rows:          rows,
		Columns:       cols,
		BitsAllocated: bits,
		Photometric:   photometric,
		TransferSyn:   r.syntax,
		Image:         gray,
	}, nil
}

// scale16 maps 16-bit samples linearly onto 0-255 using the sample range.
func scale16(dst []byte, src []byte, signed bool) {
	sample := func(i int) int {
		v := binary.LittleEndian.Uint16(src[i*2:])
		if signed {
			return int(int16(v))
		}
		return int(v)
	}

	lo, hi := sample(0), sample(0)
	for i := 1; i < len(dst); i++ {
		v := sample(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i := range dst {
		if span == 0 {
			dst[i] = 0
			continue
		}
		dst[i] = byte((sample(i) - lo) * 255 / span)
	}
}

func truncated(what string) error {
	return &DecodeError{Format: models.FormatDICOM, Reason: "truncated " + what}
}
