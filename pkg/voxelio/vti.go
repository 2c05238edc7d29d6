package voxelio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rsmgrid/internal/models"
)

// ScalarName is the point-data array name used in ".vti" files.
const ScalarName = "intensity"

type vtkFile struct {
	XMLName    xml.Name     `xml:"VTKFile"`
	Type       string       `xml:"type,attr"`
	Version    string       `xml:"version,attr"`
	ByteOrder  string       `xml:"byte_order,attr"`
	HeaderType string       `xml:"header_type,attr"`
	ImageData  vtkImageData `xml:"ImageData"`
}

type vtkImageData struct {
	WholeExtent string   `xml:"WholeExtent,attr"`
	Origin      string   `xml:"Origin,attr"`
	Spacing     string   `xml:"Spacing,attr"`
	Piece       vtkPiece `xml:"Piece"`
}

type vtkPiece struct {
	Extent    string       `xml:"Extent,attr"`
	PointData vtkPointData `xml:"PointData"`
}

type vtkPointData struct {
	Scalars string         `xml:"Scalars,attr"`
	Arrays  []vtkDataArray `xml:"DataArray"`
}

type vtkDataArray struct {
	Type   string `xml:"type,attr"`
	Name   string `xml:"Name,attr"`
	Format string `xml:"format,attr"`
	Data   string `xml:",chardata"`
}

func formatTriple(v [3]float64) string {
	parts := make([]string, 3)
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parseTriple(s string) ([3]float64, error) {
	var out [3]float64
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return out, fmt.Errorf("expected 3 values, got %q", s)
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func parseExtent(s string) ([3]int, error) {
	var dims [3]int
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return dims, fmt.Errorf("expected 6 extent values, got %q", s)
	}
	for a := 0; a < 3; a++ {
		lo, err := strconv.Atoi(fields[2*a])
		if err != nil {
			return dims, err
		}
		hi, err := strconv.Atoi(fields[2*a+1])
		if err != nil {
			return dims, err
		}
		dims[a] = hi - lo + 1
	}
	return dims, nil
}

// WriteVTI encodes vol as VTK XML ImageData with one Float64 point array in
// inline base64 binary form.
func WriteVTI(w io.Writer, vol *models.Volume) error {
	extent := fmt.Sprintf("0 %d 0 %d 0 %d", vol.Dims[0]-1, vol.Dims[1]-1, vol.Dims[2]-1)

	var body bytes.Buffer
	if err := binary.Write(&body, end, vol.Data); err != nil {
		return err
	}
	var header [4]byte
	end.PutUint32(header[:], uint32(body.Len()))

	doc := vtkFile{
		Type:       "ImageData",
		Version:    "1.0",
		ByteOrder:  "LittleEndian",
		HeaderType: "UInt32",
		ImageData: vtkImageData{
			WholeExtent: extent,
			Origin:      formatTriple(vol.Origin()),
			Spacing:     formatTriple(vol.Spacing()),
			Piece: vtkPiece{
				Extent: extent,
				PointData: vtkPointData{
					Scalars: ScalarName,
					Arrays: []vtkDataArray{{
						Type:   "Float64",
						Name:   ScalarName,
						Format: "binary",
						// Header and body are encoded as separate base64 blocks
						Data: base64.StdEncoding.EncodeToString(header[:]) +
							base64.StdEncoding.EncodeToString(body.Bytes()),
					}},
				},
			},
		},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// ReadVTI decodes a ".vti" file holding a Float64 point array.
func ReadVTI(r io.Reader) (*models.Volume, error) {
	var doc vtkFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad XML: %v", err)}
	}
	if doc.Type != "ImageData" {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported VTK type %q", doc.Type)}
	}
	if doc.ByteOrder != "" && doc.ByteOrder != "LittleEndian" {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported byte order %q", doc.ByteOrder)}
	}
	if doc.HeaderType != "" && doc.HeaderType != "UInt32" {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported header type %q", doc.HeaderType)}
	}

	img := doc.ImageData
	dims, err := parseExtent(img.WholeExtent)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad WholeExtent: %v", err)}
	}
	if err := checkDims(dims); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	origin, err := parseTriple(img.Origin)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad Origin: %v", err)}
	}
	spacing, err := parseTriple(img.Spacing)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("bad Spacing: %v", err)}
	}

	arrays := img.Piece.PointData.Arrays
	if len(arrays) == 0 {
		return nil, &FormatError{Reason: "no point data array"}
	}
	arr := arrays[0]
	for _, a := range arrays {
		if a.Name == img.Piece.PointData.Scalars {
			arr = a
			break
		}
	}
	if arr.Type != "Float64" || arr.Format != "binary" {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported array %s/%s", arr.Type, arr.Format)}
	}

	n := dims[0] * dims[1] * dims[2]
	raw, err := decodeBinaryArray(strings.TrimSpace(arr.Data))
	if err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	if len(raw) != 8*n {
		return nil, &FormatError{Reason: fmt.Sprintf("array holds %d values, extent needs %d", len(raw)/8, n)}
	}

	data := make([]float64, n)
	if err := binary.Read(bytes.NewReader(raw), end, data); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}

	return &models.Volume{
		Data: data,
		Dims: dims,
		Axes: axesFrom(origin, spacing, dims),
	}, nil
}

// decodeBinaryArray strips the UInt32 byte-count header from an inline
// binary array. The header may be encoded on its own or together with the
// body.
func decodeBinaryArray(s string) ([]byte, error) {
	// A separately encoded 4-byte header takes 8 base64 characters
	if len(s) >= 8 {
		head, err := base64.StdEncoding.DecodeString(s[:8])
		if err == nil && len(head) == 4 {
			count := int(binary.LittleEndian.Uint32(head))
			body, err := base64.StdEncoding.DecodeString(s[8:])
			if err == nil && len(body) == count {
				return body, nil
			}
		}
	}

	all, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad base64 data: %v", err)
	}
	if len(all) < 4 {
		return nil, fmt.Errorf("binary array shorter than its header")
	}
	count := int(binary.LittleEndian.Uint32(all[:4]))
	if count != len(all)-4 {
		return nil, fmt.Errorf("header declares %d bytes, array holds %d", count, len(all)-4)
	}
	return all[4:], nil
}
