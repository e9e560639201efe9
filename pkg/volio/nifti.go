package volio

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpruesga/galen/internal/models"
)

// NIfTI-1 data type codes we accept for label maps.
const (
	niftiTypeUint8   = 2
	niftiTypeInt16   = 4
	niftiTypeInt32   = 8
	niftiTypeFloat32 = 16
	niftiTypeFloat64 = 64
)

const niftiHeaderSize = 348

// niftiHeader is the fixed-layout NIfTI-1 header, 348 bytes little-endian.
// Only the fields the loader needs are interpreted.
type niftiHeader struct {
	SizeofHdr int32
	_         [36]byte
	Dim       [8]int16
	_         [14]byte
	Datatype  int16
	Bitpix    int16
	_         [2]byte
	Pixdim    [8]float32
	VoxOffset float32
	_         [232]byte
	Magic     [4]byte
}

// loadNIfTI reads a NIfTI-1 volume, gunzipping .nii.gz transparently,
// and rounds the voxel values to integer label IDs.
func loadNIfTI(path string) (*models.LabelVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open NIfTI file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, models.NewDataError(path, "not a gzip stream: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	var hdr niftiHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, models.NewDataError(path, "truncated NIfTI header: %v", err)
	}
	if hdr.SizeofHdr != niftiHeaderSize || (hdr.Magic[0] != 'n' || hdr.Magic[2] != '1') {
		return nil, models.NewDataError(path, "not a NIfTI-1 file")
	}
	if hdr.Dim[0] < 3 {
		return nil, models.NewDataError(path, "expected a 3D volume, found %d dims", hdr.Dim[0])
	}
	shape := [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, models.NewDataError(path, "invalid volume shape %v", shape)
	}
	spacing := [3]float64{float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3])}
	for i, s := range spacing {
		if s <= 0 {
			spacing[i] = 1
		}
	}

	// Skip the gap between the header and the voxel data.
	if skip := int64(hdr.VoxOffset) - niftiHeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, models.NewDataError(path, "truncated NIfTI extension block: %v", err)
		}
	}

	n := shape[0] * shape[1] * shape[2]
	lv := models.NewLabelVolume(shape, spacing)
	switch hdr.Datatype {
	case niftiTypeUint8:
		buf := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, models.NewDataError(path, "truncated voxel data: %v", err)
		}
		for i, v := range buf {
			lv.Data[i] = int32(v)
		}
	case niftiTypeInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, models.NewDataError(path, "truncated voxel data: %v", err)
		}
		for i, v := range buf {
			lv.Data[i] = int32(v)
		}
	case niftiTypeInt32:
		if err := binary.Read(r, binary.LittleEndian, lv.Data); err != nil {
			return nil, models.NewDataError(path, "truncated voxel data: %v", err)
		}
	case niftiTypeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, models.NewDataError(path, "truncated voxel data: %v", err)
		}
		for i, v := range buf {
			lv.Data[i] = int32(math.Round(float64(v)))
		}
	case niftiTypeFloat64:
		buf := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, models.NewDataError(path, "truncated voxel data: %v", err)
		}
		for i, v := range buf {
			lv.Data[i] = int32(math.Round(v))
		}
	default:
		return nil, models.NewDataError(path, "unsupported NIfTI datatype %d", hdr.Datatype)
	}
	return lv, nil
}
