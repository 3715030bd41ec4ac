package storage

import (
	"bytes"
	"fmt"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// withImageDescription returns the JPEG with the EXIF ImageDescription
// tag set to description, creating the EXIF segment if the encoder did
// not emit one.
func withImageDescription(jpegData []byte, description string) ([]byte, error) {
	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(jpegData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jpeg: %w", err)
	}
	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("unexpected jpeg parse result %T", intfc)
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			return nil, fmt.Errorf("failed to create ifd mapping: %w", err)
		}
		rootIb = exif.NewIfdBuilder(im, exif.NewTagIndex(),
			exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	ifdIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return nil, fmt.Errorf("failed to get IFD0 builder: %w", err)
	}
	if err := ifdIb.SetStandardWithName("ImageDescription", description); err != nil {
		return nil, fmt.Errorf("failed to set ImageDescription: %w", err)
	}
	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("failed to attach exif segment: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
