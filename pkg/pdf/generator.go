package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// EpochDate is stamped as the creation and modification date of every
// document so that identical input produces identical bytes.
var EpochDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// PageSpec describes the page a document is laid out on. Dimensions are in mm.
type PageSpec struct {
	Size        string  `json:"size" yaml:"size"`               // A3, A4, A5, Letter, Legal
	Orientation string  `json:"orientation" yaml:"orientation"` // portrait, landscape
	Width       float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height      float64 `json:"height,omitempty" yaml:"height,omitempty"`
}

// Metadata is written into the PDF info dictionary
type Metadata struct {
	Title    string
	Subject  string
	Producer string
}

var pageSizes = map[string][2]float64{
	"A3":     {297, 420},
	"A4":     {210, 297},
	"A5":     {148, 210},
	"LETTER": {215.9, 279.4},
	"LEGAL":  {215.9, 355.6},
}

// Dimensions returns the oriented page width and height in mm
func Dimensions(page PageSpec) (float64, float64, error) {
	var w, h float64
	switch {
	case page.Width > 0 && page.Height > 0:
		w, h = page.Width, page.Height
	case page.Size != "":
		size, ok := pageSizes[strings.ToUpper(page.Size)]
		if !ok {
			return 0, 0, fmt.Errorf("unknown page size %q", page.Size)
		}
		w, h = size[0], size[1]
	default:
		return 0, 0, fmt.Errorf("page size is required")
	}

	switch strings.ToLower(page.Orientation) {
	case "", "portrait", "p":
		if w > h {
			w, h = h, w
		}
	case "landscape", "l":
		if w < h {
			w, h = h, w
		}
	default:
		return 0, 0, fmt.Errorf("unknown orientation %q", page.Orientation)
	}
	return w, h, nil
}

// NewDocument creates a gofpdf document with every source of
// non-determinism pinned: dates, catalog ordering and compression.
func NewDocument(page PageSpec, meta Metadata) (*gofpdf.Fpdf, error) {
	w, h, err := Dimensions(page)
	if err != nil {
		return nil, err
	}

	orientation := "P"
	short, long := w, h
	if w > h {
		orientation = "L"
		short, long = h, w
	}

	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: short, Ht: long},
	})
	doc.SetCreationDate(EpochDate)
	doc.SetModificationDate(EpochDate)
	doc.SetCatalogSort(true)
	doc.SetCompression(true)
	if meta.Producer != "" {
		doc.SetProducer(meta.Producer, true)
		doc.SetCreator(meta.Producer, true)
	}
	if meta.Title != "" {
		doc.SetTitle(meta.Title, true)
	}
	if meta.Subject != "" {
		doc.SetSubject(meta.Subject, true)
	}
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCellMargin(0)

	return doc, nil
}

// OutputToBytes returns the PDF as bytes
func OutputToBytes(doc *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
