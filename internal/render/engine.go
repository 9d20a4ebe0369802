package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"path"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/encoding/charmap"

	"certificate-portal/certificate-backend/internal/binding"
	"certificate-portal/certificate-backend/internal/templates"
	"certificate-portal/certificate-backend/pkg/pdf"
)

// EngineVersion is part of every content id; bump it whenever layout output changes
const EngineVersion = "1.0.0"

const (
	qrModulePixels   = 8
	defaultLineWidth = 0.3
)

// AssetReader reads template image assets
type AssetReader interface {
	ReadAsset(ref string) ([]byte, error)
}

// Options carries per-issuance inputs that are not placeholder values
type Options struct {
	VerificationCode string
	VerifyURL        string
	Assets           AssetReader
}

// Engine renders bound documents to PDF
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

type renderer struct {
	ctx       context.Context
	doc       *gofpdf.Fpdf
	fonts     FontSet
	opts      Options
	translate func(string) string
	embedded  map[string]bool
}

// Render lays out doc on a single page. Identical document, fonts, options
// and engine version produce identical bytes.
func (e *Engine) Render(ctx context.Context, doc *binding.BoundDocument, fonts FontSet, opts Options) (out []byte, err error) {
	tmpl := doc.Template

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("render %s: unexpected failure: %v", tmpl.ID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, err := pdf.NewDocument(tmpl.Page, pdf.Metadata{
		Title:    tmpl.Name,
		Subject:  fmt.Sprintf("%s v%d", tmpl.ID, tmpl.Version),
		Producer: "certificate-backend render " + EngineVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	r := &renderer{
		ctx:       ctx,
		doc:       d,
		fonts:     fonts,
		opts:      opts,
		translate: d.UnicodeTranslatorFromDescriptor(""),
		embedded:  make(map[string]bool),
	}

	for _, key := range fonts.sortedKeys() {
		if err := r.embed(fonts[key]); err != nil {
			return nil, err
		}
	}

	d.AddPage()

	if tmpl.Background != "" {
		if err := r.image(tmpl.Background, templates.Box{Width: tmpl.Width, Height: tmpl.Height}, true); err != nil {
			return nil, err
		}
	}

	for i, el := range tmpl.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.element(el); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}

	for _, value := range doc.Values {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.placeholder(value); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.verification(tmpl.Verification); err != nil {
		return nil, err
	}

	if d.Err() {
		return nil, fmt.Errorf("render %s: %w", tmpl.ID, d.Error())
	}
	out, err = pdf.OutputToBytes(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}

	e.logger.Debug("Document rendered",
		zap.String("template_id", tmpl.ID),
		zap.Int("bytes", len(out)),
	)
	return out, nil
}

// embed registers a TrueType face with the document. The data is parsed
// up front because gofpdf reports some corrupt fonts only on stdout.
func (r *renderer) embed(face Face) (err error) {
	if face.Core || r.embedded[face.documentFamily()+face.Style.PDF()] {
		return nil
	}
	fail := func(cause error) error {
		return &FontEmbedError{Family: face.Family, Style: string(face.Style), Err: cause}
	}

	if len(face.Data) == 0 {
		return fail(errors.New("no glyph data"))
	}
	if _, err := sfnt.Parse(face.Data); err != nil {
		return fail(err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fail(fmt.Errorf("%v", rec))
		}
	}()

	family, style := face.documentFamily(), face.Style.PDF()
	r.doc.AddUTF8FontFromBytes(family, style, face.Data)
	// SetFont fails when the face was not registered
	r.doc.SetFont(family, style, 12)
	if r.doc.Err() {
		return fail(r.doc.Error())
	}
	r.embedded[family+style] = true
	return nil
}

func (r *renderer) element(el templates.Element) error {
	switch el.Type {
	case templates.ElementText:
		return r.text("element", el.Text, el.Box, el.TextStyle)
	case templates.ElementLine:
		r.setDrawColor(el.Color)
		r.doc.SetLineWidth(lineWidth(el.LineWidth))
		r.doc.Line(el.X1, el.Y1, el.X2, el.Y2)
	case templates.ElementRect:
		style := "D"
		if el.Fill != nil {
			r.doc.SetFillColor(el.Fill.R, el.Fill.G, el.Fill.B)
			style = "F"
			if el.LineWidth > 0 {
				style = "DF"
			}
		}
		r.setDrawColor(el.Color)
		r.doc.SetLineWidth(lineWidth(el.LineWidth))
		r.doc.Rect(el.Box.X, el.Box.Y, el.Box.Width, el.Box.Height, style)
	case templates.ElementImage:
		return r.image(el.Image, el.Box, false)
	}
	return nil
}

func (r *renderer) placeholder(value binding.BoundValue) error {
	if value.Kind == binding.ValueEmpty {
		return nil
	}
	p := value.Placeholder
	if p.Type == templates.TypeImage {
		return r.image(value.Image, p.Box, false)
	}
	return r.text(p.Name, value.Text, p.Box, p.TextStyle)
}

func (r *renderer) verification(v *templates.Verification) error {
	if v == nil || r.opts.VerificationCode == "" {
		return nil
	}
	if v.Code != nil {
		if err := r.text("verification", v.Label+r.opts.VerificationCode, *v.Code, v.CodeStyle); err != nil {
			return err
		}
	}

	url := r.opts.VerifyURL
	if v.URL != "" {
		url = fmt.Sprintf(v.URL, r.opts.VerificationCode)
	}
	if v.QR == nil || url == "" {
		return nil
	}
	return r.qr(url, *v.QR)
}

// unencodable lists, once each, the runes of s outside cp1252. The core font
// translator would silently print them as '.'.
func unencodable(s string) []rune {
	var out []rune
	seen := make(map[rune]bool)
	for _, c := range s {
		_, ok := charmap.Windows1252.EncodeRune(c)
		if ok && (c < 0x80 || c >= 0xA0) {
			continue
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// text draws s inside box honouring alignment and the overflow policy
func (r *renderer) text(name, s string, box templates.Box, style templates.TextStyle) error {
	if s == "" {
		return nil
	}
	face, ok := r.fonts[RequestKey(style.Font)]
	if !ok {
		return fmt.Errorf("no font resolved for %s %s", style.Font.Family, style.Font.Style)
	}

	family, fontStyle := face.documentFamily(), face.Style.PDF()
	encode := r.translate
	if face.Core {
		if bad := unencodable(s); len(bad) > 0 {
			return &UnencodableTextError{Placeholder: name, Family: face.Family, Runes: bad}
		}
	} else {
		encode = func(s string) string { return s }
	}
	measure := func(s string) float64 { return r.doc.GetStringWidth(encode(s)) }

	factor := style.LineHeight
	if factor <= 0 {
		factor = defaultLineHeight
	}

	size := style.Font.Size
	r.doc.SetFont(family, fontStyle, size)
	lineHeight := size * ptToMM * factor
	lines := layoutLines(s, box.Width, style.Wrap, measure)

	if !linesFit(lines, box.Width, box.Height, lineHeight, measure) {
		switch style.EffectiveOverflow() {
		case templates.OverflowError:
			return &OverflowError{Placeholder: name, Size: size}
		case templates.OverflowTruncate:
			lines = truncateLines(lines, box.Width, box.Height, lineHeight, measure)
		case templates.OverflowShrinkToFit:
			minSize := style.EffectiveMinSize()
			fitted := false
			for size-shrinkStep >= minSize-1e-9 {
				size -= shrinkStep
				r.doc.SetFont(family, fontStyle, size)
				lineHeight = size * ptToMM * factor
				lines = layoutLines(s, box.Width, style.Wrap, measure)
				if linesFit(lines, box.Width, box.Height, lineHeight, measure) {
					fitted = true
					break
				}
			}
			if !fitted {
				return &OverflowError{Placeholder: name, Size: style.Font.Size, MinSize: minSize}
			}
		}
	}

	r.setTextColor(style.Color)

	total := float64(len(lines)) * lineHeight
	top := box.Y
	switch style.VAlign {
	case templates.VAlignMiddle:
		top = box.Y + (box.Height-total)/2
	case templates.VAlignBottom:
		top = box.Y + box.Height - total
	}

	sizeMM := size * ptToMM
	for i, line := range lines {
		w := measure(line)
		x := box.X
		switch style.Align {
		case templates.AlignCenter:
			x = box.X + (box.Width-w)/2
		case templates.AlignRight:
			x = box.X + box.Width - w
		}
		baseline := top + float64(i)*lineHeight + lineHeight/2 + sizeMM*0.35
		r.doc.Text(x, baseline, encode(line))
	}
	return nil
}

// image draws an asset scaled into box. Unless stretch is set the aspect
// ratio is preserved and the image centred.
func (r *renderer) image(ref string, box templates.Box, stretch bool) error {
	if r.opts.Assets == nil {
		return fmt.Errorf("image %q: no asset source", ref)
	}
	data, err := r.opts.Assets.ReadAsset(ref)
	if err != nil {
		return fmt.Errorf("image %q: %w", ref, err)
	}

	imageType := strings.TrimPrefix(strings.ToLower(path.Ext(ref)), ".")
	options := gofpdf.ImageOptions{ImageType: imageType}
	info := r.doc.RegisterImageOptionsReader(ref, options, bytes.NewReader(data))
	if r.doc.Err() || info == nil {
		return fmt.Errorf("image %q: %w", ref, r.doc.Error())
	}

	x, y, w, h := box.X, box.Y, box.Width, box.Height
	if !stretch {
		x, y, w, h = fitBox(info.Width(), info.Height(), box)
	}
	r.doc.ImageOptions(ref, x, y, w, h, false, options, 0, "")
	return nil
}

func (r *renderer) qr(content string, box templates.Box) error {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return fmt.Errorf("failed to encode qr code: %w", err)
	}
	side := code.Bounds().Dx() * qrModulePixels
	scaled, err := barcode.Scale(code, side, side)
	if err != nil {
		return fmt.Errorf("failed to scale qr code: %w", err)
	}

	// gofpdf reads 8-bit PNGs only; qr codes are 16-bit gray
	gray := image.NewGray(scaled.Bounds())
	draw.Draw(gray, gray.Bounds(), scaled, scaled.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return fmt.Errorf("failed to encode qr image: %w", err)
	}

	options := gofpdf.ImageOptions{ImageType: "png"}
	r.doc.RegisterImageOptionsReader("verification-qr", options, &buf)
	if r.doc.Err() {
		return fmt.Errorf("failed to register qr image: %w", r.doc.Error())
	}
	x, y, w, h := fitBox(1, 1, box)
	r.doc.ImageOptions("verification-qr", x, y, w, h, false, options, 0, "")
	return nil
}

// fitBox scales an iw x ih image into box preserving aspect ratio, centred
func fitBox(iw, ih float64, box templates.Box) (x, y, w, h float64) {
	if iw <= 0 || ih <= 0 {
		return box.X, box.Y, box.Width, box.Height
	}
	scale := box.Width / iw
	if s := box.Height / ih; s < scale {
		scale = s
	}
	w, h = iw*scale, ih*scale
	return box.X + (box.Width-w)/2, box.Y + (box.Height-h)/2, w, h
}

func (r *renderer) setTextColor(c *templates.Color) {
	if c == nil {
		r.doc.SetTextColor(0, 0, 0)
		return
	}
	r.doc.SetTextColor(c.R, c.G, c.B)
}

func (r *renderer) setDrawColor(c *templates.Color) {
	if c == nil {
		r.doc.SetDrawColor(0, 0, 0)
		return
	}
	r.doc.SetDrawColor(c.R, c.G, c.B)
}

func lineWidth(w float64) float64 {
	if w > 0 {
		return w
	}
	return defaultLineWidth
}
