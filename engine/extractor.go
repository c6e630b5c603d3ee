package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/gdprcheck/contractcheck/model"
)

var errReaderClosed = errors.New("segment reader closed")

// TextExtractor turns a document into a sequence of page segments
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (SegmentReader, error)
}

// SegmentReader yields segments in document order. It is single pass: once
// Next has returned io.EOF or an error it keeps returning it. Close releases
// whatever the reader holds and must be called on every path.
type SegmentReader interface {
	Next(ctx context.Context) (model.Segment, error)
	Close() error
}

// ReadAllSegments drains r
func ReadAllSegments(ctx context.Context, r SegmentReader) ([]model.Segment, error) {
	var segs []model.Segment
	for {
		seg, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return segs, nil
		}
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
}

// JoinSegments concatenates segment texts separated by blank lines
func JoinSegments(segs []model.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// TotalLength returns the number of bytes of text across segments
func TotalLength(segs []model.Segment) int {
	n := 0
	for _, s := range segs {
		n += len(strings.TrimSpace(s.Text))
	}
	return n
}

// PDFExtractor reads text out of PDF documents page by page
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract opens the document. Pages are decoded lazily as Next is called.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (r SegmentReader, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, stageErr(StageExtract, ErrExtraction, errors.New("empty document"))
	}

	// The pdf package panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = stageErr(StageExtract, ErrExtraction, fmt.Errorf("parse pdf: %v", rec))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, stageErr(StageExtract, ErrExtraction, fmt.Errorf("open pdf: %w", err))
	}
	if reader.NumPage() == 0 {
		return nil, stageErr(StageExtract, ErrExtraction, errors.New("document has no pages"))
	}

	return &pdfSegments{reader: reader, total: reader.NumPage(), next: 1}, nil
}

type pdfSegments struct {
	reader  *pdf.Reader
	total   int
	next    int
	sawText bool
	err     error
}

func (s *pdfSegments) Next(ctx context.Context) (model.Segment, error) {
	if s.err != nil {
		return model.Segment{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return model.Segment{}, err
	}
	if s.next > s.total {
		if !s.sawText {
			s.err = stageErr(StageExtract, ErrExtraction, errors.New("no extractable text"))
		} else {
			s.err = io.EOF
		}
		s.reader = nil
		return model.Segment{}, s.err
	}

	idx := s.next
	s.next++
	text, err := s.pageText(idx)
	if err != nil {
		s.err = stageErr(StageExtract, ErrExtraction, fmt.Errorf("page %d: %w", idx, err))
		s.reader = nil
		return model.Segment{}, s.err
	}
	if strings.TrimSpace(text) != "" {
		s.sawText = true
	}
	return model.Segment{Index: idx - 1, Text: text}, nil
}

func (s *pdfSegments) pageText(idx int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode page: %v", rec)
		}
	}()
	page := s.reader.Page(idx)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (s *pdfSegments) Close() error {
	s.reader = nil
	if s.err == nil {
		s.err = errReaderClosed
	}
	return nil
}

// SliceSegments serves already materialised segments through the
// SegmentReader contract.
func SliceSegments(segs []model.Segment) SegmentReader {
	return &sliceSegments{segs: segs}
}

type sliceSegments struct {
	segs []model.Segment
	pos  int
	err  error
}

func (s *sliceSegments) Next(ctx context.Context) (model.Segment, error) {
	if s.err != nil {
		return model.Segment{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return model.Segment{}, err
	}
	if s.pos >= len(s.segs) {
		s.err = io.EOF
		return model.Segment{}, s.err
	}
	seg := s.segs[s.pos]
	s.pos++
	return seg, nil
}

func (s *sliceSegments) Close() error {
	s.segs = nil
	if s.err == nil {
		s.err = errReaderClosed
	}
	return nil
}
