package book

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFSource reads pages from a PDF. Comic PDFs carry one raster image per page;
// when a page holds several, the largest is the page.
type PDFSource struct {
	id    string
	file  string
	count int
}

// OpenPDF reads the page count of a PDF.
func OpenPDF(file string) (*PDFSource, error) {
	n, err := api.PageCountFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	if n == 0 {
		return nil, errors.New("PDF has no pages")
	}
	return &PDFSource{id: IDFromPath(file), file: file, count: n}, nil
}

func (s *PDFSource) ID() string { return s.id }

func (s *PDFSource) Pages() []Page {
	out := make([]Page, s.count)
	for i := range out {
		out[i] = Page{Number: i, Name: "page " + strconv.Itoa(i+1)}
	}
	return out
}

// Load extracts the images of one page (PDF page page+1).
func (s *PDFSource) Load(ctx context.Context, page int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, s.count); err != nil {
		return nil, err
	}
	images, err := extractPageImages(s.file, page+1)
	if err != nil {
		return nil, err
	}
	// only one page was extracted
	var imgs []image.Image
	for _, n := range sortedKeys(images) {
		imgs = append(imgs, images[n]...)
	}
	if len(imgs) == 0 {
		return nil, fmt.Errorf("PDF page %d has no raster image", page+1)
	}
	best := imgs[0]
	for _, img := range imgs[1:] {
		if area(img) > area(best) {
			best = img
		}
	}
	return best, nil
}

func (s *PDFSource) Close() error { return nil }

func sortedKeys(m map[int][]image.Image) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}

// extractPageImages extracts the images of one 1-based PDF page with pdfcpu.
func extractPageImages(file string, pdfPage int) (map[int][]image.Image, error) {
	tempDir, err := os.MkdirTemp("", "bubblenav-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(file, tempDir, []string{strconv.Itoa(pdfPage)}, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}
	return collectExtractedImages(tempDir)
}

// collectExtractedImages groups extracted files by page. pdfcpu names them
// <name>_<page>_<id>.<ext> or page_<page>_image_<id>.<ext> depending on version.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}
		img, _, err := utils.LoadImage(path)
		if err != nil {
			return nil
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parsePageFromFilename returns the page number embedded in an extracted image name.
func parsePageFromFilename(filename string) (int, error) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(stem, "_")
	if len(parts) >= 2 && parts[0] == "page" {
		return strconv.Atoi(parts[1])
	}
	if len(parts) >= 3 {
		return strconv.Atoi(parts[len(parts)-2])
	}
	return 0, errors.New("not a page image")
}
