// Package extractor turns presentation files into per-slide images ready for
// visual analysis. PowerPoint files are converted to PDF with LibreOffice
// first; PDF pages are then rendered to JPEG with pdftoppm.
package extractor

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	logx "github.com/decksense/presentation-backend/pkg/logger"
)

// Rendering parameters. 150 DPI keeps slides readable for visual analysis
// without exceeding the model's input limits.
const (
	renderDPI     = 150
	imagePrefix   = "slide"
	pdfPageLayout = "PDF Page"
)

// Result carries the extracted slides and the presentation metadata.
type Result struct {
	Slides   []datamodel.ExtractedSlide
	Metadata datamodel.ExtractionMetadata
}

// Extractor converts presentation files into slide images.
type Extractor interface {
	// Extract renders every slide of the file to an image. The returned
	// cleanup function removes the rendered images and must be called exactly
	// once, on every outcome.
	Extract(ctx context.Context, filePath string) (*Result, func(), error)
}

type cliExtractor struct {
	tempDir        string
	convertTimeout time.Duration
}

// NewExtractor builds an Extractor backed by the LibreOffice and Poppler
// command line tools.
func NewExtractor(tempDir string, convertTimeout time.Duration) (Extractor, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}
	return &cliExtractor{
		tempDir:        tempDir,
		convertTimeout: convertTimeout,
	}, nil
}

func (e *cliExtractor) Extract(ctx context.Context, filePath string) (*Result, func(), error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	workDir, err := os.MkdirTemp(e.tempDir, "extract_")
	if err != nil {
		return nil, nil, fmt.Errorf("creating extraction workdir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger, _ := logx.GetZapLogger(context.Background())
			logger.Warn("Failed to remove extraction workdir", zap.String("dir", workDir), zap.Error(err))
		}
	}

	var result *Result
	switch ext {
	case ".pdf":
		result, err = e.extractFromPDF(ctx, filePath, workDir)
	case ".pptx", ".ppt":
		result, err = e.extractFromPowerPoint(ctx, filePath, workDir)
	default:
		err = fmt.Errorf("file extension %q: %w", ext, errorsx.ErrUnsupportedFormat)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return result, cleanup, nil
}

// extractFromPowerPoint converts the deck to PDF with LibreOffice, then
// renders the PDF pages.
func (e *cliExtractor) extractFromPowerPoint(ctx context.Context, filePath, workDir string) (*Result, error) {
	logger, _ := logx.GetZapLogger(ctx)

	convertCtx, cancel := context.WithTimeout(ctx, e.convertTimeout)
	defer cancel()

	cmd := exec.CommandContext(convertCtx, "libreoffice",
		"--headless",
		"--convert-to", "pdf",
		"--outdir", workDir,
		filePath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("converting to PDF: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	baseName := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	pdfPath := filepath.Join(workDir, baseName+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("converted PDF not found at %s: %w", pdfPath, err)
	}
	logger.Info("Converted presentation to PDF", zap.String("pdf", pdfPath))

	result, err := e.extractFromPDF(ctx, pdfPath, workDir)
	if err != nil {
		return nil, err
	}
	// Metadata should reference the uploaded file, not the intermediate PDF
	result.Metadata.SourceFilename = filepath.Base(filePath)
	return result, nil
}

// extractFromPDF renders every page to JPEG and gathers document metadata.
func (e *cliExtractor) extractFromPDF(ctx context.Context, pdfPath, workDir string) (*Result, error) {
	logger, _ := logx.GetZapLogger(ctx)

	renderCtx, cancel := context.WithTimeout(ctx, e.convertTimeout)
	defer cancel()

	prefix := filepath.Join(workDir, imagePrefix+"_"+uuid.Must(uuid.NewV4()).String()[:8])
	cmd := exec.CommandContext(renderCtx, "pdftoppm",
		"-jpeg",
		"-r", strconv.Itoa(renderDPI),
		pdfPath,
		prefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("rendering PDF pages: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	imagePaths, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("globbing rendered pages: %w", err)
	}
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no pages rendered from %s", pdfPath)
	}
	// pdftoppm zero-pads page numbers, so lexicographic order is page order
	sort.Strings(imagePaths)

	slides := make([]datamodel.ExtractedSlide, 0, len(imagePaths))
	for i, imagePath := range imagePaths {
		content, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("reading rendered page %s: %w", imagePath, err)
		}
		slides = append(slides, datamodel.ExtractedSlide{
			SlideNumber: i + 1,
			ImagePath:   imagePath,
			ImageBase64: base64.StdEncoding.EncodeToString(content),
			LayoutName:  pdfPageLayout,
		})
	}
	logger.Info("Rendered PDF pages", zap.Int("pages", len(slides)))

	metadata := e.pdfMetadata(ctx, pdfPath)
	metadata.TotalSlides = len(slides)
	metadata.SourceFilename = filepath.Base(pdfPath)

	return &Result{
		Slides:   slides,
		Metadata: metadata,
	}, nil
}

// pdfMetadata reads title and author via pdfinfo. Metadata is best-effort:
// failures leave the fields empty.
func (e *cliExtractor) pdfMetadata(ctx context.Context, pdfPath string) datamodel.ExtractionMetadata {
	var metadata datamodel.ExtractionMetadata

	infoCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	output, err := exec.CommandContext(infoCtx, "pdfinfo", pdfPath).Output()
	if err != nil {
		logger, _ := logx.GetZapLogger(ctx)
		logger.Warn("Failed to read PDF metadata", zap.Error(err))
		return metadata
	}

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Title":
			metadata.Title = value
		case "Author":
			metadata.Author = value
		}
	}
	return metadata
}
