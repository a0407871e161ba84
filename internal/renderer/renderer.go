// Package renderer produces certificate PDF documents from an embedded HTML
// template using a headless Chrome instance.
package renderer

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"constancia/internal/certificate"
	dErrors "constancia/pkg/domain-errors"
)

//go:embed templates/certificate.html
var certificateHTML string

// PDF renders certificate documents into outputDir, one file per folio. It
// implements certificate.DocumentRenderer. Each Render spins up its own
// browser context; the caller bounds the whole call with a timeout.
type PDF struct {
	outputDir string
	tmpl      *template.Template
	logger    *slog.Logger
}

func NewPDF(outputDir string, logger *slog.Logger) (*PDF, error) {
	tmpl, err := template.New("certificate").Parse(certificateHTML)
	if err != nil {
		return nil, fmt.Errorf("parse certificate template: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{outputDir: outputDir, tmpl: tmpl, logger: logger}, nil
}

func (r *PDF) Render(ctx context.Context, data certificate.DocumentData) (string, error) {
	html, err := r.buildHTML(data)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDocumentFailed, "build certificate html")
	}

	pdf, err := printToPDF(ctx, html)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDocumentFailed, "print certificate pdf")
	}

	path := filepath.Join(r.outputDir, data.Folio.String()+".pdf")
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDocumentFailed, "write certificate pdf")
	}
	r.logger.Debug("certificate document rendered",
		slog.String("folio", data.Folio.String()), slog.Int("bytes", len(pdf)))
	return path, nil
}

type templateData struct {
	Folio         string
	RecipientName string
	ProductName   string
	ProductKind   string
	Hours         int
	IssuedOn      string
	Competencies  []string
}

func (r *PDF) buildHTML(data certificate.DocumentData) (string, error) {
	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, templateData{
		Folio:         data.Folio.String(),
		RecipientName: data.RecipientName,
		ProductName:   data.ProductName,
		ProductKind:   string(data.ProductKind),
		Hours:         data.Hours,
		IssuedOn:      data.IssuedAt.Format("January 2, 2006"),
		Competencies:  data.Competencies,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func printToPDF(ctx context.Context, html string) ([]byte, error) {
	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// warmupTimeout bounds the startup probe in Healthy.
const warmupTimeout = 15 * time.Second

// Healthy reports whether a browser can be launched at all. Called once at
// startup so a missing Chrome binary fails fast instead of on first
// issuance.
func (r *PDF) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	browserCtx, browserCancel := chromedp.NewContext(ctx)
	defer browserCancel()
	return chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
}
