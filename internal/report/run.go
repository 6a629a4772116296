package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
)

type Options struct {
	EvaluationsPath string
	OutputPath      string
	// MarkdownPath, when set, also receives the report source.
	MarkdownPath string
	Title        string
	Logger       *zap.Logger
}

type Result struct {
	Submissions int
	Pages       int
}

// Exporter turns the evaluations artifact into a PDF.
type Exporter struct {
	renderer Renderer
	// countPages is swapped in tests that render fake bytes.
	countPages func([]byte) (int, error)
}

func NewExporter(renderer Renderer) *Exporter {
	return &Exporter{renderer: renderer, countPages: pageCount}
}

func pageCount(pdf []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(pdf), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("read rendered pdf: %w", err)
	}
	return n, nil
}

func (x *Exporter) Run(ctx context.Context, opts Options) (Result, error) {
	log := logging.OrNop(opts.Logger)
	evals, err := artifact.ReadEvaluations(opts.EvaluationsPath)
	if err != nil {
		return Result{}, err
	}
	title := opts.Title
	if title == "" {
		title = "AI Challenge Evaluations"
	}
	md := Markdown(title, evals)
	if opts.MarkdownPath != "" {
		if err := artifact.WriteBytes(opts.MarkdownPath, []byte(md)); err != nil {
			return Result{}, fmt.Errorf("write report markdown: %w", err)
		}
	}
	doc, err := BuildHTML(title, md)
	if err != nil {
		return Result{}, err
	}
	pdf, err := x.renderer.Render(ctx, doc)
	if err != nil {
		return Result{}, fmt.Errorf("render pdf: %w", err)
	}

	res := Result{Submissions: len(Ranked(evals))}
	res.Pages, err = x.countPages(pdf)
	if err != nil {
		return res, err
	}
	if res.Pages < res.Submissions {
		return res, fmt.Errorf("rendered pdf has %d pages for %d submissions", res.Pages, res.Submissions)
	}
	if err := artifact.WriteBytes(opts.OutputPath, pdf); err != nil {
		return res, fmt.Errorf("write pdf: %w", err)
	}
	log.Info("export-pdf wrote report",
		zap.String("path", opts.OutputPath),
		zap.Int("submissions", res.Submissions),
		zap.Int("pages", res.Pages))
	return res, nil
}
