package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	pdfTimeout  = 30 * time.Second
	docxMime    = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	maxNameRune = 60
)

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome"}

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if binPath, err := exec.LookPath(name); err == nil {
			return binPath, nil
		}
	}
	return "", fmt.Errorf("%w: no chrome binary on PATH", ErrPDFDependencyMissing)
}

// renderPDF loads the transcript into a blank headless Chrome tab and prints it on A4.
func renderPDF(parent context.Context, html, title string) (*Result, error) {
	binPath, err := findChrome()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parent, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(binPath),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.6).
				WithMarginBottom(0.6).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print transcript pdf: %w", err)
	}

	return &Result{Data: pdf, Filename: transcriptFilename(title, "pdf"), MimeType: "application/pdf"}, nil
}

// renderDOCX pipes the transcript HTML through pandoc.
func renderDOCX(ctx context.Context, html, title string) (*Result, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not on PATH", ErrDOCXDependencyMissing)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pandoc", "--from=html", "--to=docx", "--metadata", "title="+title, "--output=-")
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}

	return &Result{Data: stdout.Bytes(), Filename: transcriptFilename(title, "docx"), MimeType: docxMime}, nil
}

// transcriptFilename turns a chat title into a download name such as "quarterly-plan.pdf".
func transcriptFilename(title, ext string) string {
	var b strings.Builder
	count := 0
	dash := false
	for _, r := range strings.ToLower(title) {
		if count >= maxNameRune {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				count++
			}
			b.WriteRune(r)
			count++
			dash = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			dash = true
		}
	}
	name := b.String()
	if name == "" {
		name = "chat-transcript"
	}
	return name + "." + ext
}
