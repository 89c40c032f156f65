package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/zombor/spend-tracker/internal/scratch"
)

// CommandRunner runs an external program and returns its output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// boxNoise matches the runs of box-drawing characters tesseract emits for
// receipt borders
var boxNoise = regexp.MustCompile(`[|_=~]{3,}`)

// Tesseract reads receipt text with the tesseract CLI
type Tesseract struct {
	Bin     string
	Lang    string
	Scratch *scratch.Tracker
	Runner  CommandRunner
	Logger  *slog.Logger
}

// NewTesseract creates a Tesseract reader writing its temporary images to tracker
func NewTesseract(bin, lang string, tracker *scratch.Tracker, logger *slog.Logger) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{Bin: bin, Lang: lang, Scratch: tracker, Runner: execRunner{}, Logger: logger}
}

// ReadText preprocesses the image and runs tesseract on it
func (t *Tesseract) ReadText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	pngData, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	processed, err := preprocessForOCR(pngData)
	if err != nil {
		return "", err
	}

	h, err := t.Scratch.Create("ocr-*.png", processed)
	if err != nil {
		return "", err
	}
	defer h.Release()

	// tesseract <file> stdout -l <lang> --psm 4 (single column of variable-size text)
	out, errb, err := t.Runner.Run(ctx, t.Bin, h.Path(), "stdout", "-l", t.Lang, "--psm", "4")
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}

	text := boxNoise.ReplaceAllString(string(out), "")
	t.Logger.Debug("tesseract read text", "chars", len(text))
	return text, nil
}
