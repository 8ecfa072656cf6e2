package docgrapher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// parsePDF extracts page content with pdfcpu and reduces it to the
// normalized form. Extraction failures degrade to an empty body rather
// than failing the step: a scanned PDF simply yields no identifiers.
func parsePDF(path string) (*parsedDoc, error) {
	conf := model.NewDefaultConfiguration()

	if _, err := api.ReadContextFile(path); err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", filepath.Base(path), err)
	}

	outDir, err := os.MkdirTemp("", "codestory-pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return &parsedDoc{Title: filepath.Base(path)}, nil
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF extraction dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var text strings.Builder
	for _, name := range names {
		content, readErr := os.ReadFile(filepath.Join(outDir, name))
		if readErr != nil {
			continue
		}
		text.Write(content)
		text.WriteString("\n")
	}

	parsed := parsePlainText([]byte(text.String()))
	parsed.Title = filepath.Base(path)
	return parsed, nil
}
