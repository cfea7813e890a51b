// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// LoadedFile is the text content of a file.
type LoadedFile struct {
	Text  string
	Title string // Empty when the format carries no title
}

// LoaderFunc decodes file contents into text.
type LoaderFunc func(data []byte) (*LoadedFile, error)

var loaders = map[string]LoaderFunc{
	".txt":      loadText,
	".text":     loadText,
	".md":       loadMarkdown,
	".markdown": loadMarkdown,
	".html":     loadHTML,
	".htm":      loadHTML,
	".pdf":      loadPDF,
	".xlsx":     loadSpreadsheet,
}

// Supported reports whether a loader exists for the file's extension.
func Supported(name string) bool {
	_, ok := loaders[strings.ToLower(path.Ext(name))]
	return ok
}

// Load decodes a file with the loader for its extension. When the format
// has no title, the file name without extension is used.
func Load(name string, data []byte) (*LoadedFile, error) {
	ext := strings.ToLower(path.Ext(name))
	loader, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	loaded, err := loader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if loaded.Title == "" {
		loaded.Title = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return loaded, nil
}

func loadText(data []byte) (*LoadedFile, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrCorruptFile)
	}
	return &LoadedFile{Text: string(data)}, nil
}

// loadMarkdown keeps the markup and takes the first level-one heading as title.
func loadMarkdown(data []byte) (*LoadedFile, error) {
	loaded, err := loadText(data)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(loaded.Text, "\n") {
		if heading, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			loaded.Title = strings.TrimSpace(heading)
			break
		}
	}
	return loaded, nil
}

const htmlBlocks = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd"

// loadHTML extracts the text of block elements, one paragraph each.
func loadHTML(data []byte) (*LoadedFile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var paragraphs []string
	doc.Find("body").Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are part of their outermost block's text.
		if s.ParentsFiltered(htmlBlocks).Length() > 0 {
			return
		}
		if text := collapseSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := collapseSpace(doc.Find("body").Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	return &LoadedFile{
		Text:  strings.Join(paragraphs, "\n\n"),
		Title: collapseSpace(doc.Find("title").First().Text()),
	}, nil
}

func loadPDF(data []byte) (*LoadedFile, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	return &LoadedFile{Text: string(out)}, nil
}

// loadSpreadsheet renders every sheet as a paragraph of tab-separated rows
// headed by the sheet name.
func loadSpreadsheet(data []byte) (*LoadedFile, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	defer func() { _ = f.Close() }()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString("Sheet: ")
		b.WriteString(sheet)
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteByte('\n')
			b.WriteString(line)
		}
		sheets = append(sheets, b.String())
	}
	return &LoadedFile{Text: strings.Join(sheets, "\n\n")}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
