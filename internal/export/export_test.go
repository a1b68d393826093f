package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTextToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "single paragraph", input: "Hello world", expected: "<p>Hello world</p>\n"},
		{name: "paragraphs", input: "One\n\nTwo", expected: "<p>One</p>\n<p>Two</p>\n"},
		{name: "line breaks", input: "One\r\nTwo", expected: "<p>One<br>Two</p>\n"},
		{name: "escaped", input: "<script>x</script>", expected: "<p>&lt;script&gt;x&lt;/script&gt;</p>\n"},
		{name: "extra blank lines", input: "\n\nOne\n\n\n\nTwo\n", expected: "<p>One</p>\n<p>Two</p>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(TextToHTML(tt.input)); got != tt.expected {
				t.Errorf("TextToHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Book v1.2", "My-Book-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "book"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func sampleBook() Book {
	return Book{
		Title:       "Tide Tables",
		Description: "A harbor story",
		Author:      "Ada",
		Tags:        []string{"Sea"},
		UpdatedAt:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Chapters: []Chapter{
			{Number: 1, Title: "Arrival", Text: "The boats came in.\n\nNobody waved."},
			{Title: "Departure", Description: "Morning", Text: "They left <early>."},
		},
	}
}

func TestExportHTML(t *testing.T) {
	result, err := NewService().Export(context.Background(), sampleBook(), FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Tide-Tables.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata: %+v", result)
	}

	html := string(result.Data)
	for _, want := range []string{
		"Tide Tables",
		"A harbor story",
		"Mar 5, 2024",
		"Chapter 1: Arrival",
		"Chapter 2: Departure",
		"<p>The boats came in.</p>",
		"They left &lt;early&gt;.",
		`class="tag-sea"`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Index(html, "Arrival") > strings.Index(html, "Departure") {
		t.Error("chapters rendered out of order")
	}
}

func TestExportDelegatesBinaryFormats(t *testing.T) {
	var gotHTML, gotTitle string
	svc := &Service{
		pdf: func(_ context.Context, html, title string) (*Result, error) {
			gotHTML, gotTitle = html, title
			return &Result{Data: []byte("%PDF"), Filename: "x.pdf", MimeType: "application/pdf"}, nil
		},
		docx: func(context.Context, string, string) (*Result, error) {
			return nil, ErrDOCXDependencyMissing
		},
	}

	result, err := svc.Export(context.Background(), sampleBook(), FormatPDF)
	if err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if string(result.Data) != "%PDF" || gotTitle != "Tide Tables" || !strings.Contains(gotHTML, "Chapter 1: Arrival") {
		t.Fatalf("pdf exporter received unexpected input: title=%q", gotTitle)
	}

	if _, err := svc.Export(context.Background(), sampleBook(), FormatDOCX); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("expected docx dependency error, got %v", err)
	}
	if _, err := svc.Export(context.Background(), sampleBook(), Format("epub")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, raw := range []string{"html", "pdf", "docx"} {
		if f, err := ParseFormat(raw); err != nil || string(f) != raw {
			t.Fatalf("ParseFormat(%q) = %q, %v", raw, f, err)
		}
	}
	if _, err := ParseFormat("PDF"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestPandocArgs(t *testing.T) {
	p := pandoc{binary: "pandoc", target: "docx"}
	got := strings.Join(p.args("  Tide Tables "), " ")
	want := "--from=html --to=docx --standalone --output=- --metadata=title:Tide Tables"
	if got != want {
		t.Fatalf("args = %q, want %q", got, want)
	}
	if got := p.args(""); len(got) != 4 {
		t.Fatalf("untitled args = %v", got)
	}
}

func TestPandocMissingBinary(t *testing.T) {
	p := pandoc{binary: "scrivono-no-such-pandoc", target: "docx"}
	if _, err := p.convert(context.Background(), "<p>x</p>", "x"); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("expected ErrDOCXDependencyMissing, got %v", err)
	}
}
