package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var bookTemplate = template.Must(template.New("book.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/book.html"))

type TemplateData struct {
	Title       string
	Description string
	Author      string
	Tags        []string
	UpdatedAt   time.Time
	Chapters    []TemplateChapter
}

type TemplateChapter struct {
	Heading     string
	Description string
	BodyHTML    template.HTML
}

func newTemplateData(book Book) TemplateData {
	data := TemplateData{
		Title:       book.Title,
		Description: book.Description,
		Author:      book.Author,
		Tags:        book.Tags,
		UpdatedAt:   book.UpdatedAt,
		Chapters:    make([]TemplateChapter, 0, len(book.Chapters)),
	}
	for i, chapter := range book.Chapters {
		number := chapter.Number
		if number <= 0 {
			number = i + 1
		}
		heading := "Chapter " + strconv.Itoa(number)
		if chapter.Title != "" {
			heading += ": " + chapter.Title
		}
		data.Chapters = append(data.Chapters, TemplateChapter{
			Heading:     heading,
			Description: chapter.Description,
			BodyHTML:    TextToHTML(chapter.Text),
		})
	}
	return data
}

// RenderBookHTML renders the book template.
func RenderBookHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := bookTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
