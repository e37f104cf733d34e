package book

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// Export renders a book in the given format and persists the rendition
// as an artifact.
func (b *Builder) Export(ctx context.Context, bookID, format string) (*store.Artifact, error) {
	book, err := b.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, bookErr("Export", fmt.Sprintf("book %q", bookID), err)
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case FormatMarkdown:
		data = []byte(ExportMarkdown(book))
		contentType = "text/markdown"
	case FormatHTML:
		data = []byte(ExportHTML(book))
		contentType = "text/html"
	case FormatJSON:
		data, err = ExportJSON(book)
		if err != nil {
			return nil, bookErr("Export", "encode book", err)
		}
		contentType = "application/json"
	default:
		return nil, bookErr("Export", fmt.Sprintf("unknown format %q", format), protocol.ErrInvalidArgs)
	}

	artifact := &store.Artifact{
		ID:          uuid.NewString(),
		BookID:      book.ID,
		Format:      format,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	if err := b.store.SaveArtifact(ctx, artifact); err != nil {
		return nil, bookErr("Export", "save artifact", err)
	}
	return artifact, nil
}

// ExportMarkdown renders the book as a markdown document.
func ExportMarkdown(b *store.Book) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", b.Title)
	if b.Description != "" {
		fmt.Fprintf(&sb, "*%s*\n\n", b.Description)
	}
	if b.Introduction != "" {
		fmt.Fprintf(&sb, "## Introduction\n\n%s\n\n", b.Introduction)
	}
	for _, ch := range b.Chapters {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", ch.Title, ch.Content)
	}
	fmt.Fprintf(&sb, "---\n\nAssembled %s.\n", b.CreatedAt.Format("2006-01-02"))
	return sb.String()
}

// ExportHTML renders the book as a standalone HTML5 document. Text
// content is escaped; double-newline-separated paragraphs become <p>
// elements.
func ExportHTML(b *store.Book) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(b.Title))
	sb.WriteString("<style>\nbody { font-family: Georgia, serif; max-width: 42em; margin: 2em auto; line-height: 1.6; }\nh1, h2 { font-family: Helvetica, sans-serif; }\n.description { font-style: italic; color: #555; }\nhr { border: none; border-top: 1px solid #ccc; margin: 2em 0; }\n</style>\n</head>\n<body>\n")

	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(b.Title))
	if b.Description != "" {
		fmt.Fprintf(&sb, "<p class=\"description\">%s</p>\n", html.EscapeString(b.Description))
	}
	if b.Introduction != "" {
		sb.WriteString("<h2>Introduction</h2>\n")
		writeParagraphs(&sb, b.Introduction)
	}
	for _, ch := range b.Chapters {
		fmt.Fprintf(&sb, "<h2>%s</h2>\n", html.EscapeString(ch.Title))
		writeParagraphs(&sb, ch.Content)
	}
	fmt.Fprintf(&sb, "<hr>\n<p>Assembled %s.</p>\n", b.CreatedAt.Format("2006-01-02"))
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func writeParagraphs(sb *strings.Builder, text string) {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		fmt.Fprintf(sb, "<p>%s</p>\n", html.EscapeString(para))
	}
}

// ExportJSON renders the book as its canonical JSON structure.
func ExportJSON(b *store.Book) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}
