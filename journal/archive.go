package journal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageSource is the slice of a browser tab the archiver needs.
type PageSource interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
}

// Archiver snapshots permalink pages into markdown stored on the post
// row, so the journal keeps what the page showed even after the platform
// rewrites or removes it.
type Archiver struct {
	store  *Store
	policy *bluemonday.Policy
	conv   *converter.Converter
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing through store.
func NewArchiver(store *Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:  store,
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// Archive navigates src to the post's permalink, distills the rendered
// DOM to markdown, and stores it on the post row.
func (a *Archiver) Archive(ctx context.Context, src PageSource, postID, permalink string) error {
	if permalink == "" {
		return fmt.Errorf("journal: post %s has no permalink to archive", postID)
	}

	if err := src.Navigate(ctx, permalink); err != nil {
		return fmt.Errorf("journal: archive navigate: %w", err)
	}
	raw, err := src.HTML(ctx)
	if err != nil {
		return fmt.Errorf("journal: archive snapshot: %w", err)
	}

	md, err := a.Distill(raw, permalink)
	if err != nil {
		return err
	}

	res, err := a.store.DB.ExecContext(ctx,
		`UPDATE posts SET archive_md = ?, archived_at = ? WHERE id = ?`,
		md, time.Now().UnixMilli(), postID)
	if err != nil {
		return fmt.Errorf("journal: store archive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	a.logger.Info("journal: post archived", "post_id", postID, "bytes", len(md))
	return nil
}

// Distill turns a raw page snapshot into markdown: parse, drop the
// page chrome, sanitize what is left, convert. Pages whose content
// defeats conversion fall back to their plain text.
func (a *Archiver) Distill(rawHTML, pageURL string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("journal: parse snapshot: %w", err)
	}

	body := findBody(doc)
	if body == nil {
		body = doc
	}
	pruneChrome(body)

	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return "", fmt.Errorf("journal: render pruned dom: %w", err)
	}
	clean := a.policy.Sanitize(buf.String())

	md, err := a.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return collectText(body), nil
	}
	return strings.TrimSpace(md), nil
}

// pruneChrome removes non-content subtrees in place.
func pruneChrome(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if isChrome(c) {
			n.RemoveChild(c)
			continue
		}
		pruneChrome(c)
	}
}

func isChrome(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template,
		atom.Nav, atom.Header, atom.Footer, atom.Aside,
		atom.Iframe, atom.Svg, atom.Form, atom.Button:
		return true
	}
	for _, attr := range n.Attr {
		switch attr.Key {
		case "role":
			switch strings.ToLower(attr.Val) {
			case "navigation", "banner", "complementary", "dialog", "search":
				return true
			}
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		}
	}
	return false
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

// collectText gathers the visible text of a subtree, space-joined.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if isChrome(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
