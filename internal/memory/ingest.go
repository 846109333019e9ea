package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const maxWebBody = 2 << 20

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]+`)
)

// sanitize drops invalid UTF-8 sequences.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "")
}

// AddDocumentsPaths ingests every directory in paths. A failing directory is
// logged and skipped so one bad path does not block the rest.
func (s *Semantic) AddDocumentsPaths(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := s.AddDocumentsPath(ctx, p); err != nil {
			s.logger.Warn("document path not ingested", zap.String("path", p), zap.Error(err))
		}
	}
}

// AddDocumentsPath ingests the regular, non-hidden files directly inside
// dir, each under its base file name. HTML files are reduced to text.
func (s *Semantic) AddDocumentsPath(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read documents dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read document %s: %w", e.Name(), err)
		}
		text := string(data)
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".html", ".htm":
			if text, err = HTMLToText(text); err != nil {
				return fmt.Errorf("parse document %s: %w", e.Name(), err)
			}
		}
		if err := s.AddDocument(ctx, text, "", e.Name(), nil); err != nil {
			return err
		}
		n++
	}
	s.logger.Info("documents ingested", zap.String("path", dir), zap.Int("count", n))
	return nil
}

// AddWebURLs fetches and ingests pages not ingested before, tagging them
// with source "web". Fetch failures are logged and skipped.
func (s *Semantic) AddWebURLs(ctx context.Context, urls []string) {
	s.mu.Lock()
	seen := make(map[string]bool, len(s.webURLs))
	for _, u := range s.webURLs {
		seen[u] = true
	}
	var fresh []string
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			fresh = append(fresh, u)
		}
	}
	s.webURLs = append(s.webURLs, fresh...)
	s.mu.Unlock()

	for _, u := range fresh {
		if err := s.addWebURL(ctx, u); err != nil {
			s.logger.Warn("web page not ingested", zap.String("url", u), zap.Error(err))
		}
	}
}

// WebURLs lists the URLs already ingested.
func (s *Semantic) WebURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.webURLs...)
}

func (s *Semantic) addWebURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		if text, err = HTMLToText(text); err != nil {
			return fmt.Errorf("parse html: %w", err)
		}
	}
	return s.AddDocument(ctx, text, url, "", map[string]string{"source": "web"})
}

// HTMLToText extracts readable text from an HTML page, skipping scripts,
// styles and navigation chrome.
func HTMLToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)

	out := multiSpace.ReplaceAllString(sb.String(), " ")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	out = multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer":
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "title":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}
