package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// htmlTemplate wraps the rendered body into a self-contained page. The
// Mermaid script hook turns ```mermaid fences into rendered diagrams when
// the page is opened in a browser.
const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #24292f; }
h1, h2, h3 { border-bottom: 1px solid #d8dee4; padding-bottom: .3em; }
pre { background: #f6f8fa; padding: 1em; overflow-x: auto; border-radius: 6px; }
code { font-family: ui-monospace, "SF Mono", Menlo, Consolas, monospace; font-size: .9em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d8dee4; padding: .4em .8em; }
blockquote { border-left: 4px solid #d8dee4; margin-left: 0; padding-left: 1em; color: #57606a; }
.mermaid { background: #fff; }
</style>
<script type="module">
import mermaid from "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.esm.min.mjs";
mermaid.initialize({ startOnLoad: true });
</script>
</head>
<body>
%s
</body>
</html>
`

// MarkdownToHTML renders a design document as a standalone HTML page.
func MarkdownToHTML(title, markdown string) (string, error) {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(
				util.Prioritized(&mermaidRenderer{}, 100),
			),
		),
	)

	var body bytes.Buffer
	if err := gm.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return fmt.Sprintf(htmlTemplate, htmlEscape(title), body.String()), nil
}

// mermaidRenderer overrides fenced code blocks: mermaid fences become
// diagram divs, everything else renders as a plain pre/code block.
type mermaidRenderer struct{}

func (r *mermaidRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
}

func (r *mermaidRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	lang := string(n.Language(source))

	if lang == "mermaid" {
		_, _ = w.WriteString(`<div class="mermaid">` + "\n")
		writeCodeLines(w, source, node, false)
		_, _ = w.WriteString("</div>\n")
		return ast.WalkSkipChildren, nil
	}

	if lang != "" {
		_, _ = fmt.Fprintf(w, "<pre><code class=\"language-%s\">", htmlEscape(lang))
	} else {
		_, _ = w.WriteString("<pre><code>")
	}
	writeCodeLines(w, source, node, true)
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func writeCodeLines(w util.BufWriter, source []byte, node ast.Node, escape bool) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		text := string(line.Value(source))
		if escape {
			text = htmlEscape(text)
		}
		_, _ = w.WriteString(text)
	}
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
