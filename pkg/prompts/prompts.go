package prompts

import (
	"fmt"
	"strings"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// Supported languages. Unknown languages fall back to the default.
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// Config selects the prompt language set.
type Config struct {
	DefaultLanguage    string   `yaml:"default_language,omitempty"`
	SupportedLanguages []string `yaml:"supported_languages,omitempty"`
}

// Store serves the system prompt and per-tool generation prompts by
// language. The system prompt is augmented at send time with the list of
// documents already generated in the session.
type Store struct {
	defaultLanguage string
	supported       map[string]bool
}

func NewStore(cfg Config) *Store {
	def := cfg.DefaultLanguage
	if def == "" {
		def = LanguageEnglish
	}
	langs := cfg.SupportedLanguages
	if len(langs) == 0 {
		langs = []string{LanguageEnglish, LanguageChinese}
	}
	supported := make(map[string]bool, len(langs))
	for _, l := range langs {
		supported[l] = true
	}
	if !supported[def] {
		supported[def] = true
	}
	return &Store{defaultLanguage: def, supported: supported}
}

// Resolve normalizes a requested language to a supported one.
func (s *Store) Resolve(language string) string {
	if s.supported[language] {
		return language
	}
	return s.defaultLanguage
}

// SystemPrompt returns the orchestrator system prompt for the language,
// with the available-documents section built from the session's generated
// documents.
func (s *Store) SystemPrompt(language string, documents []protocol.Document) string {
	language = s.Resolve(language)

	base := systemPromptEN
	if language == LanguageChinese {
		base = systemPromptZH
	}
	return base + availableDocumentsSection(language, documents)
}

func availableDocumentsSection(language string, documents []protocol.Document) string {
	latest := latestByFilename(documents)
	if len(latest) == 0 {
		return ""
	}

	var b strings.Builder
	if language == LanguageChinese {
		b.WriteString("\n\n当前会话已生成的文档:\n")
	} else {
		b.WriteString("\n\nDocuments already generated in this session:\n")
	}
	for _, doc := range latest {
		fmt.Fprintf(&b, "- %s (%s)\n", doc.Filename, doc.Type)
	}
	if language == LanguageChinese {
		b.WriteString("可以使用 view_document 查看、edit_document 修改、export_document 导出这些文档。")
	} else {
		b.WriteString("Use view_document to read, edit_document to modify, and export_document to export them.")
	}
	return b.String()
}

// latestByFilename keeps the most recent generation per filename, in
// first-seen filename order.
func latestByFilename(documents []protocol.Document) []protocol.Document {
	var order []string
	byName := make(map[string]protocol.Document)
	for _, doc := range documents {
		if existing, ok := byName[doc.Filename]; !ok {
			order = append(order, doc.Filename)
			byName[doc.Filename] = doc
		} else if doc.Timestamp >= existing.Timestamp {
			byName[doc.Filename] = doc
		}
	}
	out := make([]protocol.Document, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

const systemPromptEN = `You are GTPlanner, a planning agent that turns product ideas into system design documents through dialogue.

Work iteratively: understand the requirement, recommend relevant prefabs, research unknowns, draft a short plan, then generate design documents. Use the available tools; call several in parallel when their inputs are independent. Prefer refining existing documents over regenerating them from scratch.

When you call a tool, wait for its result before drawing conclusions from it. Answer in the user's language.`

const systemPromptZH = `你是 GTPlanner,一个通过对话把产品想法转化为系统设计文档的规划智能体。

请迭代式地工作:理解需求、推荐相关预制件、调研未知问题、先产出简短规划,再生成设计文档。善用可用工具;当输入相互独立时可以并行调用多个工具。优先在已有文档上修改,而不是从头重新生成。

调用工具后,请等待结果再据此得出结论。使用用户的语言回答。`
