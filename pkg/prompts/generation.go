package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inputs shared by the generation prompts. Empty fields are omitted from
// the rendered prompt.
type GenerationInput struct {
	UserRequirements  string
	ShortPlanning     string
	ImprovementPoints []string
	SystemDesign      string
	Prefabs           []map[string]any
	Research          map[string]any
}

// ShortPlanningPrompt asks the model for a step-by-step project plan in
// Markdown. Re-callable with a prior plan and improvement points to refine.
func (s *Store) ShortPlanningPrompt(language string, in GenerationInput) string {
	var b strings.Builder
	if s.Resolve(language) == LanguageChinese {
		b.WriteString("请为以下需求产出一个分步骤的项目规划(Markdown 列表,每步一句话):\n\n")
		writeSection(&b, "需求", in.UserRequirements)
		writeSection(&b, "已有规划", in.ShortPlanning)
		writeList(&b, "改进要点", in.ImprovementPoints)
		writeJSON(&b, "可用预制件", in.Prefabs)
		writeJSON(&b, "调研结论", in.Research)
		b.WriteString("只输出规划本身,不要额外解释。")
	} else {
		b.WriteString("Produce a step-by-step project plan for the following requirement as a Markdown list, one sentence per step:\n\n")
		writeSection(&b, "Requirement", in.UserRequirements)
		writeSection(&b, "Existing plan", in.ShortPlanning)
		writeList(&b, "Improvement points", in.ImprovementPoints)
		writeJSON(&b, "Available prefabs", in.Prefabs)
		writeJSON(&b, "Research findings", in.Research)
		b.WriteString("Output only the plan itself, no extra commentary.")
	}
	return b.String()
}

// DesignPrompt asks the model for the full design.md document.
func (s *Store) DesignPrompt(language string, in GenerationInput) string {
	var b strings.Builder
	if s.Resolve(language) == LanguageChinese {
		b.WriteString("请基于以下信息撰写完整的系统设计文档(Markdown,含架构、模块划分、数据流和关键接口;流程图使用 mermaid):\n\n")
		writeSection(&b, "需求", in.UserRequirements)
		writeSection(&b, "项目规划", in.ShortPlanning)
		writeJSON(&b, "选定预制件", in.Prefabs)
		writeJSON(&b, "调研结论", in.Research)
	} else {
		b.WriteString("Write the complete system design document in Markdown, covering architecture, module breakdown, data flow, and key interfaces; use mermaid for diagrams:\n\n")
		writeSection(&b, "Requirement", in.UserRequirements)
		writeSection(&b, "Project plan", in.ShortPlanning)
		writeJSON(&b, "Selected prefabs", in.Prefabs)
		writeJSON(&b, "Research findings", in.Research)
	}
	return b.String()
}

// DatabaseDesignPrompt asks for database_design.md, grounded on the
// already-generated system design.
func (s *Store) DatabaseDesignPrompt(language string, in GenerationInput) string {
	var b strings.Builder
	if s.Resolve(language) == LanguageChinese {
		b.WriteString("请基于系统设计撰写数据库设计文档(Markdown,含实体、表结构、索引与关系,ER 图使用 mermaid):\n\n")
		writeSection(&b, "需求", in.UserRequirements)
		writeSection(&b, "系统设计", in.SystemDesign)
		writeSection(&b, "项目规划", in.ShortPlanning)
		writeJSON(&b, "选定预制件", in.Prefabs)
	} else {
		b.WriteString("Write the database design document in Markdown, covering entities, table schemas, indexes, and relations; use mermaid for the ER diagram:\n\n")
		writeSection(&b, "Requirement", in.UserRequirements)
		writeSection(&b, "System design", in.SystemDesign)
		writeSection(&b, "Project plan", in.ShortPlanning)
		writeJSON(&b, "Selected prefabs", in.Prefabs)
	}
	return b.String()
}

// EditPrompt asks for a JSON edit proposal over an existing document. The
// response must be a JSON object with edits[] and summary; every search
// string must quote the document verbatim.
func (s *Store) EditPrompt(language, documentContent, editInstructions string) string {
	var b strings.Builder
	if s.Resolve(language) == LanguageChinese {
		b.WriteString("请针对以下文档生成修改建议。输出 JSON 对象:{\"edits\":[{\"search\":\"原文\",\"replace\":\"替换文本\",\"reason\":\"原因\"}],\"summary\":\"一句话总结\"}。每个 search 必须逐字出现在文档中。\n\n")
		writeSection(&b, "文档内容", documentContent)
		writeSection(&b, "修改要求", editInstructions)
	} else {
		b.WriteString("Generate an edit proposal for the document below. Output a JSON object: {\"edits\":[{\"search\":\"verbatim original\",\"replace\":\"replacement\",\"reason\":\"why\"}],\"summary\":\"one sentence\"}. Every search string must appear verbatim in the document.\n\n")
		writeSection(&b, "Document", documentContent)
		writeSection(&b, "Edit instructions", editInstructions)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title, content string) {
	if content == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, content)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func writeJSON(b *strings.Builder, title string, v any) {
	switch typed := v.(type) {
	case []map[string]any:
		if len(typed) == 0 {
			return
		}
	case map[string]any:
		if len(typed) == 0 {
			return
		}
	default:
		if v == nil {
			return
		}
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "## %s\n\n```json\n%s\n```\n\n", title, raw)
}
