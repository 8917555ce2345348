package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/gtplanner/gtplanner/pkg/export"
	"github.com/gtplanner/gtplanner/pkg/flow"
	"github.com/gtplanner/gtplanner/pkg/protocol"
	"github.com/gtplanner/gtplanner/pkg/streaming"
)

func filenameForType(documentType string) (string, bool) {
	switch documentType {
	case protocol.DocumentTypeDesign:
		return protocol.FilenameDesign, true
	case protocol.DocumentTypeDatabaseDesign:
		return protocol.FilenameDatabaseDesign, true
	default:
		return "", false
	}
}

// editDocumentTool proposes search/replace edits over an existing
// document. The proposal is returned and streamed; applying it stays the
// caller's decision.
type editDocumentTool struct {
	deps Deps
}

type editDocumentArgs struct {
	DocumentType     string `json:"document_type" jsonschema_description:"Which document to edit: design or database_design"`
	EditInstructions string `json:"edit_instructions" jsonschema_description:"What to change and why"`
}

func (t *editDocumentTool) Name() string { return "edit_document" }

func (t *editDocumentTool) Description() string {
	return "Propose search/replace edits for a generated document. Returns a proposal pending user confirmation."
}

func (t *editDocumentTool) Parameters() map[string]interface{} {
	return SchemaFor(&editDocumentArgs{})
}

func (t *editDocumentTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args editDocumentArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	filename, ok := filenameForType(args.DocumentType)
	if !ok {
		return Fail("unknown document_type %q (expected design or database_design)", args.DocumentType), nil
	}
	doc, ok := shared.LatestDocument(filename)
	if !ok {
		return Fail("document %s has not been generated yet", filename), nil
	}

	answer, err := generate(ctx, t.deps.LLM, t.deps.Prompts.EditPrompt(shared.Language, doc.Content, args.EditInstructions))
	if err != nil {
		return Fail("edit generation failed: %s", err.Error()), nil
	}

	parsed, err := parseEditResponse(answer)
	if err != nil {
		return Fail("model returned an invalid edit proposal: %s", err.Error()), nil
	}
	if len(parsed.Edits) == 0 {
		return Fail("model proposed no edits"), nil
	}

	// Every search string must quote the document verbatim.
	for _, edit := range parsed.Edits {
		if !strings.Contains(doc.Content, edit.Search) {
			return Fail("proposed edit does not match the document: %q not found", truncateForError(edit.Search)), nil
		}
	}

	preview := doc.Content
	for _, edit := range parsed.Edits {
		preview = strings.Replace(preview, edit.Search, edit.Replace, 1)
	}

	proposal := &protocol.EditProposal{
		ProposalID:       uuid.NewString(),
		DocumentType:     args.DocumentType,
		DocumentFilename: filename,
		Edits:            parsed.Edits,
		Summary:          parsed.Summary,
		PreviewContent:   preview,
	}

	shared.Emit(ctx, streaming.NewDocumentEditProposalEvent(shared.SessionID, proposal))
	return OK(map[string]interface{}{"proposal": proposal}), nil
}

type editResponse struct {
	Edits   []protocol.DocumentEdit `json:"edits"`
	Summary string                  `json:"summary"`
}

// parseEditResponse tolerates prose around the JSON object.
func parseEditResponse(answer string) (*editResponse, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start >= 0 && end > start {
		answer = answer[start : end+1]
	}
	var parsed editResponse
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func truncateForError(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// viewDocumentTool returns the latest content of a generated document.
type viewDocumentTool struct{}

type viewDocumentArgs struct {
	Filename string `json:"filename" jsonschema_description:"Document filename, e.g. design.md"`
}

func (t *viewDocumentTool) Name() string { return "view_document" }

func (t *viewDocumentTool) Description() string {
	return "Read the latest version of a document generated in this session."
}

func (t *viewDocumentTool) Parameters() map[string]interface{} {
	return SchemaFor(&viewDocumentArgs{})
}

func (t *viewDocumentTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args viewDocumentArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}

	doc, ok := shared.LatestDocument(args.Filename)
	if !ok {
		return Fail("document %s not found in this session", args.Filename), nil
	}
	return OK(map[string]interface{}{
		"filename": doc.Filename,
		"content":  doc.Content,
	}), nil
}

// exportDocumentTool writes generated documents to disk in the requested
// formats.
type exportDocumentTool struct {
	deps Deps
}

type exportDocumentArgs struct {
	DocumentType  string   `json:"document_type" jsonschema_description:"design, database_design, or all"`
	ExportFormats []string `json:"export_formats" jsonschema_description:"Formats to write: md, html, txt, pdf, docx"`
	OutputDir     string   `json:"output_dir,omitempty" jsonschema_description:"Target directory, defaults to the configured output dir"`
}

func (t *exportDocumentTool) Name() string { return "export_document" }

func (t *exportDocumentTool) Description() string {
	return "Export generated documents to files. Markdown, HTML and plain text are supported; pdf and docx are declared but not implemented."
}

func (t *exportDocumentTool) Parameters() map[string]interface{} {
	return SchemaFor(&exportDocumentArgs{})
}

func (t *exportDocumentTool) Execute(ctx context.Context, rawArgs map[string]interface{}, shared *flow.Shared) (Result, error) {
	var args exportDocumentArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return Fail("%s", err.Error()), nil
	}
	if len(args.ExportFormats) == 0 {
		args.ExportFormats = []string{export.FormatMarkdown}
	}

	var filenames []string
	switch args.DocumentType {
	case "all":
		filenames = []string{protocol.FilenameDesign, protocol.FilenameDatabaseDesign, protocol.FilenamePrefabsInfo}
	default:
		filename, ok := filenameForType(args.DocumentType)
		if !ok {
			return Fail("unknown document_type %q (expected design, database_design, or all)", args.DocumentType), nil
		}
		filenames = []string{filename}
	}

	saved := make([]map[string]interface{}, 0)
	var failures []string
	exported := 0
	for _, filename := range filenames {
		doc, ok := shared.LatestDocument(filename)
		if !ok {
			if args.DocumentType != "all" {
				return Fail("document %s has not been generated yet", filename), nil
			}
			continue
		}
		results, err := t.deps.Exporter.Export(doc, args.ExportFormats, args.OutputDir)
		if err != nil {
			return Fail("export failed: %s", err.Error()), nil
		}
		for _, r := range results {
			if r.Success() {
				exported++
				saved = append(saved, map[string]interface{}{
					"filename": filename,
					"format":   r.Format,
					"path":     r.Path,
				})
			} else {
				failures = append(failures, r.Format+": "+r.Error)
			}
		}
	}

	if exported == 0 {
		if len(failures) > 0 {
			return Fail("no files exported: %s", strings.Join(failures, "; ")), nil
		}
		return Fail("no documents available to export"), nil
	}

	data := map[string]interface{}{"files": saved}
	if len(failures) > 0 {
		data["failures"] = failures
	}
	return OK(data), nil
}
