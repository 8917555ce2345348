package protocol

// Document is a generated design artifact. Documents are identified by
// Filename within a session; re-emitting a filename supersedes the previous
// version while the history list keeps every generation.
type Document struct {
	Type      string  `json:"type"`
	Filename  string  `json:"filename"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// Known document filenames.
const (
	FilenameDesign         = "design.md"
	FilenameDatabaseDesign = "database_design.md"
	FilenamePrefabsInfo    = "prefabs_info.md"
)

// Document types accepted by edit_document and export_document.
const (
	DocumentTypeDesign         = "design"
	DocumentTypeDatabaseDesign = "database_design"
)

// DocumentEdit is one search/replace operation of an edit proposal. Search
// must appear verbatim in the target document at proposal time.
type DocumentEdit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
	Reason  string `json:"reason"`
}

// EditProposal is a pending set of edits over an existing document. It is
// returned by the edit_document tool and streamed as a document_edit_proposal
// event; applying it is the caller's decision.
type EditProposal struct {
	ProposalID       string         `json:"proposal_id"`
	DocumentType     string         `json:"document_type"`
	DocumentFilename string         `json:"document_filename"`
	Edits            []DocumentEdit `json:"edits"`
	Summary          string         `json:"summary"`
	PreviewContent   string         `json:"preview_content,omitempty"`
}

// LatestDocument returns the most recent document with the given filename.
func LatestDocument(docs []Document, filename string) (Document, bool) {
	var (
		found  bool
		latest Document
	)
	for _, d := range docs {
		if d.Filename != filename {
			continue
		}
		if !found || d.Timestamp >= latest.Timestamp {
			latest = d
			found = true
		}
	}
	return latest, found
}
