package domain

import "fmt"

// DocumentKey identifies one of the contractual documents of a study.
type DocumentKey string

const (
	DocumentQuote         DocumentKey = "devis"
	DocumentAgreement     DocumentKey = "ce"
	DocumentMissionRecap  DocumentKey = "rm"
	DocumentFinalApproval DocumentKey = "pvrf"
)

// Document describes a checklist entry.
type Document struct {
	Key   DocumentKey `json:"key"`
	Label string      `json:"label"`
}

// Documents is the checklist in display order.
var Documents = []Document{
	{Key: DocumentQuote, Label: "Devis"},
	{Key: DocumentAgreement, Label: "Convention d'étude (CE)"},
	{Key: DocumentMissionRecap, Label: "Récapitulatif de mission (RM)"},
	{Key: DocumentFinalApproval, Label: "PVRF"},
}

// ParseDocumentKey validates a document key.
func ParseDocumentKey(raw string) (DocumentKey, error) {
	for _, d := range Documents {
		if string(d.Key) == raw {
			return d.Key, nil
		}
	}
	return "", &ErrValidation{Field: "document", Message: fmt.Sprintf("unknown document %q", raw)}
}

// DocumentState is one checklist line.
type DocumentState struct {
	Key     DocumentKey `json:"key"`
	Label   string      `json:"label"`
	Checked bool        `json:"checked"`
}

// Checklist is returned by GET /v1/studies/{id}/documents.
type Checklist struct {
	StudyID   string          `json:"studyId"`
	Status    Status          `json:"status"`
	Documents []DocumentState `json:"documents"`
	Completed int             `json:"completed"`
}

// NewChecklist fills every document, missing entries are unchecked.
func NewChecklist(study Study, checked map[DocumentKey]bool) *Checklist {
	cl := &Checklist{
		StudyID:   study.ID,
		Status:    study.Status,
		Documents: make([]DocumentState, 0, len(Documents)),
	}
	for _, d := range Documents {
		on := checked[d.Key]
		if on {
			cl.Completed++
		}
		cl.Documents = append(cl.Documents, DocumentState{Key: d.Key, Label: d.Label, Checked: on})
	}
	return cl
}

// SetDocumentRequest is the body of PUT /v1/studies/{id}/documents/{document}.
type SetDocumentRequest struct {
	Checked bool `json:"checked"`
}
