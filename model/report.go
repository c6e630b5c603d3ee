package model

// ReportStatus is the terminal state of one pipeline run
type ReportStatus string

const (
	ReportCompleted           ReportStatus = "completed"
	ReportUnclassified        ReportStatus = "unclassified"
	ReportTemplateUnavailable ReportStatus = "template_unavailable"
	ReportFailed              ReportStatus = "failed"
)

// Report is what a pipeline run hands back to its caller. Result is only
// set when Status is ReportCompleted; on other statuses the type and the
// extracted clauses are still surfaced when they are known.
type Report struct {
	ID            string            `json:"id"`
	Status        ReportStatus      `json:"status"`
	AgreementType AgreementType     `json:"agreement_type"`
	Clauses       []Clause          `json:"clauses,omitempty"`
	Summarized    bool              `json:"summarized"`
	PageCount     int               `json:"page_count"`
	Result        *ComparisonResult `json:"result,omitempty"`
	Failure       string            `json:"failure,omitempty"`
}
