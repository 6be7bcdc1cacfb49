package logging

// Standardized attribute keys shared across components.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	FieldSessionID = "session_id"
	FieldArticleID = "article_id"
	FieldErrorHint = "error_hint"
)
