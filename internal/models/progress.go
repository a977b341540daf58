package models

// ProgressUpdate is broadcast to admin websocket clients while a job runs.
type ProgressUpdate struct {
	JobID     string  `json:"jobId"`
	Message   string  `json:"message"`
	Progress  float64 `json:"progress"`
	Entity    string  `json:"entity,omitempty"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Status    string  `json:"status"` // e.g. "in_progress", "completed", "failed"
	Done      bool    `json:"done"`
}
