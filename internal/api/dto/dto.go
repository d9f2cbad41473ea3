package dto

// ConvertRequest is the conversion submission payload. Compress is a
// pointer so an omitted field defaults to true rather than false.
type ConvertRequest struct {
	EpubPath     string  `json:"epub_path" binding:"required"`
	Voice        string  `json:"voice"`
	Speed        float64 `json:"speed"`
	UseCuda      bool    `json:"use_cuda"`
	Compress     *bool   `json:"compress"`
	OutputFolder string  `json:"output_folder"`
}

type ConvertResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type UploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// AutoCleanupRequest toggles the auto-cleanup policy. The field is a
// pointer so "false" can be told apart from "missing".
type AutoCleanupRequest struct {
	AutoCleanup *bool `json:"auto_cleanup" binding:"required"`
}

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
