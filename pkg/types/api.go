package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexString accepts a JSON string, number or bool and keeps its text form.
// Upstream job producers send ids and yes/no flags in any of these shapes.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	switch string(b) {
	case "true", "false":
		*s = FlexString(b)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string, number or bool: %s", string(b))
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

// InvocationRequest is the POST /invocations payload. A body carrying a
// "batch" array is a batch request; otherwise it describes a single item.
type InvocationRequest struct {
	// Local path or s3:// URI of the source image.
	// example: s3://frames/job-1/0001.png
	InputFilePath string `json:"input_file_path,omitempty" example:"s3://frames/job-1/0001.png"`
	// Local path or s3:// URI for the enhanced image.
	// example: s3://frames/job-1/out/0001.png
	OutputFilePath string `json:"output_file_path,omitempty" example:"s3://frames/job-1/out/0001.png"`
	// Job identifier echoed in the response.
	// example: job-1
	JobID FlexString `json:"job_id,omitempty" example:"job-1"`
	// Item identifier echoed in the response.
	// example: 7
	BatchID FlexString `json:"batch_id,omitempty" example:"7"`
	// "yes" to run the face restoration path.
	// example: no
	FaceEnhanced FlexString `json:"face_enhanced,omitempty" example:"no"`
	// "yes"/"true" to use the anime-tuned model.
	// example: no
	IsAnime FlexString `json:"is_anime,omitempty" example:"no"`
	// Tile edge in pixels; 0 lets the server decide.
	// example: 0
	TileSize int `json:"tile_size,omitempty" example:"0"`
	// Optional restoration variant (real_sr, classical_sr, lightweight_sr, color_dn, jpeg_car).
	// example: real_sr
	ModelVariant string `json:"model_variant,omitempty" example:"real_sr"`
	// Batch items; presence marks a batch request.
	Batch []InvocationRequest `json:"batch,omitempty"`
}

// IsBatch reports whether the payload is a batch request.
func (r InvocationRequest) IsBatch() bool { return r.Batch != nil }

// ItemResponse reports the outcome of one image.
type ItemResponse struct {
	// 200 on success, 500 on failure.
	// example: 200
	Status int `json:"status" example:"200"`
	// Where the enhanced image was written.
	OutputFilePath string `json:"output_file_path,omitempty"`
	JobID          string `json:"job_id"`
	BatchID        string `json:"batch_id"`
	// Failure description.
	Error string `json:"error,omitempty"`
	// Failure classification (decode, transfer, inference, ...).
	ErrorKind string `json:"error_kind,omitempty"`
	// Source path, echoed on batch failures.
	InputFilePath string `json:"input_file_path,omitempty"`
}

// BatchResponse aggregates per-item results of a batch request.
type BatchResponse struct {
	// Always 200; inspect BatchResults for per-item failures.
	// example: 200
	Status         int            `json:"status" example:"200"`
	JobID          string         `json:"job_id"`
	TotalProcessed int            `json:"total_processed"`
	BatchResults   []ItemResponse `json:"batch_results"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// LoadedModel summarizes a resident model handle for /status.
type LoadedModel struct {
	// example: standard_sr
	Name string `json:"name" example:"standard_sr"`
	// example: /opt/ml/model/RealESRGAN_x4plus.pth
	Path string `json:"path"`
	// example: 4
	Scale int `json:"scale" example:"4"`
	// Load duration in milliseconds.
	// example: 2100
	LoadMS int64 `json:"load_ms" example:"2100"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall service state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Configured device (auto, cpu, cuda).
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Whether the last probe found an accelerator.
	Accelerator bool `json:"accelerator"`
	// Accelerator memory from the last probe, in MB.
	TotalMB int64 `json:"total_mb"`
	FreeMB  int64 `json:"free_mb"`
	// Batch size admission would grant right now.
	// example: 8
	BatchSize int `json:"batch_size" example:"8"`
	// Resident model handles.
	Models []LoadedModel `json:"models"`
	// Items currently being processed.
	Inflight int64 `json:"inflight"`
	// Completed item counters.
	ItemsOK     uint64 `json:"items_ok"`
	ItemsFailed uint64 `json:"items_failed"`
	// Total number of model loads.
	LoadsTotal uint64 `json:"loads_total"`
	// Last error observed by the service (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}
