package export

import "github.com/flowkit/flowkit-editor/internal/timeline"

const (
	FormatEDL = "edl"

	DefaultProjectName = "flowkit_export"
)

type ExportRequest struct {
	ProjectName string `json:"project_name"`
	Format      string `json:"format"`
	OutputDir   string `json:"output_dir"`
}

// ResolvedClip is one event of the edit: a source interval placed on the record
// timeline in sequence order.
type ResolvedClip struct {
	ClipName  string
	MediaPath string
	StartMs   int
	EndMs     int
}

type ExportResponse struct {
	Status     string                 `json:"status"`
	Format     string                 `json:"format"`
	OutputPath string                 `json:"output_path"`
	ClipCount  int                    `json:"clip_count"`
	Sequence   []timeline.SwitchPoint `json:"sequence"`
}
