package result

import "time"

// Metrics are the numeric outputs reported by the compute service.
type Metrics struct {
	CellCount   int     `json:"cell_count"`
	CellArea    int     `json:"cell_area"`
	TotalArea   int     `json:"total_area"`
	CellRatio   float64 `json:"cell_ratio"`
	AvgCellSize float64 `json:"avg_cell_size"`
}

type Result struct {
	ID               int64     `json:"id"`
	Filename         string    `json:"filename"`
	ResultImagePath  string    `json:"result_image_path"`
	OverlayImagePath string    `json:"overlay_image_path"`
	Metrics          Metrics   `json:"metrics"`
	AnalyzedAt       time.Time `json:"analyzed_at"`
	TaskID           *string   `json:"task_id"`
}

// OutputPaths lists the non-empty artifact references of the result.
func (r *Result) OutputPaths() []string {
	paths := make([]string, 0, 2)
	for _, p := range []string{r.ResultImagePath, r.OverlayImagePath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (r *Result) Clone() *Result {
	c := *r
	if r.TaskID != nil {
		v := *r.TaskID
		c.TaskID = &v
	}
	return &c
}
