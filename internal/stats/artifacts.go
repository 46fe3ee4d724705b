package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"plumetrack/internal/config"
	"plumetrack/internal/model"
)

const runIndexFile = "run_index.json"

// RunArtifacts is everything a finished run writes to disk.
type RunArtifacts struct {
	RunID       string                 `json:"run_id"`
	Config      config.Config          `json:"config"`
	History     []model.TrainingRecord `json:"history"`
	EvalReports []model.EvalReport     `json:"eval_reports,omitempty"`
}

// RunIndexEntry is one line of the cross-run index, newest first.
type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Algorithm        string  `json:"algorithm"`
	GridWidth        int     `json:"grid_width"`
	GridHeight       int     `json:"grid_height"`
	Iterations       int     `json:"iterations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	FinalSuccessRate float64 `json:"final_success_rate"`
	FinalMeanReturn  float64 `json:"final_mean_return"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes config.json, training_history.csv,
// training_history.json, and eval_reports.json under baseDir/runID and
// returns the run directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "training_history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeHistoryCSV(filepath.Join(runDir, "training_history.csv"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "eval_reports.json"), artifacts.EvalReports); err != nil {
		return "", err
	}

	return runDir, nil
}

func writeHistoryCSV(path string, history []model.TrainingRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{
		"iteration", "mean_return", "moving_avg_return", "mean_steps_to_find",
		"success_rate", "loss", "epsilon", "degenerate_updates", "failed_episodes",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, rec := range history {
		row := []string{
			strconv.Itoa(rec.Iteration),
			formatFloat(rec.MeanReturn),
			formatFloat(rec.MovingAvgReturn),
			formatFloat(rec.MeanStepsToFind),
			formatFloat(rec.SuccessRate),
			formatFloat(rec.Loss),
			formatFloat(rec.Epsilon),
			strconv.Itoa(rec.DegenerateUpdates),
			strconv.Itoa(rec.FailedEpisodes),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTrainingHistoryCSV reads back a history CSV written by
// WriteRunArtifacts.
func ReadTrainingHistoryCSV(baseDir, runID string) ([]model.TrainingRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "training_history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.TrainingRecord{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != 9 {
		return nil, false, fmt.Errorf("training history header has %d columns, want 9", len(header))
	}

	history := make([]model.TrainingRecord, 0, 128)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		rec, err := parseHistoryRow(row)
		if err != nil {
			return nil, false, err
		}
		history = append(history, rec)
	}
	return history, true, nil
}

func parseHistoryRow(row []string) (model.TrainingRecord, error) {
	if len(row) != 9 {
		return model.TrainingRecord{}, fmt.Errorf("training history row has %d columns, want 9", len(row))
	}
	iteration, err := strconv.Atoi(row[0])
	if err != nil {
		return model.TrainingRecord{}, err
	}
	floats := make([]float64, 6)
	for i := 0; i < 6; i++ {
		floats[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return model.TrainingRecord{}, err
		}
	}
	degenerate, err := strconv.Atoi(row[7])
	if err != nil {
		return model.TrainingRecord{}, err
	}
	failed, err := strconv.Atoi(row[8])
	if err != nil {
		return model.TrainingRecord{}, err
	}
	return model.TrainingRecord{
		Iteration:         iteration,
		MeanReturn:        floats[0],
		MovingAvgReturn:   floats[1],
		MeanStepsToFind:   floats[2],
		SuccessRate:       floats[3],
		Loss:              floats[4],
		Epsilon:           floats[5],
		DegenerateUpdates: degenerate,
		FailedEpisodes:    failed,
	}, nil
}

// AppendRunIndex inserts or replaces the entry for its run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index entries, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run's artifact files into outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "training_history.json", "training_history.csv", "eval_reports.json"}
	for _, file := range files {
		srcPath := filepath.Join(src, file)
		if _, err := os.Stat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(srcPath, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// ReadRunConfig loads the persisted configuration of a run.
func ReadRunConfig(baseDir, runID string) (config.Config, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, err
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, false, err
	}
	return cfg, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
