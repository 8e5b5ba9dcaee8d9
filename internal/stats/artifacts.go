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
	"strings"

	"aitia/internal/model"
)

const runIndexFile = "run_index.json"

// RunArtifacts bundles everything a finished inference run writes to disk.
type RunArtifacts struct {
	Config    model.RunConfig         `json:"config"`
	History   []model.StepDiagnostics `json:"history,omitempty"`
	Empirical model.PosteriorRecord   `json:"empirical"`
	Mixture   model.PosteriorRecord   `json:"mixture"`
	Metrics   *model.MetricsRecord    `json:"metrics,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Vars         int     `json:"vars"`
	GraphPrior   string  `json:"graph_prior"`
	Likelihood   string  `json:"likelihood"`
	Particles    int     `json:"particles"`
	Steps        int     `json:"steps"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	BestLogJoint float64 `json:"best_log_joint"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "empirical.json"), artifacts.Empirical); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "mixture.json"), artifacts.Mixture); err != nil {
		return "", err
	}
	if artifacts.Metrics != nil {
		if err := writeJSON(filepath.Join(runDir, "metrics.json"), artifacts.Metrics); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

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

	files := []string{"config.json", "history.json", "empirical.json", "mixture.json"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	optional := []string{"metrics.json", "marginals.csv"}
	for _, file := range optional {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (model.RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunConfig{}, false, nil
		}
		return model.RunConfig{}, false, err
	}

	var cfg model.RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg model.RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadPosterior(baseDir, runID, kind string) (model.PosteriorRecord, bool, error) {
	path := filepath.Join(baseDir, runID, kind+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.PosteriorRecord{}, false, nil
		}
		return model.PosteriorRecord{}, false, err
	}

	var record model.PosteriorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.PosteriorRecord{}, false, err
	}
	return record, true, nil
}

func ReadMetrics(baseDir, runID string) (model.MetricsRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "metrics.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.MetricsRecord{}, false, nil
		}
		return model.MetricsRecord{}, false, err
	}

	var record model.MetricsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.MetricsRecord{}, false, err
	}
	return record, true, nil
}

// WriteMarginalsSeries writes the posterior edge marginals as a flat CSV,
// one ordered pair per row.
func WriteMarginalsSeries(runDir string, marginals [][]float64) error {
	path := filepath.Join(runDir, "marginals.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"from", "to", "probability"}); err != nil {
		return err
	}
	for i := range marginals {
		for j := range marginals[i] {
			if i == j {
				continue
			}
			if err := writer.Write([]string{
				strconv.Itoa(i),
				strconv.Itoa(j),
				strconv.FormatFloat(marginals[i][j], 'f', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadMarginalsSeries(baseDir, runID string) ([][3]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "marginals.csv")
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
			return [][3]float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("marginals header must have at least 3 columns")
	}

	series := make([][3]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("marginals row must have at least 3 columns")
		}
		var row [3]float64
		for c := 0; c < 3; c++ {
			value, err := strconv.ParseFloat(record[c], 64)
			if err != nil {
				return nil, false, err
			}
			row[c] = value
		}
		series = append(series, row)
	}
	return series, true, nil
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
