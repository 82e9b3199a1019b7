package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// deploymentMeta is one entry of the deployment metadata file.
type deploymentMeta struct {
	DeploymentName   string   `json:"deployment_name" yaml:"deployment_name"`
	Region           string   `json:"region" yaml:"region"`
	Provider         string   `json:"provider" yaml:"provider"`
	DisplayName      string   `json:"display_name" yaml:"display_name"`
	ReleaseDate      string   `json:"release_date" yaml:"release_date"`
	SortOrder        *int     `json:"sort_order" yaml:"sort_order"`
	CapabilityTag    []string `json:"capability_tag" yaml:"capability_tag"`
	RecommendedUsage string   `json:"recommended_usage" yaml:"recommended_usage"`
}

const defaultSortOrder = 999

// readCSVColumns reads a headed CSV file and returns the requested columns of
// every row. A missing file yields no rows.
func readCSVColumns(path string, columns ...string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		index[strings.TrimSpace(h)] = i
	}
	positions := make([]int, len(columns))
	for i, col := range columns {
		pos, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, col)
		}
		positions[i] = pos
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make([]string, len(columns))
		empty := true
		for i, pos := range positions {
			if pos < len(rec) {
				row[i] = strings.TrimSpace(rec[pos])
			}
			if row[i] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// loadDeploymentNames reads the deployment_name column of a region CSV.
func loadDeploymentNames(path string) ([]string, error) {
	rows, err := readCSVColumns(path, "deployment_name")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row[0] != "" {
			names = append(names, row[0])
		}
	}
	return names, nil
}

// loadConstructorMaster reads deployment_name → constructor.
func loadConstructorMaster(path string) (map[string]string, error) {
	rows, err := readCSVColumns(path, "deployment_name", "constructor")
	if err != nil {
		return nil, err
	}
	master := make(map[string]string, len(rows))
	for _, row := range rows {
		master[row[0]] = row[1]
	}
	return master, nil
}

// loadMetadata reads the deployment metadata file as JSON or YAML, chosen by
// extension. ok is false when the file does not exist.
func loadMetadata(path string) (entries []deploymentMeta, ok bool, err error) {
	if path == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var wrapper struct {
			Deployments []deploymentMeta `yaml:"deployments"`
		}
		if err := yaml.Unmarshal(data, &wrapper); err == nil && wrapper.Deployments != nil {
			return wrapper.Deployments, true, nil
		}
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, false, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, false, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return entries, true, nil
}
