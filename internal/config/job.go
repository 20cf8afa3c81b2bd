package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// JobFile is the YAML form of a job:
//
//	zones: [32Q, 33Q]
//	years: [2021, 2022]
//	indexes: [NDVI, EVI]
//	months: [November, February]
type JobFile struct {
	Zones   []string `yaml:"zones"`
	Years   []int    `yaml:"years"`
	Indexes []string `yaml:"indexes"`
	Months  []string `yaml:"months"`
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("reading job file: %w", err)
	}
	return ParseJob(data)
}

// ParseJob decodes and validates a YAML job. Unknown keys are rejected.
func ParseJob(data []byte) (domain.Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jf JobFile
	if err := dec.Decode(&jf); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Job{}, fmt.Errorf("%w: empty job file", domain.ErrInvalidJob)
		}
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}

	return jf.Job()
}

// Job converts the file form into a validated job.
func (jf JobFile) Job() (domain.Job, error) {
	years := make([]string, len(jf.Years))
	for i, y := range jf.Years {
		years[i] = strconv.Itoa(y)
	}
	return domain.ParseJob(jf.Zones, years, jf.Indexes, jf.Months)
}
