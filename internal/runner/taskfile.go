package runner

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TaskSpec is one entry in a batch task file.
type TaskSpec struct {
	Name        string `yaml:"name"`
	Prompt      string `yaml:"prompt"`
	ImageURL    string `yaml:"image_url"`
	AspectRatio string `yaml:"aspect_ratio"`
	Duration    int    `yaml:"duration"`
}

type taskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// LoadTaskFile reads a YAML batch file of the form:
//
//	tasks:
//	  - name: surfing-cat
//	    prompt: a cat surfing at sunset
//	    image_url: https://img.example.com/cat.png
//	    aspect_ratio: "16:9"
//	    duration: 15
func LoadTaskFile(path string) ([]TaskSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read task file: %w", err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("runner: parse task file: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("runner: task file %s contains no tasks", path)
	}
	for i := range tf.Tasks {
		tf.Tasks[i].Prompt = strings.TrimSpace(tf.Tasks[i].Prompt)
		if tf.Tasks[i].Prompt == "" {
			return nil, fmt.Errorf("runner: task %d has no prompt", i+1)
		}
		if tf.Tasks[i].Name == "" {
			tf.Tasks[i].Name = fmt.Sprintf("task-%d", i+1)
		}
	}
	return tf.Tasks, nil
}
