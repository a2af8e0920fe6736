// Package goldenpath parses a repository's .flux/golden-path.yaml: the
// per-repo opt-in for status-comment feedback and the lifecycle stage list
// intake adapters use to derive poll statuses.
package goldenpath

import "gopkg.in/yaml.v3"

// Config is the golden-path.yaml shape consulted by the intake worker and
// the feedback worker.
type Config struct {
	Feedback struct {
		GitHub struct {
			PostTaskStatusComments bool `yaml:"postTaskStatusComments"`
		} `yaml:"github"`
	} `yaml:"feedback"`
	Lifecycle []struct {
		Statuses []struct {
			Name string `yaml:"name"`
		} `yaml:"statuses"`
	} `yaml:"lifecycle"`
}

// Parse decodes raw golden-path.yaml bytes.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StageNames flattens the lifecycle's status names, in file order.
func (c Config) StageNames() []string {
	var names []string
	for _, stage := range c.Lifecycle {
		for _, s := range stage.Statuses {
			names = append(names, s.Name)
		}
	}
	return names
}

// HasLifecycle reports whether any lifecycle stages were configured.
func (c Config) HasLifecycle() bool {
	return len(c.Lifecycle) > 0
}

// PostTaskStatusComments reports the GitHub feedback opt-in.
func (c Config) PostTaskStatusComments() bool {
	return c.Feedback.GitHub.PostTaskStatusComments
}
