package download

import "fmt"

type Config struct {
	OutputPath         string `yaml:"output_dir" env:"DOWNLOAD_DIR" env-default:"./downloads"`
	Concurrency        int    `yaml:"concurrency" env:"DOWNLOAD_CONCURRENCY" env-default:"2"`
	TaskTimeoutSeconds int    `yaml:"task_timeout_seconds" env:"DOWNLOAD_TASK_TIMEOUT_SECONDS" env-default:"1800"`
}

func (config Config) Validate() error {
	if config.OutputPath == "" {
		return fmt.Errorf("download directory must not be empty")
	}
	if config.Concurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1 (got %d)", config.Concurrency)
	}
	if config.TaskTimeoutSeconds < 1 {
		return fmt.Errorf("download task timeout must be at least 1 second (got %d)", config.TaskTimeoutSeconds)
	}

	return nil
}
