package config

// Config holds fable configuration.
// Stored at: ~/.fable/config.yaml
type Config struct {
	Story       StoryCfg       `mapstructure:"story" yaml:"story"`
	Images      ImagesCfg      `mapstructure:"images" yaml:"images"`
	Pipeline    PipelineCfg    `mapstructure:"pipeline" yaml:"pipeline"`
	Storage     StorageCfg     `mapstructure:"storage" yaml:"storage"`
	Persistence PersistenceCfg `mapstructure:"persistence" yaml:"persistence"`
	Defra       DefraConfig    `mapstructure:"defra" yaml:"defra"`
	Server      ServerCfg      `mapstructure:"server" yaml:"server"`
}

// StoryCfg configures the text-generation provider.
type StoryCfg struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	// Models is the ordered fallback list; each is tried until one is available.
	Models []string `mapstructure:"models" yaml:"models"`
}

// ImagesCfg configures the image-generation backends. When the primary
// (asynchronous) backend has no API token, the synchronous fallback is used.
type ImagesCfg struct {
	Primary  ReplicateCfg `mapstructure:"primary" yaml:"primary"`
	Fallback ImageEditCfg `mapstructure:"fallback" yaml:"fallback"`
}

// ReplicateCfg configures the primary asynchronous backend.
type ReplicateCfg struct {
	APIToken string `mapstructure:"api_token" yaml:"api_token"` // API token (supports ${ENV_VAR} syntax)
	Model    string `mapstructure:"model" yaml:"model"`
	// PollIntervalSeconds is the fixed interval for wait-style polling.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// ImageEditCfg configures the synchronous fallback backend.
type ImageEditCfg struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	Model  string `mapstructure:"model" yaml:"model"`
	Size   string `mapstructure:"size" yaml:"size"`
}

// PipelineCfg holds step-executor tunables.
type PipelineCfg struct {
	// DefaultPageCount is used when a job is created without one.
	DefaultPageCount int `mapstructure:"default_page_count" yaml:"default_page_count"`
	// WatchdogMinutes is the age after which a pending provider job is
	// declared abandoned and resubmitted.
	WatchdogMinutes int `mapstructure:"watchdog_minutes" yaml:"watchdog_minutes"`
	// MaxSubmitAttempts bounds resubmissions per step.
	MaxSubmitAttempts int `mapstructure:"max_submit_attempts" yaml:"max_submit_attempts"`
	// EditMaxDimension bounds uploaded photo/mask resolution.
	EditMaxDimension int `mapstructure:"edit_max_dimension" yaml:"edit_max_dimension"`
	// DocumentForm is the physical page size of the assembled document.
	DocumentForm string `mapstructure:"document_form" yaml:"document_form"`
}

// StorageCfg configures the durable object store for artifacts.
type StorageCfg struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Bucket     string `mapstructure:"bucket" yaml:"bucket"`
	ServiceKey string `mapstructure:"service_key" yaml:"service_key"` // supports ${ENV_VAR} syntax
}

// PersistenceCfg selects durability policy for the manifest store.
type PersistenceCfg struct {
	// RequireRemote makes a failed remote write fail the whole save.
	RequireRemote bool `mapstructure:"require_remote" yaml:"require_remote"`
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: fable-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// ServerCfg holds HTTP server settings.
type ServerCfg struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Story: StoryCfg{
			APIKey: "${OPENAI_API_KEY}",
			Models: []string{"gpt-4o", "gpt-4o-mini"},
		},
		Images: ImagesCfg{
			Primary: ReplicateCfg{
				APIToken:            "${REPLICATE_API_TOKEN}",
				Model:               "black-forest-labs/flux-kontext-pro",
				PollIntervalSeconds: 5,
			},
			Fallback: ImageEditCfg{
				APIKey: "${OPENAI_API_KEY}",
				Model:  "gpt-image-1",
				Size:   "1024x1024",
			},
		},
		Pipeline: PipelineCfg{
			DefaultPageCount:  8,
			WatchdogMinutes:   8,
			MaxSubmitAttempts: 3,
			EditMaxDimension:  1024,
			DocumentForm:      "A4",
		},
		Storage: StorageCfg{
			Bucket:     "fable",
			ServiceKey: "${STORAGE_SERVICE_KEY}",
		},
		Persistence: PersistenceCfg{
			RequireRemote: true,
		},
		Defra: DefraConfig{
			ContainerName: "fable-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
		Server: ServerCfg{
			Port: "8580",
		},
	}
}
