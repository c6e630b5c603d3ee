package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Minio     MinioConfig     `yaml:"minio"`
	Mineru    MineruConfig    `yaml:"mineru"`
	Auth      AuthConfig      `yaml:"auth"`
	Users     []User          `yaml:"users"`
	LLM       LLMConfig       `yaml:"llm"`
	Engine    EngineConfig    `yaml:"engine"`
	Templates TemplatesConfig `yaml:"templates"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	RatePerMinute  int      `yaml:"rate_per_minute"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
	MaxConcurrent  int      `yaml:"max_concurrent"` // analyses run at once, the rest wait as pending
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows any origin
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	MaxAnalyses int `yaml:"max_analyses"`
}

type MinioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type MineruConfig struct {
	APIURL       string        `yaml:"api_url"`
	APIToken     string        `yaml:"api_token"`
	ModelVersion string        `yaml:"model_version"`
	CallbackURL  string        `yaml:"callback_url"`
	Seed         string        `yaml:"seed"`
	UID          string        `yaml:"uid"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

// LLMConfig selects and configures the generative model provider
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // gemini, openai
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// EngineConfig tunes the analysis pipeline
type EngineConfig struct {
	Extractor          string         `yaml:"extractor"` // local, mineru
	CallTimeout        time.Duration  `yaml:"call_timeout"`
	AnalysisTimeout    time.Duration  `yaml:"analysis_timeout"`
	SummarizeThreshold int            `yaml:"summarize_threshold"`
	CompressionRatio   float64        `yaml:"compression_ratio"`
	ClassifierMaxChars int            `yaml:"classifier_max_chars"`
	MissingWeight      int            `yaml:"missing_weight"`
	RiskWeight         int            `yaml:"risk_weight"`
	SeverityRules      []SeverityRule `yaml:"severity_rules"`
}

// SeverityRule raises the weight of a flagged item mentioning any keyword
type SeverityRule struct {
	Keywords []string `yaml:"keywords"`
	Weight   int      `yaml:"weight"`
}

type TemplatesConfig struct {
	Dir            string           `yaml:"dir"`
	RefreshEnabled bool             `yaml:"refresh_enabled"`
	RefreshAt      string           `yaml:"refresh_at"`
	PersistToMinio bool             `yaml:"persist_to_minio"`
	Sources        []TemplateSource `yaml:"sources"`
}

type TemplateSource struct {
	Type string `yaml:"type"`
	URL  string `yaml:"url"`
}

type NotifyConfig struct {
	SMTP  SMTPConfig  `yaml:"smtp"`
	Slack SlackConfig `yaml:"slack"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Sender   string `yaml:"sender"`
	Password string `yaml:"password"`
	Receiver string `yaml:"receiver"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// DefaultTemplateSources are the official reference documents for each agreement type
var DefaultTemplateSources = []TemplateSource{
	{Type: "DPA", URL: "https://www.benchmarkone.com/wp-content/uploads/2018/05/GDPR-Sample-Agreement.pdf"},
	{Type: "JCA", URL: "https://www.surf.nl/files/2019-11/model-joint-controllership-agreement.pdf"},
	{Type: "C2C", URL: "https://www.fcmtravel.com/sites/default/files/2020-03/2-Controller-to-controller-data-privacy-addendum.pdf"},
	{Type: "SCC", URL: "https://www.miller-insurance.com/assets/PDF-Downloads/Standard-Contractual-Clauses-SCCs.pdf"},
	{Type: "PSA", URL: "https://greaterthan.eu/wp-content/uploads/Personal-Data-Sub-Processor-Agreement-2024-01-24.pdf"},
}

// DefaultSeverityRules weight flagged items by the GDPR obligations they touch
var DefaultSeverityRules = []SeverityRule{
	{Keywords: []string{"breach", "security", "article 32", "article 33", "article 34"}, Weight: 25},
	{Keywords: []string{"sub-processor", "subprocessor", "transfer", "third countr", "article 28", "article 44", "article 46"}, Weight: 20},
	{Keywords: []string{"data subject", "rights", "dpia", "impact assessment", "article 15", "article 35"}, Weight: 15},
}

// Load reads the YAML file at path, applies .env and environment overrides and
// fills defaults. A missing file is not an error when the environment supplies
// what is needed.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	// .env is optional, real environment variables win over it
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.LLM.Provider == "openai" && cfg.LLM.Model == "" {
		return errors.New("llm.model is required for the openai provider")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	// GEMINI_API_KEY wins over LLM_API_KEY, and only for gemini
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		setString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	}
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.Notify.SMTP.Host, "SMTP_SERVER")
	setString(&cfg.Notify.SMTP.Sender, "SMTP_SENDER_EMAIL")
	setString(&cfg.Notify.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.Notify.SMTP.Receiver, "SMTP_RECEIVER_EMAIL")
	setString(&cfg.Notify.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Mineru.APIToken, "MINERU_API_TOKEN")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Notify.SMTP.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RatePerMinute == 0 {
		cfg.Server.RatePerMinute = 100
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 20
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = 4
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.MaxAnalyses == 0 {
		cfg.Store.MaxAnalyses = 100
	}
	if cfg.Minio.Region == "" {
		cfg.Minio.Region = "us-east-1"
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.Mineru.APIURL == "" {
		cfg.Mineru.APIURL = "https://mineru.net/api/v4"
	}
	if cfg.Mineru.ModelVersion == "" {
		cfg.Mineru.ModelVersion = "vlm"
	}
	if cfg.Mineru.PollInterval == 0 {
		cfg.Mineru.PollInterval = 5 * time.Second
	}
	if cfg.Mineru.PollTimeout == 0 {
		cfg.Mineru.PollTimeout = 5 * time.Minute
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" && cfg.LLM.Provider == "gemini" {
		cfg.LLM.Model = "gemini-2.5-flash"
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 60
	}
	if cfg.Engine.Extractor == "" {
		cfg.Engine.Extractor = "local"
	}
	if cfg.Engine.CallTimeout == 0 {
		cfg.Engine.CallTimeout = 2 * time.Minute
	}
	if cfg.Engine.AnalysisTimeout == 0 {
		cfg.Engine.AnalysisTimeout = 10 * time.Minute
	}
	if cfg.Engine.SummarizeThreshold == 0 {
		cfg.Engine.SummarizeThreshold = 60000
	}
	if cfg.Engine.CompressionRatio <= 0 || cfg.Engine.CompressionRatio > 1 {
		cfg.Engine.CompressionRatio = 0.25
	}
	if cfg.Engine.ClassifierMaxChars == 0 {
		cfg.Engine.ClassifierMaxChars = 30000
	}
	if cfg.Engine.MissingWeight == 0 {
		cfg.Engine.MissingWeight = 10
	}
	if cfg.Engine.RiskWeight == 0 {
		cfg.Engine.RiskWeight = 5
	}
	if cfg.Engine.SeverityRules == nil {
		cfg.Engine.SeverityRules = DefaultSeverityRules
	}
	if cfg.Templates.Dir == "" {
		cfg.Templates.Dir = "json"
	}
	if cfg.Templates.RefreshAt == "" {
		cfg.Templates.RefreshAt = "00:00"
	}
	if cfg.Templates.Sources == nil {
		cfg.Templates.Sources = DefaultTemplateSources
	}
	if cfg.Notify.SMTP.Host == "" {
		cfg.Notify.SMTP.Host = "smtp.gmail.com"
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = 587
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// SMTPEnabled reports whether email alerts can be sent
func (c *NotifyConfig) SMTPEnabled() bool {
	return c.SMTP.Sender != "" && c.SMTP.Password != "" && c.SMTP.Receiver != ""
}
