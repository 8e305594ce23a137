package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	// Secret store holding the database credentials
	Secret SecretConfig `json:"secret" yaml:"secret"`

	// Source MongoDB configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Equality filter: field name -> required value (string, integer or bool)
	Query map[string]interface{} `json:"query" yaml:"query"`

	// Projection: output field name -> source field reference ("$field")
	Projection map[string]string `json:"projection" yaml:"projection"`

	Report ReportConfig `json:"report" yaml:"report"`
	Email  EmailConfig  `json:"email" yaml:"email"`
	SMTP   SMTPConfig   `json:"smtp" yaml:"smtp"`

	// Render the report locally instead of sending it
	DryRun bool `json:"dryRun" yaml:"dryRun"`
}

// SecretConfig identifies the secret holding database credentials
type SecretConfig struct {
	Name    string `json:"name" yaml:"name"`       // Secret name or ARN
	Region  string `json:"region" yaml:"region"`   // AWS region of the secret
	UserKey string `json:"userKey" yaml:"userKey"` // JSON key of the username (default "db_user")
	PassKey string `json:"passKey" yaml:"passKey"` // JSON key of the password (default "db_pass")
}

// DatabaseConfig represents the source MongoDB configuration
type DatabaseConfig struct {
	Host        string `json:"host" yaml:"host"`               // Seed host, or the SRV hostname in srv mode
	Port        string `json:"port" yaml:"port"`               // Ignored in srv mode
	SRVMode     bool   `json:"srvMode" yaml:"srvMode"`         // Use mongodb+srv:// seed-list addressing
	ClusterName string `json:"clusterName" yaml:"clusterName"` // Replica set name, required unless srv mode
	Database    string `json:"database" yaml:"database"`
	Collection  string `json:"collection" yaml:"collection"`

	// Populated at run time from the secret store or the environment
	Username string `json:"-" yaml:"-"`
	Password string `json:"-" yaml:"-"`
}

// ReportConfig controls how results are rendered
type ReportConfig struct {
	Name          string   `json:"name" yaml:"name"`                   // Human friendly report label, also the default subject
	Columns       []string `json:"columns" yaml:"columns"`             // Output column order
	AttachCSV     bool     `json:"attachCsv" yaml:"attachCsv"`         // Attach a CSV of the full result set
	ResultsInBody bool     `json:"resultsInBody" yaml:"resultsInBody"` // Show results as a table in the body
	BodyRowLimit  int      `json:"bodyRowLimit" yaml:"bodyRowLimit"`   // Rows shown in the body, 0 for no limit
	CSVFilename   string   `json:"csvFilename" yaml:"csvFilename"`
}

// EmailConfig holds message addressing
type EmailConfig struct {
	From    string   `json:"from" yaml:"from"`
	To      []string `json:"to" yaml:"to"`
	Subject string   `json:"subject" yaml:"subject"`
}

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	HeloName       string `json:"heloName" yaml:"heloName"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Default returns a configuration holding only default values
func Default() *Config {
	return &Config{
		Secret: SecretConfig{
			UserKey: "db_user",
			PassKey: "db_pass",
		},
		Database: DatabaseConfig{
			Port: "27017",
		},
		Report: ReportConfig{
			AttachCSV:     true,
			ResultsInBody: true,
			BodyRowLimit:  10,
			CSVFilename:   "results.csv",
		},
		SMTP: SMTPConfig{
			Port:           25,
			HeloName:       "localhost",
			TimeoutSeconds: 30,
		},
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "report_config.yaml"
	}

	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, err
	}

	envProblems := applyEnv(config)

	// Validate the config
	if err := config.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Problems = append(envProblems, verr.Problems...)
		}
		return nil, err
	}
	if len(envProblems) > 0 {
		return nil, &ValidationError{Problems: envProblems}
	}

	return config, nil
}

// Parse decodes a JSON or YAML document on top of the defaults.
// ext selects the format; anything other than .yaml/.yml is read as JSON.
func Parse(data []byte, ext string) (*Config, error) {
	config := Default()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	query, err := normalizeQuery(config.Query)
	if err != nil {
		return nil, err
	}
	config.Query = query

	if config.Email.Subject == "" {
		config.Email.Subject = config.Report.Name
	}

	return config, nil
}

// applyEnv overrides file values with environment variables and returns
// any values it could not interpret
func applyEnv(config *Config) []string {
	var problems []string
	if v := os.Getenv("REPORT_DB_USER"); v != "" {
		config.Database.Username = v
	}
	if v := os.Getenv("REPORT_DB_PASS"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("REPORT_DB_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("REPORT_SMTP_HOST"); v != "" {
		config.SMTP.Host = v
	}
	if v := os.Getenv("REPORT_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REPORT_DRY_RUN %q is not a boolean", v))
		} else {
			config.DryRun = b
		}
	}
	return problems
}

// normalizeQuery converts decoded filter values to string, int64 or bool
func normalizeQuery(query map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(query))
	for field, raw := range query {
		switch v := raw.(type) {
		case string, bool, int64:
			out[field] = v
		case int:
			out[field] = int64(v)
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("query value for %q must be a string or an integer, got %s", field, v)
			}
			out[field] = n
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("query value for %q must be a string or an integer, got %v", field, v)
			}
			out[field] = int64(v)
		default:
			return nil, fmt.Errorf("query value for %q must be a string or an integer, got %T", field, raw)
		}
	}
	return out, nil
}

// HasCredentials reports whether database credentials are already set
func (c *Config) HasCredentials() bool {
	return c.Database.Username != "" && c.Database.Password != ""
}

// WithCredentials returns a copy of the config with database credentials
// taken from a secret
func (c *Config) WithCredentials(secret map[string]string) (*Config, error) {
	user, ok := secret[c.Secret.UserKey]
	if !ok || user == "" {
		return nil, fmt.Errorf("secret %s has no %q key", c.Secret.Name, c.Secret.UserKey)
	}
	pass, ok := secret[c.Secret.PassKey]
	if !ok || pass == "" {
		return nil, fmt.Errorf("secret %s has no %q key", c.Secret.Name, c.Secret.PassKey)
	}

	out := *c
	out.Database.Username = user
	out.Database.Password = pass
	return &out, nil
}

// QueryFields returns the filter field names in sorted order
func (c *Config) QueryFields() []string {
	return sortedKeys(c.Query)
}

// ProjectionFields returns the projection field names in sorted order
func (c *Config) ProjectionFields() []string {
	keys := make([]string, 0, len(c.Projection))
	for k := range c.Projection {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// Credentials come from the secret store unless supplied directly
	if !c.HasCredentials() {
		if c.Secret.Name == "" {
			add("secret name is required")
		}
		if c.Secret.Region == "" {
			add("secret region is required")
		}
	}
	if c.Secret.UserKey == "" || c.Secret.PassKey == "" {
		add("secret user and password keys must not be empty")
	}

	// Validate database config
	if c.Database.Host == "" {
		add("database host is required")
	}
	if !c.Database.SRVMode {
		if c.Database.ClusterName == "" {
			add("cluster name is required unless srv mode is enabled")
		}
		if _, err := strconv.Atoi(c.Database.Port); err != nil {
			add("database port %q is not a number", c.Database.Port)
		}
	}
	if c.Database.Database == "" {
		add("database name is required")
	}
	if c.Database.Collection == "" {
		add("collection name is required")
	}

	// Validate query
	for _, field := range c.QueryFields() {
		if field == "" {
			add("query field names must not be empty")
			continue
		}
		switch c.Query[field].(type) {
		case string, int64, bool:
		default:
			add("query value for %q must be a string or an integer", field)
		}
	}

	// Validate projection against columns
	if len(c.Projection) == 0 {
		add("at least one projection field is required")
	}
	for _, field := range c.ProjectionFields() {
		if strings.TrimPrefix(c.Projection[field], "$") == "" {
			add("projection for %q must reference a source field", field)
		}
	}

	if c.Report.Name == "" {
		add("report name is required")
	}
	if len(c.Report.Columns) == 0 {
		add("at least one report column is required")
	}
	seen := make(map[string]bool, len(c.Report.Columns))
	for _, col := range c.Report.Columns {
		if seen[col] {
			add("report column %q is listed twice", col)
		}
		seen[col] = true
		if _, ok := c.Projection[col]; !ok && col != "_id" {
			add("report column %q is not in the projection", col)
		}
	}
	for _, field := range c.ProjectionFields() {
		if !seen[field] {
			add("projection field %q is not in the report columns", field)
		}
	}
	if c.Report.BodyRowLimit < 0 {
		add("body row limit must be zero or positive")
	}
	if c.Report.AttachCSV && c.Report.CSVFilename == "" {
		add("csv filename is required when attaching a CSV")
	}

	// Validate addressing
	if c.Email.From == "" {
		add("email from address is required")
	} else if _, err := mail.ParseAddress(c.Email.From); err != nil {
		add("email from address %q is invalid", c.Email.From)
	}
	if len(c.Email.To) == 0 {
		add("at least one email recipient is required")
	}
	for _, to := range c.Email.To {
		if _, err := mail.ParseAddress(to); err != nil {
			add("email recipient %q is invalid", to)
		}
	}

	if c.SMTP.Host == "" {
		add("smtp host is required")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		add("smtp port %d is out of range", c.SMTP.Port)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
