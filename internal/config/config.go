// Package config loads the settings file, environment and server profiles.
package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"mongo-query-top/internal/atlas"
	"mongo-query-top/internal/logging"
)

const (
	EnvPrefix     = "MQT"
	DefaultServer = "localhost"
	DefaultURI    = "mongodb://localhost:27017/?directConnection=true"
)

var (
	ErrUnknownServer = configurationError("unknown server profile")
	ErrMissingURI    = configurationError("server profile has neither a uri nor an Atlas cluster")
)

type configurationError string

func (e configurationError) Error() string {
	return string(e)
}

type Atlas struct {
	ProjectID   string `mapstructure:"projectId"`
	ClusterName string `mapstructure:"clusterName"`
	PublicKey   string `mapstructure:"publicKey"`
	PrivateKey  string `mapstructure:"privateKey"`
}

// Server is one named deployment to monitor.
type Server struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Atlas    *Atlas `mapstructure:"atlas"`
}

type Gemini struct {
	APIKey string `mapstructure:"apiKey"`
	Model  string `mapstructure:"model"`
}

type Slack struct {
	WebhookURL string `mapstructure:"webhookUrl"`
}

type Config struct {
	LogLevel      string            `mapstructure:"logLevel"`
	LogDir        string            `mapstructure:"logDir"`
	GeoIPDatabase string            `mapstructure:"geoipDatabase"`
	Gemini        Gemini            `mapstructure:"gemini"`
	Slack         Slack             `mapstructure:"slack"`
	Servers       map[string]Server `mapstructure:"servers"`
}

// Load reads settingsFile, or mqt.{json,yaml,toml} from . or ./config when
// it is empty. A missing default file is not an error. Environment
// variables prefixed with MQT_ override the file, and a .env file in the
// working directory is loaded first.
func Load(v *viper.Viper, settingsFile string) (*Config, error) {
	_ = godotenv.Load()

	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
	} else {
		v.SetConfigName("mqt")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logLevel", "info")
	v.SetDefault("logDir", "logs")
	v.SetDefault("geoipDatabase", "")
	v.SetDefault("gemini.apiKey", "")
	v.SetDefault("gemini.model", "gemini-2.5-pro")
	v.SetDefault("slack.webhookUrl", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if settingsFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	} else {
		logging.Logger.WithField("file", v.ConfigFileUsed()).Debug("Settings loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the new log level whenever the settings file
// is written.
func Watch(v *viper.Viper, onChange func(level string)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logging.Logger.WithFields(logrus.Fields{"file": e.Name}).Info("Settings changed")
		onChange(v.GetString("logLevel"))
	})
	v.WatchConfig()
}

// ServerNames lists the configured profiles in order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server looks up a profile. Profile names are case-insensitive. The
// localhost profile exists even when it is not configured.
func (c *Config) Server(name string) (Server, error) {
	if s, ok := c.Servers[strings.ToLower(name)]; ok {
		return s, nil
	}
	if strings.EqualFold(name, DefaultServer) {
		return Server{URI: DefaultURI}, nil
	}
	return Server{}, fmt.Errorf("%q: %w", name, ErrUnknownServer)
}

// ClusterLookup resolves an Atlas cluster to a connection string.
type ClusterLookup interface {
	ConnectionString(ctx context.Context, cl atlas.Cluster) (string, error)
}

// ConnectionURI returns the URI to connect to, with the profile's
// credentials. Profiles without a uri are looked up in Atlas.
func (s Server) ConnectionURI(ctx context.Context, lookup ClusterLookup) (string, error) {
	uri := s.URI
	if uri == "" {
		if s.Atlas == nil || s.Atlas.ClusterName == "" {
			return "", ErrMissingURI
		}
		var err error
		uri, err = lookup.ConnectionString(ctx, atlas.Cluster{
			ProjectID:   s.Atlas.ProjectID,
			ClusterName: s.Atlas.ClusterName,
			PublicKey:   s.Atlas.PublicKey,
			PrivateKey:  s.Atlas.PrivateKey,
		})
		if err != nil {
			return "", err
		}
	}
	return atlas.WithCredentials(uri, s.Username, s.Password)
}

// AskOne is the survey prompt, replaceable in tests.
var AskOne = survey.AskOne

// PickServer asks which of names to monitor.
func PickServer(name string, names []string) (string, error) {
	var picked string
	err := AskOne(&survey.Select{
		Message: fmt.Sprintf("No server profile named %q. Monitor which one?", name),
		Options: names,
	}, &picked)
	if err != nil {
		return "", err
	}
	return picked, nil
}
