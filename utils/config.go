package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           int
	TrustedProxies []string
	PublicURL      string
	DonatePageURL  string
}

type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Path     string // sqlite file
}

type PaystackConfig struct {
	SecretKey      string
	PublicKey      string
	BaseURL        string
	Currency       string
	CallbackURL    string
	AnonymousEmail string
	MpesaProvider  string
	CountryCode    string
	TestPhone      string
	Timeout        time.Duration
}

type DonationConfig struct {
	MaxAmount decimal.Decimal
}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Paystack PaystackConfig
	Donation DonationConfig
}

// ErrMissingSecretKey is returned when no Paystack secret key is configured.
var ErrMissingSecretKey = errors.New("paystack.secret_key is not set")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.donate_page_url", "/donate")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.path", "donations.db")

	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.currency", "KES")
	v.SetDefault("paystack.anonymous_email", "anonymous@ustawiwajamii.org")
	v.SetDefault("paystack.mpesa_provider", "mpesa")
	v.SetDefault("paystack.country_code", "254")
	v.SetDefault("paystack.test_phone", "0710000000")
	v.SetDefault("paystack.timeout", "30s")

	v.SetDefault("donation.max_amount", "1000000")
}

// LoadConfig reads config.yaml from the working directory, then from the
// executable directory, and applies environment overrides such as
// PAYSTACK_SECRET_KEY. A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigFile("config.yaml")
		if err := v.ReadInConfig(); err != nil {
			execDir, dirErr := filepath.Abs(filepath.Dir(os.Args[0]))
			if dirErr == nil {
				v.SetConfigFile(filepath.Join(execDir, "config.yaml"))
				_ = v.ReadInConfig()
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	maxAmount, err := decimal.NewFromString(v.GetString("donation.max_amount"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			TrustedProxies: v.GetStringSlice("server.trusted_proxies"),
			PublicURL:      strings.TrimRight(v.GetString("server.public_url"), "/"),
			DonatePageURL:  v.GetString("server.donate_page_url"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("database.driver"),
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			Path:     v.GetString("database.path"),
		},
		Paystack: PaystackConfig{
			SecretKey:      v.GetString("paystack.secret_key"),
			PublicKey:      v.GetString("paystack.public_key"),
			BaseURL:        strings.TrimRight(v.GetString("paystack.base_url"), "/"),
			Currency:       strings.ToUpper(v.GetString("paystack.currency")),
			CallbackURL:    v.GetString("paystack.callback_url"),
			AnonymousEmail: v.GetString("paystack.anonymous_email"),
			MpesaProvider:  v.GetString("paystack.mpesa_provider"),
			CountryCode:    v.GetString("paystack.country_code"),
			TestPhone:      v.GetString("paystack.test_phone"),
			Timeout:        v.GetDuration("paystack.timeout"),
		},
		Donation: DonationConfig{MaxAmount: maxAmount},
	}

	if cfg.Paystack.CallbackURL == "" {
		cfg.Paystack.CallbackURL = cfg.Server.PublicURL + "/donations/callback"
	}
	return cfg, nil
}

// Validate checks the settings the payment flow cannot run without.
func (c *Config) Validate() error {
	if c.Paystack.SecretKey == "" {
		return ErrMissingSecretKey
	}
	if c.Paystack.BaseURL == "" {
		return errors.New("paystack.base_url is not set")
	}
	return nil
}
