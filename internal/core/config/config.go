package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Base URLs for the hosted RoboLabs environments. A custom mode lets
// self-hosted or mock targets override them.
const (
	sandboxBaseURL    = "https://sandbox.robolabs.lt/api/v2"
	productionBaseURL = "https://api.robolabs.lt/api/v2"
)

// Invoice trigger choices. Exactly one store event creates invoices.
const (
	TriggerOrderCreated     = "order_created"
	TriggerPaymentComplete  = "payment_complete"
	TriggerStatusProcessing = "status_processing"
	TriggerStatusCompleted  = "status_completed"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// LogEnabled toggles logging entirely (original plugin's debug switch).
	LogEnabled bool `mapstructure:"LOG_ENABLED" default:"true"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	// RedisURL points at the Redis instance used for locks and shared state.
	RedisURL string `mapstructure:"REDIS_URL" default:"redis://localhost:6379/0"`

	// WooCommerce holds the WooCommerce API configuration.
	WooCommerce WooCommerceConfig `mapstructure:",squash"`

	// RoboLabs holds the invoicing API configuration.
	RoboLabs RoboLabsConfig `mapstructure:",squash"`

	// Sync holds orchestrator tuning knobs.
	Sync SyncConfig `mapstructure:",squash"`
}

// WooCommerceConfig holds the credentials for the WooCommerce Store.
type WooCommerceConfig struct {
	// URL is the base URL of the WooCommerce store.
	URL string `mapstructure:"WC_URL" required:"true"`
	// ConsumerKey is the public key for API access.
	ConsumerKey string `mapstructure:"WC_CONSUMER_KEY" required:"true"`
	// ConsumerSecret is the secret key for API access.
	ConsumerSecret string `mapstructure:"WC_CONSUMER_SECRET" required:"true"`
}

// RoboLabsConfig holds the RoboLabs API connection and invoicing defaults.
type RoboLabsConfig struct {
	// Mode selects the target environment: sandbox, production or custom.
	Mode string `mapstructure:"ROBOLABS_MODE" default:"sandbox"`
	// CustomBaseURL is used when Mode is "custom".
	CustomBaseURL string `mapstructure:"ROBOLABS_BASE_URL"`
	// APIKey authenticates requests via the X-API-KEY header.
	APIKey string `mapstructure:"ROBOLABS_API_KEY" required:"true"`
	// Language selects the ACCEPT-LANGUAGE sent to the API (en_US or lt_LT).
	Language string `mapstructure:"ROBOLABS_LANGUAGE" default:"en_US"`
	// ExecuteImmediately asks the API to process writes synchronously when it can.
	ExecuteImmediately bool `mapstructure:"ROBOLABS_EXECUTE_IMMEDIATELY" default:"true"`
	// JournalID is the default accounting journal for created invoices.
	JournalID string `mapstructure:"ROBOLABS_JOURNAL_ID"`
	// CategID is the default product category for created products.
	CategID string `mapstructure:"ROBOLABS_CATEG_ID"`
	// InvoiceType is the invoice type string sent on invoice creation.
	InvoiceType string `mapstructure:"ROBOLABS_INVOICE_TYPE" default:"sales"`
	// CreditInvoiceType is the invoice type string for credit notes.
	CreditInvoiceType string `mapstructure:"ROBOLABS_CREDIT_INVOICE_TYPE" default:"credit"`
	// TaxMode is either "pass_taxes" (forward store tax lines) or
	// "robo_decide" (omit tax and let RoboLabs compute it).
	TaxMode string `mapstructure:"ROBOLABS_TAX_MODE" default:"robo_decide"`
	// RequestsPerSecond caps outgoing API calls; 0 disables the limiter.
	RequestsPerSecond float64 `mapstructure:"ROBOLABS_REQUESTS_PER_SECOND" default:"10"`
}

// SyncConfig holds retry and locking knobs for the orchestrators.
type SyncConfig struct {
	// InvoiceTrigger selects which store event creates invoices.
	InvoiceTrigger string `mapstructure:"SYNC_INVOICE_TRIGGER" default:"order_created"`
	// MaxAttempts caps retry scheduling for transient remote failures.
	MaxAttempts int `mapstructure:"SYNC_MAX_ATTEMPTS" default:"4"`
	// LockTTLSeconds bounds the per-order lock so a crashed worker cannot
	// wedge an order forever.
	LockTTLSeconds int `mapstructure:"SYNC_LOCK_TTL_SECONDS" default:"300"`
	// JobPollIntervalSeconds spaces out polls of asynchronous RoboLabs jobs.
	JobPollIntervalSeconds int `mapstructure:"SYNC_JOB_POLL_INTERVAL_SECONDS" default:"30"`
}

// BaseURL resolves the effective RoboLabs API base URL from the mode.
func (c RoboLabsConfig) BaseURL() string {
	switch c.Mode {
	case "production":
		return productionBaseURL
	case "custom":
		return strings.TrimRight(c.CustomBaseURL, "/")
	default:
		return sandboxBaseURL
	}
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
