package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort   string
	AppEnv    string
	LogLevel  string
	LogFormat string

	StoreBackend string // dynamo | memory
	QueueBackend string // redis | memory

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string

	EmailProvider string // smtp | ses
	SMTPHost      string
	SMTPPort      string
	SMTPFrom      string
	SMTPUsername  string
	SMTPPassword  string
	SESRegion     string

	SMSProvider       string // sns | twilio
	SNSRegion         string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	FirebaseCredsPath string

	DirectoryDSN string

	DispatchWorkers   int
	DispatchLease     time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       float64
	RetryAutomatic    bool
	DefaultMaxRetries int

	SchedulerTick           time.Duration
	CompletionCheckInterval time.Duration

	AllowedOrigins  []string // CORS allowed origins
	EventsRateLimit float64
	EventsRateBurst int
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Templates     string
	Notifications string
	Campaigns     string
	Events        string
	Stats         string
}

var defaults = map[string]interface{}{
	"APP_PORT":                   "3000",
	"APP_ENV":                    "development",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "console",
	"STORE_BACKEND":              "dynamo",
	"QUEUE_BACKEND":              "redis",
	"REDIS_ADDR":                 "localhost:6379",
	"REDIS_DB":                   0,
	"AWS_REGION":                 "us-east-1",
	"DYNAMO_TABLE_TEMPLATES":     "templates",
	"DYNAMO_TABLE_NOTIFICATIONS": "notifications",
	"DYNAMO_TABLE_CAMPAIGNS":     "campaigns",
	"DYNAMO_TABLE_EVENTS":        "delivery_events",
	"DYNAMO_TABLE_STATS":         "delivery_stats",
	"S3_BUCKET_NAME":             "clinic-notify-audiences",
	"EMAIL_PROVIDER":             "smtp",
	"SMTP_HOST":                  "localhost",
	"SMTP_PORT":                  "1025",
	"SMTP_FROM":                  "noreply@example.com",
	"SES_REGION":                 "us-east-1",
	"SMS_PROVIDER":               "sns",
	"SNS_REGION":                 "us-east-1",
	"DISPATCH_WORKERS":           8,
	"DISPATCH_LEASE":             "2m",
	"RETRY_BASE_DELAY":           "30s",
	"RETRY_MAX_DELAY":            "30m",
	"RETRY_MULTIPLIER":           2.0,
	"RETRY_JITTER":               0.2,
	"RETRY_AUTOMATIC":            true,
	"DEFAULT_MAX_RETRIES":        3,
	"SCHEDULER_TICK":             "15s",
	"COMPLETION_CHECK_INTERVAL":  "5s",
	"ALLOWED_ORIGINS":            "*",
	"EVENTS_RATE_LIMIT":          50.0,
	"EVENTS_RATE_BURST":          100,
}

// Load reads a .env file when present, then all configuration from the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// FromViper maps a populated viper instance onto Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppPort:   v.GetString("APP_PORT"),
		AppEnv:    v.GetString("APP_ENV"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),
		QueueBackend: strings.ToLower(v.GetString("QUEUE_BACKEND")),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		AWSRegion:      v.GetString("AWS_REGION"),
		AWSEndpointURL: v.GetString("AWS_ENDPOINT_URL"),
		AWSAccessKeyID: v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:   v.GetString("AWS_SECRET_ACCESS_KEY"),
		DynamoTables: DynamoTables{
			Templates:     v.GetString("DYNAMO_TABLE_TEMPLATES"),
			Notifications: v.GetString("DYNAMO_TABLE_NOTIFICATIONS"),
			Campaigns:     v.GetString("DYNAMO_TABLE_CAMPAIGNS"),
			Events:        v.GetString("DYNAMO_TABLE_EVENTS"),
			Stats:         v.GetString("DYNAMO_TABLE_STATS"),
		},
		S3BucketName: v.GetString("S3_BUCKET_NAME"),

		EmailProvider: strings.ToLower(v.GetString("EMAIL_PROVIDER")),
		SMTPHost:      v.GetString("SMTP_HOST"),
		SMTPPort:      v.GetString("SMTP_PORT"),
		SMTPFrom:      v.GetString("SMTP_FROM"),
		SMTPUsername:  v.GetString("SMTP_USERNAME"),
		SMTPPassword:  v.GetString("SMTP_PASSWORD"),
		SESRegion:     v.GetString("SES_REGION"),

		SMSProvider:       strings.ToLower(v.GetString("SMS_PROVIDER")),
		SNSRegion:         v.GetString("SNS_REGION"),
		TwilioAccountSID:  v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  v.GetString("TWILIO_FROM_NUMBER"),
		FirebaseCredsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),

		DirectoryDSN: v.GetString("DIRECTORY_DSN"),

		DispatchWorkers:   v.GetInt("DISPATCH_WORKERS"),
		DispatchLease:     v.GetDuration("DISPATCH_LEASE"),
		RetryBaseDelay:    v.GetDuration("RETRY_BASE_DELAY"),
		RetryMaxDelay:     v.GetDuration("RETRY_MAX_DELAY"),
		RetryMultiplier:   v.GetFloat64("RETRY_MULTIPLIER"),
		RetryJitter:       v.GetFloat64("RETRY_JITTER"),
		RetryAutomatic:    v.GetBool("RETRY_AUTOMATIC"),
		DefaultMaxRetries: v.GetInt("DEFAULT_MAX_RETRIES"),

		SchedulerTick:           v.GetDuration("SCHEDULER_TICK"),
		CompletionCheckInterval: v.GetDuration("COMPLETION_CHECK_INTERVAL"),

		AllowedOrigins:  splitList(v.GetString("ALLOWED_ORIGINS")),
		EventsRateLimit: v.GetFloat64("EVENTS_RATE_LIMIT"),
		EventsRateBurst: v.GetInt("EVENTS_RATE_BURST"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
