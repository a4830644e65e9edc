package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	StoreDriver string

	DB       DBConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Compute  ComputeConfig
	Pool     PoolConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host          string
	Port          string
	RedisPassword string
	RedisDB       string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type JWTConfig struct {
	Secret string
}

// StorageConfig points at the slide input directory and the directory the
// compute service writes overlay images into.
type StorageConfig struct {
	InputDir   string
	ResultsDir string
}

type ComputeConfig struct {
	URL            string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type PoolConfig struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
	ShutdownGrace time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "slide-analyzer")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "8087")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "postgres")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", "0")

	v.SetDefault("RABBITMQ_EXCHANGE", "analysis.events")

	v.SetDefault("INPUT_DIR", "../uploads/svs/")
	v.SetDefault("RESULTS_DIR", "../uploads/fullnet_results/")

	v.SetDefault("COMPUTE_URL", "http://localhost:8000")
	v.SetDefault("COMPUTE_CONNECT_TIMEOUT", 30*time.Second)
	v.SetDefault("COMPUTE_READ_TIMEOUT", 10*time.Minute)

	v.SetDefault("POOL_CORE_SIZE", 3)
	v.SetDefault("POOL_MAX_SIZE", 10)
	v.SetDefault("POOL_QUEUE_CAPACITY", 50)
	v.SetDefault("POOL_KEEP_ALIVE", 60*time.Second)
	v.SetDefault("POOL_SHUTDOWN_GRACE", 60*time.Second)
}

// Load reads configuration from the environment. Unset variables fall back
// to the defaults above; REDIS_HOST and RABBITMQ_URL stay empty unless set,
// which disables the snapshot cache and the event publisher.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return FromViper(v)
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppName:     v.GetString("APP_NAME"),
		AppEnv:      v.GetString("APP_ENV"),
		AppPort:     v.GetString("APP_PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),

		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},

		Redis: RedisConfig{
			Host:          v.GetString("REDIS_HOST"),
			Port:          v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetString("REDIS_DB"),
		},

		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("RABBITMQ_URL"),
			Exchange: v.GetString("RABBITMQ_EXCHANGE"),
		},

		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},

		Storage: StorageConfig{
			InputDir:   v.GetString("INPUT_DIR"),
			ResultsDir: v.GetString("RESULTS_DIR"),
		},

		Compute: ComputeConfig{
			URL:            strings.TrimRight(v.GetString("COMPUTE_URL"), "/"),
			ConnectTimeout: v.GetDuration("COMPUTE_CONNECT_TIMEOUT"),
			ReadTimeout:    v.GetDuration("COMPUTE_READ_TIMEOUT"),
		},

		Pool: PoolConfig{
			CoreSize:      v.GetInt("POOL_CORE_SIZE"),
			MaxSize:       v.GetInt("POOL_MAX_SIZE"),
			QueueCapacity: v.GetInt("POOL_QUEUE_CAPACITY"),
			KeepAlive:     v.GetDuration("POOL_KEEP_ALIVE"),
			ShutdownGrace: v.GetDuration("POOL_SHUTDOWN_GRACE"),
		},
	}
}
