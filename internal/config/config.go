package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	RabbitMQ    RabbitMQConfig `mapstructure:"rabbitmq"`
	Loader      LoaderConfig   `mapstructure:"loader"`
	Matching    MatchingConfig `mapstructure:"matching"`
	Worker      WorkerConfig   `mapstructure:"worker"`
	Log         LogConfig      `mapstructure:"log"`
	LibraryDir  string         `mapstructure:"library_dir"`  // 待建档库文件收件目录
	ArtifactDir string         `mapstructure:"artifact_dir"` // 待检测应用收件目录
	DataDir     string         `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// LoaderConfig 类层级加载器配置
type LoaderConfig struct {
	DumperPath   string `mapstructure:"dumper_path"`   // 外部字节码导出器，如 python3
	DumperScript string `mapstructure:"dumper_script"` // 导出脚本路径
	Timeout      int    `mapstructure:"timeout"`       // seconds - 单构件导出超时
}

// MatchingConfig 匹配策略配置
type MatchingConfig struct {
	MinScore  float64 `mapstructure:"min_score"`  // 低于该分数的候选不上报
	PathAware bool    `mapstructure:"path_aware"` // 是否启用路径感知辅助评分
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	viper.AutomaticEnv()

	// RabbitMQ
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 填充关键参数的默认值
func applyDefaults(cfg *Config) {
	if cfg.Matching.MinScore == 0 {
		cfg.Matching.MinScore = 0.3
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Loader.Timeout == 0 {
		cfg.Loader.Timeout = 300
	}
}
