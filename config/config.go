package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chest    ChestConfig    `mapstructure:"chest"`
	Room     RoomConfig     `mapstructure:"room"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// ChestConfig 宝箱经济参数
type ChestConfig struct {
	FeePerWinner int64 `mapstructure:"fee_per_winner"`
	ClaimRetries int   `mapstructure:"claim_retries"`
}

// RoomConfig 房间生命周期参数
type RoomConfig struct {
	DefaultTTLMinutes    int `mapstructure:"default_ttl_minutes"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	CascadeBatchSize     int `mapstructure:"cascade_batch_size"`
}

func (r RoomConfig) DefaultTTL() time.Duration {
	return time.Duration(r.DefaultTTLMinutes) * time.Minute
}

func (r RoomConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("chest.fee_per_winner", 2)
	viper.SetDefault("chest.claim_retries", 3)
	viper.SetDefault("room.default_ttl_minutes", 60)
	viper.SetDefault("room.sweep_interval_seconds", 30)
	viper.SetDefault("room.cascade_batch_size", 500)

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
