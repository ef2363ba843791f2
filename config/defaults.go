// =============================================================================
// 📦 FlowPort 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DataSource: DataSourceDatabase,
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		API:        DefaultAPIConfig(),
		Manual:     DefaultManualConfig(),
		Import:     DefaultImportConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "dify",
		Password:        "",
		Name:            "dify",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AppsTable:       "apps",
		WorkflowsTable:  "workflows",
	}
}

// DefaultAPIConfig 返回默认远端 API 配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		BaseURL:  "",
		Timeout:  30 * time.Second,
		PageSize: 50,
		CacheTTL: 5 * time.Minute,
		Endpoints: APIEndpoints{
			AppsList:      "/console/api/apps",
			AppDetail:     "/console/api/apps/{app_id}",
			WorkflowDraft: "/console/api/apps/{app_id}/workflows/draft",
			Login:         "/console/api/login",
			RefreshToken:  "/console/api/refresh-token",
		},
	}
}

// DefaultManualConfig 返回默认手工文件配置
func DefaultManualConfig() ManualConfig {
	return ManualConfig{
		DataDir:    "data/workflows",
		BackupDir:  "data/backups",
		AutoBackup: true,
	}
}

// DefaultImportConfig 返回默认导入配置
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
