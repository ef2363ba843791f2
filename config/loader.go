// =============================================================================
// 📦 FlowPort 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FLOWPORT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowport/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// 数据源类型
const (
	DataSourceDatabase = "database"
	DataSourceAPI      = "api"
	DataSourceManual   = "manual"
)

// Config 是 FlowPort 的完整配置结构
type Config struct {
	// DataSource 当前进程使用的数据源: database, api, manual
	DataSource string `yaml:"data_source" env:"DATA_SOURCE"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database 数据库数据源配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// API 远端 API 数据源配置
	API APIConfig `yaml:"api" env:"API"`

	// Manual 手工文件数据源配置
	Manual ManualConfig `yaml:"manual" env:"MANUAL"`

	// Import 远端导入配置
	Import ImportConfig `yaml:"import" env:"IMPORT"`

	// TargetInstances 导入目标实例（只读，不支持环境变量覆盖）
	TargetInstances []types.TargetInstance `yaml:"target_instances" env:"-"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 限流速率（每秒请求数）
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源；为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig 数据库数据源配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 应用表名
	AppsTable string `yaml:"apps_table" env:"APPS_TABLE"`
	// 工作流表名
	WorkflowsTable string `yaml:"workflows_table" env:"WORKFLOWS_TABLE"`
}

// APIConfig 远端 API 数据源配置
type APIConfig struct {
	// 远端控制台基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 认证配置
	Auth types.InstanceAuth `yaml:"auth" env:"AUTH"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 上游分页大小
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// 列表缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 端点模板（{app_id} 占位符在请求时替换）
	Endpoints APIEndpoints `yaml:"endpoints" env:"ENDPOINTS"`
}

// APIEndpoints 远端控制台端点模板
type APIEndpoints struct {
	// 应用列表
	AppsList string `yaml:"apps_list" env:"APPS_LIST"`
	// 应用详情
	AppDetail string `yaml:"app_detail" env:"APP_DETAIL"`
	// 草稿工作流
	WorkflowDraft string `yaml:"workflow_draft" env:"WORKFLOW_DRAFT"`
	// 登录
	Login string `yaml:"login" env:"LOGIN"`
	// 令牌刷新
	RefreshToken string `yaml:"refresh_token" env:"REFRESH_TOKEN"`
}

// ManualConfig 手工文件数据源配置
type ManualConfig struct {
	// 数据目录
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	// 备份目录
	BackupDir string `yaml:"backup_dir" env:"BACKUP_DIR"`
	// 覆盖前是否自动备份
	AutoBackup bool `yaml:"auto_backup" env:"AUTO_BACKUP"`
}

// ImportConfig 远端导入配置
type ImportConfig struct {
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 网络错误重试次数
	RetryAttempts int `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	// 重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（未启用时统计缓存退化为直查）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWPORT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.DataSource {
	case DataSourceDatabase, DataSourceAPI, DataSourceManual:
	default:
		errs = append(errs, fmt.Sprintf("unknown data_source %q", c.DataSource))
	}

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 按数据源验证对应配置段
	switch c.DataSource {
	case DataSourceDatabase:
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
		}
	case DataSourceAPI:
		if c.API.BaseURL == "" {
			errs = append(errs, "api.base_url is required when data_source is api")
		}
		if c.API.PageSize <= 0 {
			errs = append(errs, "api.page_size must be positive")
		}
	case DataSourceManual:
		if c.Manual.DataDir == "" {
			errs = append(errs, "manual.data_dir is required when data_source is manual")
		}
	}

	if c.Import.RetryAttempts < 1 {
		errs = append(errs, "import.retry_attempts must be at least 1")
	}

	// 目标实例 ID 必须唯一
	seen := make(map[string]bool, len(c.TargetInstances))
	for _, inst := range c.TargetInstances {
		if inst.ID == "" {
			errs = append(errs, "target instance id must not be empty")
			continue
		}
		if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("duplicate target instance id %q", inst.ID))
		}
		seen[inst.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DefaultTargetInstance 返回默认目标实例。
// 优先返回 is_default 标记的实例，否则返回第一个；没有实例时返回 nil。
func (c *Config) DefaultTargetInstance() *types.TargetInstance {
	for i := range c.TargetInstances {
		if c.TargetInstances[i].IsDefault {
			return &c.TargetInstances[i]
		}
	}
	if len(c.TargetInstances) > 0 {
		return &c.TargetInstances[0]
	}
	return nil
}

// FindTargetInstance 按 ID 查找目标实例
func (c *Config) FindTargetInstance(id string) *types.TargetInstance {
	for i := range c.TargetInstances {
		if c.TargetInstances[i].ID == id {
			return &c.TargetInstances[i]
		}
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
