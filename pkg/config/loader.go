// Package config 提供 popchain 节点的配置加载功能
//
// 核心功能:
//   - 从 YAML 文件加载配置
//   - 支持环境变量覆盖
//   - 配置验证
//   - 转换为 P2PConfig 结构
//
// 使用示例:
//   // 加载配置
//   cfg, err := config.Load("config/config.yaml")
//   if err != nil {
//       log.Fatal(err)
//   }
//
//   // 转换为 P2PConfig
//   p2pConfig := cfg.ToP2PConfig()
//
// 配置优先级:
//   1. 环境变量（最高优先级）
//   2. 配置文件
//   3. 默认值（最低优先级）
//
// 环境变量命名规则:
//   - 配置项使用 POP_ 前缀
//   - 使用大写字母和下划线
//   - 例如: POP_PORT, POP_CHUNK_SIZE
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/viper"

	"popchain/pkg/p2p"
)

// Config 包含所有配置项
type Config struct {
	Network   NetworkConfig   `mapstructure:"network"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Reward    RewardConfig    `mapstructure:"reward"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Port           int      `mapstructure:"port"`
	Insecure       bool     `mapstructure:"insecure"`
	Seed           int64    `mapstructure:"seed"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	ProtocolPrefix string   `mapstructure:"protocol_prefix"`
	AutoRefresh    bool     `mapstructure:"auto_refresh"`
	NameSpace      string   `mapstructure:"namespace"`
}

// ConsensusConfig PoP 挑战轮配置
type ConsensusConfig struct {
	ChunkSize        int `mapstructure:"chunk_size"`
	HistoryRetention int `mapstructure:"history_retention"`
	// RoundInterval 两轮挑战之间的间隔（秒）
	RoundInterval int `mapstructure:"round_interval"`
	// CollectionWindow 每轮等待响应的窗口（秒）
	CollectionWindow int `mapstructure:"collection_window"`
	// DistributeEvery 每累计多少轮触发一次发奖
	DistributeEvery int `mapstructure:"distribute_every"`
}

// RewardConfig 奖励配置
type RewardConfig struct {
	BaseDailyReward   uint64 `mapstructure:"base_daily_reward"`
	ResetMissedStreak bool   `mapstructure:"reset_missed_streak"`
	LedgerFile        string `mapstructure:"ledger_file"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	PinPath     string `mapstructure:"pin_path"`
	PinListFile string `mapstructure:"pin_list_file"`
}

// APIConfig HTTP 查询接口配置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 从配置文件加载配置
// 如果配置文件不存在，返回默认配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 尝试查找配置文件
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/popchain")
	}

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到，使用默认值
			fmt.Println("Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 绑定环境变量
	bindEnvVars(v)

	// 解析到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 网络配置默认值
	v.SetDefault("network.port", 0)
	v.SetDefault("network.insecure", false)
	v.SetDefault("network.seed", int64(0))
	v.SetDefault("network.bootstrap_peers", []string{})
	v.SetDefault("network.protocol_prefix", "/popchain")
	v.SetDefault("network.auto_refresh", true)
	v.SetDefault("network.namespace", "popchain")

	// 共识配置默认值
	v.SetDefault("consensus.chunk_size", 4096)
	v.SetDefault("consensus.history_retention", 50)
	v.SetDefault("consensus.round_interval", 86400) // 每日一轮
	v.SetDefault("consensus.collection_window", 30)
	v.SetDefault("consensus.distribute_every", 1)

	// 奖励配置默认值
	v.SetDefault("reward.base_daily_reward", 100)
	v.SetDefault("reward.reset_missed_streak", false)
	v.SetDefault("reward.ledger_file", "data/rewards.txt")

	// 存储配置默认值
	v.SetDefault("storage.pin_path", "pins")
	v.SetDefault("storage.pin_list_file", "data/pins.txt")

	// API 配置默认值
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8080")

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindEnvVars 绑定环境变量
func bindEnvVars(v *viper.Viper) {
	// 设置环境变量前缀
	v.SetEnvPrefix("POP")
	v.AutomaticEnv()

	// 绑定各个配置项到环境变量
	bindings := map[string]string{
		"network.port":                "PORT",
		"network.insecure":            "INSECURE",
		"network.seed":                "SEED",
		"network.bootstrap_peers":     "BOOTSTRAP_PEERS",
		"network.protocol_prefix":     "PROTOCOL_PREFIX",
		"network.auto_refresh":        "AUTO_REFRESH",
		"network.namespace":           "NAMESPACE",
		"consensus.chunk_size":        "CHUNK_SIZE",
		"consensus.history_retention": "HISTORY_RETENTION",
		"consensus.round_interval":    "ROUND_INTERVAL",
		"consensus.collection_window": "COLLECTION_WINDOW",
		"consensus.distribute_every":  "DISTRIBUTE_EVERY",
		"reward.base_daily_reward":    "BASE_DAILY_REWARD",
		"reward.reset_missed_streak":  "RESET_MISSED_STREAK",
		"reward.ledger_file":          "LEDGER_FILE",
		"storage.pin_path":            "PIN_PATH",
		"storage.pin_list_file":       "PIN_LIST_FILE",
		"api.enabled":                 "API_ENABLED",
		"api.listen":                  "API_LISTEN",
		"logging.level":               "LOG_LEVEL",
		"logging.format":              "LOG_FORMAT",
	}

	for configKey, envKey := range bindings {
		if err := v.BindEnv(configKey, "POP_"+envKey); err != nil {
			fmt.Printf("Warning: failed to bind env var %s: %v\n", envKey, err)
		}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证网络配置
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.Network.Port)
	}

	// 验证共识配置
	if c.Consensus.ChunkSize < 1024 || c.Consensus.ChunkSize > 4*1024*1024 {
		return fmt.Errorf("invalid chunk_size: %d (must be 1KB-4MB)", c.Consensus.ChunkSize)
	}

	if c.Consensus.HistoryRetention < 1 || c.Consensus.HistoryRetention > 10000 {
		return fmt.Errorf("invalid history_retention: %d (must be 1-10000)", c.Consensus.HistoryRetention)
	}

	if c.Consensus.RoundInterval < 1 {
		return fmt.Errorf("invalid round_interval: %d (must be >= 1)", c.Consensus.RoundInterval)
	}

	if c.Consensus.CollectionWindow < 1 || c.Consensus.CollectionWindow > 3600 {
		return fmt.Errorf("invalid collection_window: %d (must be 1-3600)", c.Consensus.CollectionWindow)
	}

	if c.Consensus.DistributeEvery < 1 || c.Consensus.DistributeEvery > 1000 {
		return fmt.Errorf("invalid distribute_every: %d (must be 1-1000)", c.Consensus.DistributeEvery)
	}

	// 验证奖励配置
	if c.Reward.BaseDailyReward == 0 {
		return fmt.Errorf("base_daily_reward cannot be zero")
	}

	// 验证存储配置
	if c.Storage.PinPath == "" {
		return fmt.Errorf("pin_path cannot be empty")
	}

	// 验证 API 配置
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen cannot be empty when api is enabled")
	}

	// 验证日志配置
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// ToP2PConfig 转换为 P2PConfig
func (c *Config) ToP2PConfig() *p2p.P2PConfig {
	cfg := p2p.NewP2PConfig()

	cfg.Port = c.Network.Port
	cfg.Insecure = c.Network.Insecure
	cfg.Seed = c.Network.Seed
	cfg.ProtocolPrefix = c.Network.ProtocolPrefix
	cfg.EnableAutoRefresh = c.Network.AutoRefresh
	cfg.NameSpace = c.Network.NameSpace

	// 解析 bootstrap peers
	if len(c.Network.BootstrapPeers) > 0 {
		bootstrapPeers, err := parseBootstrapPeers(c.Network.BootstrapPeers)
		if err != nil {
			fmt.Printf("Warning: failed to parse bootstrap peers: %v\n", err)
		} else {
			cfg.BootstrapPeers = bootstrapPeers
		}
	}

	return &cfg
}

// parseBootstrapPeers 解析 bootstrap 节点地址
func parseBootstrapPeers(peerStrs []string) ([]multiaddr.Multiaddr, error) {
	var peers []multiaddr.Multiaddr
	for _, peerStr := range peerStrs {
		peerStr = strings.TrimSpace(peerStr)
		if peerStr == "" {
			continue
		}

		m, err := multiaddr.NewMultiaddr(peerStr)
		if err != nil {
			return nil, fmt.Errorf("invalid multiaddr %q: %w", peerStr, err)
		}

		// 验证地址包含 peer ID
		_, err = peerInfoFromAddr(m)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", peerStr, err)
		}

		peers = append(peers, m)
	}

	return peers, nil
}

// peerInfoFromAddr 从 multiaddr 提取 peer 信息
func peerInfoFromAddr(m multiaddr.Multiaddr) (peer.AddrInfo, error) {
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	return *info, nil
}

// EnsureDirectories 确保必要的目录存在
func (c *Config) EnsureDirectories() error {
	// 创建钉存目录
	if err := os.MkdirAll(c.Storage.PinPath, 0755); err != nil {
		return fmt.Errorf("failed to create pin directory: %w", err)
	}

	// 账本与钉存清单所在目录
	for _, path := range []string{c.Reward.LedgerFile, c.Storage.PinListFile} {
		if path == "" {
			continue
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory %s: %w", dir, err)
			}
		}
	}

	return nil
}

// GetConfigPath 获取配置文件路径
// 按优先级搜索：
// 1. 命令行指定的路径
// 2. 当前目录的 config.yaml
// 3. config/ 目录的 config.yaml
// 4. /etc/popchain/config.yaml
func GetConfigPath(cmdLinePath string) string {
	if cmdLinePath != "" {
		return cmdLinePath
	}

	// 检查可能的配置文件位置
	paths := []string{
		"config.yaml",
		filepath.Join("config", "config.yaml"),
		"/etc/popchain/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// 返回默认路径
	return "config/config.yaml"
}
