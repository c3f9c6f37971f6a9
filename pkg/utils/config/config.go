package config

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
	"gopkg.in/yaml.v2"
)

var (
	APPNAME    string = "adbbridge"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// 密钥存储类型
const (
	KeyStoreMemory   = "memory"
	KeyStoreFile     = "file"
	KeyStorePostgres = "postgres"
)

type ServerConfig struct {
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"` // 0表示不限制
}

type USBConfig struct {
	VendorID    uint16 `yaml:"vendor_id"`
	ProductID   uint16 `yaml:"product_id"`
	Interface   uint8  `yaml:"interface"`
	InEndpoint  uint8  `yaml:"in_endpoint"`
	OutEndpoint uint8  `yaml:"out_endpoint"`
	MaxData     uint32 `yaml:"max_data"`
}

type AuthConfig struct {
	Identifier string `yaml:"identifier"`
	KeyBits    int    `yaml:"key_bits"`
}

type KeyStoreConfig struct {
	Type string `yaml:"type"`
	Dir  string `yaml:"dir"`
	DSN  string `yaml:"dsn"`

	// Passphrase 非空时私钥加密保存
	Passphrase string `yaml:"passphrase"`
}

type LoggerConfig struct {
	Dir       string `yaml:"dir"`
	Level     string `yaml:"level"`
	Rotate    bool   `yaml:"rotate"`
	RotateBy  string `yaml:"rotate_by"` // time 或 size
	MaxSizeMB int    `yaml:"max_size_mb"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	USB      USBConfig      `yaml:"usb"`
	Devices  []string       `yaml:"devices"` // 通过TCP访问的adbd地址
	Auth     AuthConfig     `yaml:"auth"`
	KeyStore KeyStoreConfig `yaml:"keystore"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// Default 返回默认配置
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    5037,
		},
		USB: USBConfig{
			VendorID:    0x18D1,
			ProductID:   0x4E22,
			Interface:   1,
			InEndpoint:  0x88,
			OutEndpoint: 0x07,
			MaxData:     4096,
		},
		Auth: AuthConfig{
			Identifier: "adb@chrome",
			KeyBits:    2048,
		},
		KeyStore: KeyStoreConfig{
			Type: KeyStoreFile,
			Dir:  filepath.Join(home, "."+APPNAME),
		},
		Logger: LoggerConfig{
			Level:    "info",
			RotateBy: "time",
		},
	}
}

// Parse 在默认配置上解析YAML内容
func Parse(data []byte) (*Config, error) {
	conf := Default()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Load 读取配置文件
// 参数：
//   - path：配置文件路径，为空时依次查找可执行文件目录和/etc下的adbbridge.yml
// 返回：
//   - 配置（未找到任何配置文件时返回默认配置）
//   - 错误信息
func Load(path string) (*Config, error) {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件%s失败: %w", path, err)
	}
	return Parse(data)
}

func findConfigFile() string {
	candidates := make([]string, 0, 2)
	if ex, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(ex), APPNAME+".yml"))
	}
	candidates = append(candidates, "/etc/"+APPNAME+".yml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Validate 检查配置项的合法性
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("无效的最大连接数: %d", c.Server.MaxConnections)
	}
	if c.Auth.KeyBits%32 != 0 || c.Auth.KeyBits < 1024 {
		return fmt.Errorf("无效的RSA密钥长度: %d", c.Auth.KeyBits)
	}
	if c.USB.InEndpoint&0x80 == 0 {
		return fmt.Errorf("IN端点地址缺少方向位: 0x%02x", c.USB.InEndpoint)
	}
	if c.USB.OutEndpoint&0x80 != 0 {
		return fmt.Errorf("OUT端点地址不应包含方向位: 0x%02x", c.USB.OutEndpoint)
	}
	switch c.KeyStore.Type {
	case KeyStoreMemory, KeyStoreFile:
	case KeyStorePostgres:
		if c.KeyStore.DSN == "" {
			return fmt.Errorf("postgres密钥存储需要配置dsn")
		}
	default:
		return fmt.Errorf("未知的密钥存储类型: %s", c.KeyStore.Type)
	}
	return nil
}

// ListenAddr 返回监听地址
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// ApplyLogger 按配置替换默认日志输出并设置级别
func ApplyLogger(conf *Config) {
	defer log.Sync()

	if conf.Logger.Rotate {
		dir := conf.Logger.Dir
		if len(dir) == 0 {
			if ex, err := os.Executable(); err == nil {
				dir = filepath.Dir(ex)
			} else {
				dir = "."
			}
		}
		file := filepath.Join(dir, APPNAME+".log")

		var l *log.Logger
		if conf.Logger.RotateBy == "size" {
			l = log.New(log.NewProductionRotateBySize(file, conf.Logger.MaxSizeMB), log.InfoLevel)
		} else {
			l = log.New(log.NewProductionRotateByTime(file), log.InfoLevel)
		}
		log.ReplaceDefault(l)
	}
	log.SetLevel(log.ParseLevel(conf.Logger.Level))
}
