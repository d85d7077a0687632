package websocket

import (
	"fmt"
	"time"
)

// Config WebSocket配置
type Config struct {
	// 最大连接数
	MaxConnections int64
	// 心跳间隔
	HeartbeatInterval time.Duration
	// 连接超时时间，超过该时间没有任何入站数据视为断线
	ConnectionTimeout time.Duration
	// 每个连接的发送缓冲区大小
	MessageBufferSize int
	// 读缓冲区大小
	ReadBufferSize int
	// 写缓冲区大小
	WriteBufferSize int
	// 最大入站消息大小
	MaxMessageSize int
	// 是否启用压缩
	EnableCompression bool
	// 每个连接每秒允许的入站消息数
	MessageRate float64
	// 入站突发上限
	MessageBurst int
	// 集群节点ID
	ClusterNodeID string
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    DefaultMaxConnections,
		HeartbeatInterval: DefaultHeartbeatInterval * time.Second,
		ConnectionTimeout: DefaultConnectionTimeout * time.Second,
		MessageBufferSize: DefaultMessageBufferSize,
		ReadBufferSize:    DefaultReadBufferSize,
		WriteBufferSize:   DefaultWriteBufferSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		EnableCompression: false,
		MessageRate:       20,
		MessageBurst:      40,
	}
}

// ValidateConfig 验证WebSocket配置
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("websocket config is nil")
	}
	if config.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if config.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if config.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if config.MessageBufferSize <= 0 {
		return fmt.Errorf("message buffer size must be positive")
	}
	if config.ReadBufferSize <= 0 || config.WriteBufferSize <= 0 {
		return fmt.Errorf("read/write buffer size must be positive")
	}
	if config.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}
	// 心跳间隔应该小于连接超时时间
	if config.HeartbeatInterval >= config.ConnectionTimeout {
		return fmt.Errorf("heartbeat interval must be shorter than connection timeout")
	}
	if config.MessageRate <= 0 || config.MessageBurst <= 0 {
		return fmt.Errorf("message rate and burst must be positive")
	}
	return nil
}

// MergeConfig 用非零值覆盖默认配置
func MergeConfig(base *Config, override *Config) *Config {
	result := *base
	if override == nil {
		return &result
	}
	if override.MaxConnections > 0 {
		result.MaxConnections = override.MaxConnections
	}
	if override.HeartbeatInterval > 0 {
		result.HeartbeatInterval = override.HeartbeatInterval
	}
	if override.ConnectionTimeout > 0 {
		result.ConnectionTimeout = override.ConnectionTimeout
	}
	if override.MessageBufferSize > 0 {
		result.MessageBufferSize = override.MessageBufferSize
	}
	if override.ReadBufferSize > 0 {
		result.ReadBufferSize = override.ReadBufferSize
	}
	if override.WriteBufferSize > 0 {
		result.WriteBufferSize = override.WriteBufferSize
	}
	if override.MaxMessageSize > 0 {
		result.MaxMessageSize = override.MaxMessageSize
	}
	if override.MessageRate > 0 {
		result.MessageRate = override.MessageRate
	}
	if override.MessageBurst > 0 {
		result.MessageBurst = override.MessageBurst
	}
	if override.ClusterNodeID != "" {
		result.ClusterNodeID = override.ClusterNodeID
	}
	result.EnableCompression = override.EnableCompression
	return &result
}

// GetConfigSummary 获取配置摘要
func GetConfigSummary(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"max_connections":     config.MaxConnections,
		"heartbeat_interval":  config.HeartbeatInterval.String(),
		"connection_timeout":  config.ConnectionTimeout.String(),
		"message_buffer_size": config.MessageBufferSize,
		"max_message_size":    config.MaxMessageSize,
		"enable_compression":  config.EnableCompression,
		"message_rate":        config.MessageRate,
		"cluster_node_id":     config.ClusterNodeID,
	}
}
