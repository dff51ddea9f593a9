package mesh

import (
	"github.com/dep2p/go-mesh/config"
)

// ════════════════════════════════════════════════════════════════════════
// 配置预设
// ════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameMobile 移动端预设（省电省流量，小邻居集）
	PresetNameMobile = "mobile"

	// PresetNameDesktop 桌面端预设（默认配置）
	PresetNameDesktop = "desktop"

	// PresetNameServer 服务器预设（大邻居集，常驻中继）
	PresetNameServer = "server"

	// PresetNameMinimal 最小化预设（收发与最小心跳，测试用）
	PresetNameMinimal = "minimal"
)

// GetDefaultConfig 返回默认（桌面端）配置
func GetDefaultConfig() *config.Config {
	return config.NewConfig()
}

// GetMobileConfig 返回移动端预设配置
func GetMobileConfig() *config.Config {
	return config.NewMobileConfig()
}

// GetServerConfig 返回服务器预设配置
func GetServerConfig() *config.Config {
	return config.NewServerConfig()
}

// GetMinimalConfig 返回最小化预设配置
func GetMinimalConfig() *config.Config {
	return config.NewMinimalConfig()
}

// GetConfigByPreset 按预设名称返回配置，未知名称返回错误
func GetConfigByPreset(name string) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := config.ApplyPreset(cfg, name); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsValidPreset 判断预设名称是否有效
func IsValidPreset(name string) bool {
	switch name {
	case PresetNameMobile, PresetNameDesktop, PresetNameServer, PresetNameMinimal:
		return true
	default:
		return false
	}
}

// PresetInfo 预设的描述信息
type PresetInfo struct {
	Name        string
	Description string
}

// AvailablePresets 返回全部可用预设及其说明
func AvailablePresets() []PresetInfo {
	return []PresetInfo{
		{PresetNameMobile, "移动端：省电省流量，邻居数与反熵频率压到最低"},
		{PresetNameDesktop, "桌面端：默认均衡配置"},
		{PresetNameServer, "服务器：大邻居集与深转发队列，适合常驻中继"},
		{PresetNameMinimal, "最小化：只保留收发与心跳，适合测试与嵌入"},
	}
}
