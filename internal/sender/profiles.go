package sender

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile 某个发件域名使用的凭据
type Profile struct {
	APIKey string `yaml:"api_key"`
}

// Profiles 按发件域名选择凭据的静态表，未登记的域名使用默认凭据。
type Profiles struct {
	Default Profile            `yaml:"default"`
	Domains map[string]Profile `yaml:"domains"`
}

// LoadProfiles 读取 YAML 凭据表。path 为空时只有默认凭据。
// 文件中的 default 为空时使用 fallback。
func LoadProfiles(path string, fallback Profile) (*Profiles, error) {
	p := &Profiles{Domains: map[string]Profile{}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sender profiles: %w", err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse sender profiles: %w", err)
		}
	}
	if p.Default.APIKey == "" {
		p.Default = fallback
	}

	normalized := make(map[string]Profile, len(p.Domains))
	for name, profile := range p.Domains {
		normalized[strings.ToLower(strings.TrimSpace(name))] = profile
	}
	p.Domains = normalized
	return p, nil
}

// ForDomain 返回发件域名对应的凭据
func (p *Profiles) ForDomain(domainName string) Profile {
	if profile, ok := p.Domains[strings.ToLower(domainName)]; ok && profile.APIKey != "" {
		return profile
	}
	return p.Default
}
