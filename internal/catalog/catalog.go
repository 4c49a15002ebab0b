// Package catalog 提供常见进程的处理器模板，用于未自描述目标的兜底路径。
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ProcessMCP/internal/protocol"
)

//go:embed templates.json
var defaultTemplates []byte

// Provider 定义模板检索的通用接口。
type Provider interface {
	Query(targetID, text string) []protocol.HandlerMetadata
}

// Template 描述一类常见进程暴露的处理器。
type Template struct {
	Name     string                     `json:"name"`
	Keywords []string                   `json:"keywords"`
	Handlers []protocol.HandlerMetadata `json:"handlers"`
}

// StaticCatalog 通过内置或外部 JSON 文件提供模板检索。
type StaticCatalog struct {
	templates []Template
}

// NewStaticCatalog 创建静态模板库实例，并补全缺失的语义分类。
func NewStaticCatalog(templates []Template) *StaticCatalog {
	for i := range templates {
		for j := range templates[i].Handlers {
			h := &templates[i].Handlers[j]
			if h.Category == "" {
				h.Category = protocol.InferCategory(h.Action, h.Description)
			}
		}
	}
	return &StaticCatalog{templates: templates}
}

// Default 返回内置模板（token 与 calculator）。
func Default() *StaticCatalog {
	c, err := parse(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("内置模板无效: %v", err))
	}
	return c
}

// Load 从 JSON 文件加载模板；路径为空时返回内置模板。
func Load(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析模板路径失败: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取模板文件失败: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*StaticCatalog, error) {
	var templates []Template
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("解析模板文件失败: %w", err)
	}
	for _, t := range templates {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("模板缺少名称")
		}
		for _, h := range t.Handlers {
			if strings.TrimSpace(h.Action) == "" {
				return nil, fmt.Errorf("模板 %s 存在未命名的处理器", t.Name)
			}
		}
	}
	return NewStaticCatalog(templates), nil
}

// Query 根据目标 ID 与请求文本匹配模板，返回去重后的处理器列表。
// 目标 ID 按子串匹配，请求文本按单词匹配。
func (c *StaticCatalog) Query(targetID, text string) []protocol.HandlerMetadata {
	if c == nil {
		return nil
	}
	target := strings.ToLower(strings.TrimSpace(targetID))
	words := protocol.Words(text)

	var out []protocol.HandlerMetadata
	seen := make(map[string]bool)
	for _, t := range c.templates {
		if !matches(t, target, words) {
			continue
		}
		for _, h := range t.Handlers {
			key := strings.ToLower(h.Action)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, h)
		}
	}
	return out
}

// Templates 返回模板名称列表。
func (c *StaticCatalog) Templates() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.templates))
	for _, t := range c.templates {
		names = append(names, t.Name)
	}
	return names
}

func matches(t Template, target string, words []string) bool {
	for _, keyword := range t.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if target != "" && strings.Contains(target, normalized) {
			return true
		}
		for _, w := range words {
			if w == normalized || strings.TrimSuffix(w, "s") == normalized {
				return true
			}
		}
	}
	return false
}

// 确保 StaticCatalog 实现 Provider 接口。
var _ Provider = (*StaticCatalog)(nil)
