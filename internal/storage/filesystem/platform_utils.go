package filesystem

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// ValidatePath 验证根目录路径是否安全
func (p *PlatformUtils) ValidatePath(dir string) error {
	if dir == "" {
		return fmt.Errorf("path is empty")
	}
	if len(dir) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(dir))
	}
	if strings.Contains(dir, "..") {
		return fmt.Errorf("path traversal detected: %s", dir)
	}
	return nil
}

// ValidateKey 校验对象键：相对路径、不含 ".." 段、不含反斜杠与 NUL
func (p *PlatformUtils) ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	if strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	return runtime.GOOS != "windows"
}

// NormalizePath 转为绝对路径并清理
func (p *PlatformUtils) NormalizePath(dir string) string {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return filepath.Clean(absPath)
}
