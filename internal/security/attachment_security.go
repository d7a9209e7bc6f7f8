package security

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

// ErrAttachmentTooLarge 附件解码后超过大小上限
var ErrAttachmentTooLarge = errors.New("attachment too large")

// AttachmentPolicy 入站附件的存储前检查
type AttachmentPolicy struct {
	// 最大文件大小（字节），0 表示不限制
	maxFileSize int
}

// NewAttachmentPolicy 创建附件检查器
func NewAttachmentPolicy(maxFileSize int) *AttachmentPolicy {
	return &AttachmentPolicy{maxFileSize: maxFileSize}
}

// CheckSize 检查解码后的附件大小
func (p *AttachmentPolicy) CheckSize(size int) error {
	if p.maxFileSize > 0 && size > p.maxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrAttachmentTooLarge, size, p.maxFileSize)
	}
	return nil
}

// ContentType 优先使用声明的类型，缺失或无法解析时按内容嗅探
func (p *AttachmentPolicy) ContentType(declared string, content []byte) string {
	if declared != "" {
		if mediaType, params, err := mime.ParseMediaType(declared); err == nil {
			return mime.FormatMediaType(mediaType, params)
		}
	}
	if len(content) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(content).String()
}

// SanitizeFilename 清理文件名，使其可以安全地作为对象键的最后一段
func SanitizeFilename(filename string) string {
	// 统一分隔符后只保留最后一段
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)

	filename = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, filename)

	filename = strings.Trim(filename, " .")
	filename = limitLength(filename, 200)

	if filename == "" || filename == "/" {
		return "unnamed"
	}
	return filename
}

// limitLength 限制长度，尽量保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	ext := filepath.Ext(s)
	if len(ext) >= maxLen {
		return s[:maxLen]
	}
	base := strings.TrimSuffix(s, ext)
	return base[:maxLen-len(ext)] + ext
}
