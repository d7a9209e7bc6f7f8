package mailparse

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlPolicy     *bluemonday.Policy
	htmlPolicyOnce sync.Once
)

// SanitizeHTML 过滤邮件 HTML 中的脚本、事件属性和危险链接，用于展示
func SanitizeHTML(html string) string {
	if html == "" {
		return ""
	}
	htmlPolicyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowStyling()
		p.AllowAttrs("width", "height", "align", "valign", "bgcolor", "border", "cellpadding", "cellspacing").Globally()
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		htmlPolicy = p
	})
	return htmlPolicy.Sanitize(html)
}
