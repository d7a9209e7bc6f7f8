package mailparse

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Body 清理后的正文。HTML 为空表示没有 HTML 版本。
type Body struct {
	Text string
	HTML string
}

// rawHeaderPatterns 判断一段文本是否为带头部的原始邮件
var rawHeaderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^Received:`),
	regexp.MustCompile(`(?m)^From:`),
	regexp.MustCompile(`(?m)^To:`),
	regexp.MustCompile(`(?m)^Subject:`),
	regexp.MustCompile(`(?m)^MIME-Version:`),
	regexp.MustCompile(`(?m)^Content-Type:`),
	regexp.MustCompile(`(?m)^DKIM-Signature:`),
	regexp.MustCompile(`(?m)^ARC-`),
	regexp.MustCompile(`(?m)^X-Google-`),
	regexp.MustCompile(`(?m)^X-Gm-`),
	regexp.MustCompile(`(?m)^Message-ID:`),
}

var (
	boundaryRe         = regexp.MustCompile(`(?i)boundary=\\?"?([^\s";\\]+)`)
	partContentTypeRe  = regexp.MustCompile(`(?i)Content-Type:\s*([^\s;]+)`)
	partCharsetRe      = regexp.MustCompile(`(?i)charset="?([^\s";]+)`)
	qpEncodingRe       = regexp.MustCompile(`(?i)Content-Transfer-Encoding:\s*quoted-printable`)
	base64EncodingRe   = regexp.MustCompile(`(?i)Content-Transfer-Encoding:\s*base64`)
	blankLineRe        = regexp.MustCompile(`\r?\n\r?\n`)
	softBreakRe        = regexp.MustCompile(`=\r?\n`)
	leftoverBoundaryRe = regexp.MustCompile(`--[a-zA-Z0-9]+-{0,2}\s*`)
	leftoverTypeRe     = regexp.MustCompile(`(?i)Content-Type:.*\r?\n`)
	leftoverEncodingRe = regexp.MustCompile(`(?i)Content-Transfer-Encoding:.*\r?\n`)
)

// headerScanLimit 只在开头这么多字节内寻找头部特征
const headerScanLimit = 2000

// ExtractBody 从存储的正文中去掉原始邮件头部和 MIME 包装，输入不是原始邮件时原样返回。
func ExtractBody(text, html string) Body {
	out := Body{Text: text, HTML: html}

	if out.Text != "" && IsRawEmail(out.Text) {
		parsed := ParseRawEmail(out.Text)
		out.Text = parsed.Text
		if parsed.HTML != "" {
			out.HTML = parsed.HTML
		}
	}

	if out.HTML != "" && IsRawEmail(out.HTML) {
		parsed := ParseRawEmail(out.HTML)
		switch {
		case parsed.HTML != "":
			out.HTML = parsed.HTML
		case parsed.Text != "":
			out.Text = parsed.Text
			out.HTML = ""
		}
	}

	return out
}

// IsRawEmail 开头出现至少三种常见头部，或同时出现 boundary= 与 Content-Type: 时视为原始邮件
func IsRawEmail(content string) bool {
	head := content
	if len(head) > headerScanLimit {
		head = head[:headerScanLimit]
	}

	count := 0
	for _, re := range rawHeaderPatterns {
		if re.MatchString(head) {
			count++
		}
	}
	if count >= 3 {
		return true
	}
	return strings.Contains(head, "boundary=") && strings.Contains(head, "Content-Type:")
}

// ParseRawEmail 提取第一个 text/plain 与 text/html 部分。没有 MIME 边界时以第一个空行分隔头部与正文。
func ParseRawEmail(raw string) Body {
	var out Body

	if m := boundaryRe.FindStringSubmatch(raw); m != nil {
		for _, part := range strings.Split(raw, "--"+m[1]) {
			if strings.TrimSpace(part) == "" || strings.HasPrefix(part, "--") {
				continue
			}
			ct := partContentTypeRe.FindStringSubmatch(part)
			if ct == nil {
				continue
			}
			loc := blankLineRe.FindStringIndex(part)
			if loc == nil {
				continue
			}
			headers := part[:loc[0]]
			body := decodePart(headers, strings.TrimSpace(part[loc[1]:]))

			switch strings.ToLower(ct[1]) {
			case "text/plain":
				if out.Text == "" {
					out.Text = body
				}
			case "text/html":
				if out.HTML == "" {
					out.HTML = body
				}
			}
		}
	} else if loc := blankLineRe.FindStringIndex(raw); loc != nil {
		out.Text = strings.TrimSpace(raw[loc[1]:])
		if qpEncodingRe.MatchString(raw[:loc[0]]) {
			out.Text = DecodeQuotedPrintable(out.Text)
		}
	} else {
		out.Text = raw
	}

	out.Text = cleanMimeArtifacts(out.Text)
	if out.HTML != "" {
		out.HTML = cleanMimeArtifacts(out.HTML)
	}
	return out
}

// decodePart 按部分头部声明的传输编码与字符集解码，解码失败保留原文
func decodePart(headers, body string) string {
	charset := ""
	if m := partCharsetRe.FindStringSubmatch(headers); m != nil {
		charset = m[1]
	}

	switch {
	case qpEncodingRe.MatchString(headers):
		return toUTF8(decodeQuotedPrintableBytes(body), charset)
	case base64EncodingRe.MatchString(headers):
		compact := strings.Join(strings.Fields(body), "")
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return body
		}
		return toUTF8(decoded, charset)
	}
	return body
}

// DecodeQuotedPrintable 去掉软换行并解码 =XX 序列，不合法的序列保持原样。
func DecodeQuotedPrintable(s string) string {
	return string(decodeQuotedPrintableBytes(s))
}

func decodeQuotedPrintableBytes(s string) []byte {
	s = softBreakRe.ReplaceAllString(s, "")

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			out = append(out, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// cleanMimeArtifacts 清除正文里残留的边界行和内容头
func cleanMimeArtifacts(content string) string {
	content = leftoverBoundaryRe.ReplaceAllString(content, "")
	content = leftoverTypeRe.ReplaceAllString(content, "")
	content = leftoverEncodingRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}
