package sources

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const guangxiBase = "https://gxrb.gxrb.com.cn/"

// Guangxi is 广西日报. Its reader is a script-rendered page addressed by
// section code and sequence number, so articles are discovered by probing.
type Guangxi struct{}

func (Guangxi) Key() string  { return "guangxi" }
func (Guangxi) Name() string { return "广西日报" }

// SlotRequest addresses article item of section on date.
func (Guangxi) SlotRequest(d time.Time, section, item int) crawler.FetchRequest {
	return crawler.FetchRequest{
		URL: fmt.Sprintf("%s?name=gxrb&date=%s&code=%03d&xuhao=%d",
			guangxiBase, d.Format("2006-01-02"), section, item),
		Mode:     crawler.RenderHeadless,
		TextOnly: true,
	}
}

func (Guangxi) SectionLabel(section int) string {
	return fmt.Sprintf("第%03d版", section)
}

// IsGuangxiLink reports whether link points at the Guangxi reader.
func IsGuangxiLink(link string) bool {
	return strings.Contains(link, "gxrb.gxrb.com.cn")
}

var (
	guangxiChrome = []string{
		"数字报首页", "按日期查找", "版面导航", "字体：", "返回", "新闻中心", "ICP证", "广西新闻网版权",
	}
	guangxiAfterDateSkip = []string{
		"数字报首页", "按日期查找", "版面导航", "字体", "返回", "发布时间", "各版主要新闻",
	}
	guangxiBodySkip = []string{"发布时间", "版中缝", "各版主要新闻", "数字报首页", "按日期查找"}
	guangxiBylines  = []string{"■", "广西云-广西日报记者", "广西日报记者", "通讯员"}
)

const guangxiMaxParagraphs = 10

// ParseSlot recovers the title and body from the visible text of a rendered
// article. The title is the first substantial line followed closely by a
// byline; failing that, the first substantial line after the edition date.
func (Guangxi) ParseSlot(body []byte) (string, []string) {
	lines := splitLines(string(body))
	title := titleBeforeByline(lines)
	if title == "" {
		title = titleAfterEditionDate(lines)
	}
	return title, guangxiParagraphs(lines)
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func titleBeforeByline(lines []string) string {
	for i, line := range lines {
		if containsAny(line, guangxiChrome) || isEditionDate(line) {
			continue
		}
		n := utf8.RuneCountInString(line)
		if n <= 15 || n >= 200 {
			continue
		}
		end := min(i+5, len(lines))
		for _, next := range lines[i+1 : end] {
			if containsAny(next, guangxiBylines) {
				return line
			}
		}
	}
	return ""
}

func titleAfterEditionDate(lines []string) string {
	afterDate := false
	for _, line := range lines {
		if isEditionDate(line) {
			afterDate = true
			continue
		}
		if !afterDate {
			continue
		}
		n := utf8.RuneCountInString(line)
		if n <= 10 || n >= 200 || containsAny(line, guangxiAfterDateSkip) {
			continue
		}
		return line
	}
	return ""
}

// isEditionDate matches the "2025年11月20日第 001 版）" banner.
func isEditionDate(line string) bool {
	return strings.Contains(line, "年") && strings.Contains(line, "月") &&
		strings.Contains(line, "日") && strings.Contains(line, "版）")
}

func guangxiParagraphs(lines []string) []string {
	var out []string
	for _, line := range lines {
		if utf8.RuneCountInString(line) <= 30 {
			continue
		}
		switch {
		case strings.Contains(line, "本报讯") || strings.Contains(line, "（广西云-广西日报记者"):
			out = append(out, line)
		case !containsAny(line, guangxiBodySkip) && strings.ContainsAny(line, "，。、："):
			out = append(out, line)
		}
		if len(out) == guangxiMaxParagraphs {
			break
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
