// Package classify derives tags and a category from article text using fixed
// keyword tables.
package classify

import "strings"

// tagKeywords is the full tag vocabulary. Every keyword found in the title
// becomes a tag.
var tagKeywords = []string{
	"技术", "教程", "分享", "经验", "总结", "分析", "研究", "开发",
	"设计", "产品", "运营", "营销", "创业", "投资", "职场", "管理",
	"生活", "健康", "教育", "文化", "艺术", "娱乐", "体育", "旅游",
}

// DefaultCategory is assigned when no category keyword matches.
const DefaultCategory = "other"

type category struct {
	name     string
	keywords []string
}

// categories is ordered: the first category with a matching keyword wins, so
// the table order is part of the classification contract.
var categories = []category{
	{"技术", []string{"技术", "编程", "开发", "代码", "算法", "框架", "工具"}},
	{"生活", []string{"生活", "日常", "经验", "分享", "故事", "感悟"}},
	{"教育", []string{"教育", "学习", "教程", "培训", "知识", "技能"}},
	{"商业", []string{"商业", "创业", "投资", "营销", "管理", "职场"}},
	{"文化", []string{"文化", "艺术", "历史", "文学", "音乐", "电影"}},
	{"健康", []string{"健康", "医疗", "运动", "养生", "心理"}},
	{"科技", []string{"科技", "科学", "创新", "未来", "人工智能", "互联网"}},
}

// Tags returns every tag keyword present in the title, in table order.
func Tags(title string) []string {
	lower := strings.ToLower(title)
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	return tags
}

// Category picks the first category whose keywords match title or
// description, falling back to DefaultCategory.
func Category(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.name
			}
		}
	}
	return DefaultCategory
}
