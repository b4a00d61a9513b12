package email

import (
	"github.com/smallnest/stepgraph/rag"
	"github.com/smallnest/stepgraph/tool"
	"github.com/tmc/langchaingo/schema"
)

// DefaultKnowledgeBase returns the built-in help-center articles used when
// no Searcher is configured.
func DefaultKnowledgeBase() []schema.Document {
	articles := []struct {
		source, text string
	}{
		{"kb/password", "Reset password: Settings > Security > Change password."},
		{"kb/password", "Password requirements: at least 12 characters with upper case, lower case and digits."},
		{"kb/password-zh", "重置密码：设置 → 安全 → 修改密码"},
		{"kb/export", "Export supports PDF, CSV and Excel formats."},
		{"kb/export", "Exporting large files may take several minutes."},
		{"kb/export-zh", "导出支持 PDF/CSV/Excel 三种格式，大文件导出可能需要几分钟"},
		{"kb/api", "API rate limit: at most 100 requests per second."},
		{"kb/api", "A 504 error on the API is usually a gateway timeout."},
		{"kb/dark-mode", "Dark mode is on the roadmap and expected in the next release."},
		{"kb/billing", "Refunds: submit a billing ticket and it is processed in 3-5 business days."},
		{"kb/billing", "Duplicate charges on a subscription are detected and refunded automatically."},
		{"kb/billing-zh", "重复扣款：系统自动检测并退还多余费用，退款 3-5 个工作日处理"},
	}
	docs := make([]schema.Document, 0, len(articles))
	for _, a := range articles {
		docs = append(docs, schema.Document{
			PageContent: a.text,
			Metadata:    map[string]any{"source": a.source},
		})
	}
	return docs
}

// NewKnowledgeSearcher searches docs by keyword.
func NewKnowledgeSearcher(docs []schema.Document) tool.Searcher {
	return tool.NewRetrieverSearch(rag.NewKeywordRetriever(docs, 3))
}
