package sharetarget

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit 为未配置上限时保留的共享记录条数。
const DefaultHistoryLimit = 50

// Entry 是一条已接收的共享记录。
type Entry struct {
	ID         string    `json:"id"`
	Site       string    `json:"site"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Platform   string    `json:"platform"`
	ReceivedAt time.Time `json:"received_at"`
}

// History 在内存中保留最近的共享记录，最新的排在最前。
type History struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewHistory 创建 History；limit < 0 时使用默认值，limit == 0 表示不记录。
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record 保存一次共享；三个字段均为空时忽略并返回 false。
func (h *History) Record(site string, params Params, now time.Time) (Entry, bool) {
	if h == nil || h.limit == 0 || params.Empty() {
		return Entry{}, false
	}
	entry := Entry{
		ID:         uuid.NewString(),
		Site:       site,
		URL:        params.URL,
		Title:      params.Title,
		Text:       params.Text,
		Platform:   IdentifyPlatform(params.URL),
		ReceivedAt: now.UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]Entry{entry}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
	return entry, true
}

// List 返回记录副本，site 为空时返回全部站点。
func (h *History) List(site string) []Entry {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]Entry, 0, len(h.entries))
	for _, entry := range h.entries {
		if site != "" && entry.Site != site {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// Clear 清空全部记录。
func (h *History) Clear() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}
