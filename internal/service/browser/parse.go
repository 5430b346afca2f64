package browser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

const modelItemPrefix = "model-switcher-"

// replyPolicy removes scripts and event handlers from reply markup.
var replyPolicy = bluemonday.UGCPolicy()

// chatIDFromURL extracts <id> from a ".../c/<id>" location.
func chatIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "c" && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseReply 提取回复正文与代码块
func parseReply(fragment string) (content, inner string, codeBlocks []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", "", nil, err
	}

	root := doc.Find(".markdown").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
		// 逐层进入单一的包裹 div
		for root.Children().Length() == 1 && goquery.NodeName(root.Children()) == "div" {
			root = root.Children()
		}
	}

	doc.Find("pre code").Each(func(_ int, s *goquery.Selection) {
		codeBlocks = append(codeBlocks, strings.TrimRight(s.Text(), "\n"))
	})

	var blocks []string
	root.Children().Each(func(_ int, s *goquery.Selection) {
		var text string
		switch goquery.NodeName(s) {
		case "script", "style":
			return
		case "pre":
			text = strings.TrimRight(s.Find("code").Text(), "\n")
			if text == "" {
				text = strings.TrimRight(s.Text(), "\n")
			}
		default:
			text = strings.TrimSpace(s.Text())
		}
		if text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		blocks = append(blocks, strings.TrimSpace(root.Text()))
	}

	inner, _ = root.Html()
	inner = replyPolicy.Sanitize(strings.TrimSpace(inner))
	return strings.Join(blocks, "\n\n"), inner, codeBlocks, nil
}

// parseChatList reads sidebar links in page order. base resolves relative
// hrefs; current marks the active chat.
func parseChatList(fragment, linkSelector, base, current string) ([]chat.Chat, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(base)
	activeID := chatIDFromURL(current)

	chats := make([]chat.Chat, 0)
	seen := make(map[string]struct{})
	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		id := chatIDFromURL(href)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		link := href
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				link = baseURL.ResolveReference(ref).String()
			}
		}

		chats = append(chats, chat.Chat{
			ID:     id,
			Title:  collapse(s.Text()),
			URL:    link,
			Active: id == activeID || s.AttrOr("aria-current", "") == "page",
		})
	})
	return chats, nil
}

// parseModelMenu reads the model picker's items in menu order.
func parseModelMenu(fragment, itemSelector string) ([]chat.Model, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	models := make([]chat.Model, 0)
	doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
		texts := leafTexts(s)
		if len(texts) == 0 {
			return
		}

		m := chat.Model{
			ID:   strings.TrimPrefix(s.AttrOr("data-testid", ""), modelItemPrefix),
			Name: texts[0],
		}
		if m.ID == "" {
			m.ID = m.Name
		}
		if len(texts) > 1 {
			m.Description = texts[1]
		}
		m.Selected = s.AttrOr("aria-checked", "") == "true" ||
			s.AttrOr("data-state", "") == "checked" ||
			s.Find(`[data-state="checked"]`).Length() > 0
		models = append(models, m)
	})
	return models, nil
}

// leafTexts returns the non-empty text of elements that have no element
// children, in document order.
func leafTexts(s *goquery.Selection) []string {
	var out []string
	s.Find("*").AddSelection(s).Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() > 0 {
			return
		}
		if t := collapse(el.Text()); t != "" {
			out = append(out, t)
		}
	})
	if len(out) == 0 {
		if t := collapse(s.Text()); t != "" {
			out = append(out, t)
		}
	}
	return out
}
