package browser

import (
	"unicode/utf8"

	"github.com/xkilldash9x/autopilot/api/schemas"
)

// maxElementText bounds the text kept per element.
const maxElementText = 100

// capturedElement is what captureScript returns per element.
type capturedElement struct {
	Tag       string            `json:"tag"`
	Text      string            `json:"text"`
	Clickable bool              `json:"clickable"`
	Visible   bool              `json:"visible"`
	Attrs     map[string]string `json:"attributes"`
}

// captureScript lists the visible interactive elements with a selector that
// can address each one again.
const captureScript = `(() => {
  const selectorFor = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';
    const label = el.getAttribute('aria-label');
    if (label) return '[aria-label="' + label + '"]';
    if (el.placeholder) return '[placeholder="' + el.placeholder + '"]';
    const path = [];
    for (let n = el; n && n.nodeType === Node.ELEMENT_NODE; n = n.parentNode) {
      let part = n.nodeName.toLowerCase();
      if (n.classList && n.classList.length) part += '.' + Array.from(n.classList).map(CSS.escape).join('.');
      path.unshift(part);
    }
    return path.join(' > ');
  };
  const nodes = document.querySelectorAll('a, button, input, select, textarea, [role="button"], [onclick]');
  return Array.from(nodes).map((el) => {
    const r = el.getBoundingClientRect();
    const attrs = { selector: selectorFor(el) };
    for (const k of ['id', 'name', 'type', 'placeholder', 'href', 'role', 'aria-label', 'value']) {
      const v = el.getAttribute(k);
      if (v) attrs[k] = v;
    }
    const tag = el.tagName.toLowerCase();
    return {
      tag: tag,
      text: (el.innerText || el.textContent || '').trim(),
      clickable: tag === 'a' || tag === 'button' || el.getAttribute('role') === 'button' || el.hasAttribute('onclick'),
      visible: r.width > 0 && r.height > 0,
      attributes: attrs,
    };
  });
})()`

// summarize keeps at most max visible elements with trimmed text. A
// non-positive max keeps all of them.
func summarize(raw []capturedElement, max int) []schemas.ElementSummary {
	out := make([]schemas.ElementSummary, 0, len(raw))
	for _, el := range raw {
		if !el.Visible {
			continue
		}
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, schemas.ElementSummary{
			Tag:       el.Tag,
			Text:      truncate(el.Text, maxElementText),
			Clickable: el.Clickable,
			Attrs:     el.Attrs,
		})
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
