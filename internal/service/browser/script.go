package browser

import (
	"github.com/tidwall/sjson"
)

// Script names understood by Evaluate.
const (
	scriptStatus      = "status"
	scriptFill        = "fill"
	scriptClick       = "click"
	scriptLastMessage = "lastMessage"
	scriptOuterHTML   = "outerHTML"
	scriptLocation    = "location"
	scriptModelMenu   = "modelMenu"
)

// Every script is a function of one argument object. Results are objects with
// an "ok" flag and, on failure, an "error" string.
var scriptSource = map[string]string{
	scriptStatus: `(a) => {
  const msgs = document.querySelectorAll(a.assistant);
  const last = msgs[msgs.length - 1];
  return {
    ok: true,
    count: msgs.length,
    busy: !!document.querySelector(a.stop),
    lastId: last ? (last.getAttribute("data-message-id") || "") : "",
  };
}`,
	scriptFill: `(a) => {
  const el = document.querySelector(a.selector);
  if (!el) return { ok: false, error: "prompt input not found" };
  el.focus();
  if (el.tagName === "TEXTAREA" || el.tagName === "INPUT") {
    const proto = el.tagName === "TEXTAREA" ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    Object.getOwnPropertyDescriptor(proto, "value").set.call(el, a.text);
  } else {
    el.textContent = "";
    document.execCommand("insertText", false, a.text);
  }
  el.dispatchEvent(new Event("input", { bubbles: true }));
  return { ok: true };
}`,
	scriptClick: `(a) => {
  const els = document.querySelectorAll(a.selector);
  const el = a.last ? els[els.length - 1] : els[0];
  if (!el) return { ok: false, error: a.missing };
  el.click();
  return { ok: true };
}`,
	scriptLastMessage: `(a) => {
  const msgs = document.querySelectorAll(a.assistant);
  const el = msgs[msgs.length - 1];
  if (!el) return { ok: false, error: "no assistant message" };
  return {
    ok: true,
    id: el.getAttribute("data-message-id") || "",
    model: el.getAttribute("data-message-model-slug") || "",
    html: el.outerHTML,
    href: location.href,
  };
}`,
	scriptOuterHTML: `(a) => {
  const el = document.querySelector(a.selector);
  if (!el) return { ok: false, error: a.missing };
  return { ok: true, html: el.outerHTML, href: location.href };
}`,
	scriptLocation: `() => ({ ok: true, href: location.href })`,
	scriptModelMenu: `async (a) => {
  let menu = document.querySelector(a.menu);
  let opened = false;
  if (!menu) {
    const btn = document.querySelector(a.switcher);
    if (!btn) return { ok: false, error: "model switcher not found" };
    btn.dispatchEvent(new PointerEvent("pointerdown", { bubbles: true }));
    btn.click();
    opened = true;
    for (let i = 0; i < 30 && !menu; i++) {
      await new Promise((r) => setTimeout(r, 100));
      menu = document.querySelector(a.menu);
    }
  }
  if (!menu) return { ok: false, error: "model menu not found" };
  const html = menu.outerHTML;
  if (opened) document.dispatchEvent(new KeyboardEvent("keydown", { key: "Escape", bubbles: true }));
  return { ok: true, html };
}`,
}

// Script is a named page function plus its JSON argument object.
type Script struct {
	Name string
	Args string
}

// newScript builds a script whose arguments are the given key/value pairs.
func newScript(name string, kv ...any) Script {
	args := "{}"
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if next, err := sjson.Set(args, key, kv[i+1]); err == nil {
			args = next
		}
	}
	return Script{Name: name, Args: args}
}

// Expression returns the JavaScript expression evaluated in the page.
func (s Script) Expression() string {
	return "(" + scriptSource[s.Name] + ")(" + s.Args + ")"
}
