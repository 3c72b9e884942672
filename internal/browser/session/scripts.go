// internal/browser/session/scripts.go
package session

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	mutationBinding = "__focusfixMutations"
	sharedSheetID   = "__focusfix_rules"
	sheetAttribute  = "data-focusfix-sheet"
)

// helperScript installs window.__focusfix once per document. It is
// registered to run on every new document and evaluated at attach time.
const helperScript = `(() => {
  if (window.__focusfix) return true;
  const esc = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : String(s).replace(/([^a-zA-Z0-9_-])/g, '\\$1');
  const selectorFor = (el) => {
    if (!(el instanceof Element)) return '';
    if (el.id) return el.tagName.toLowerCase() + '#' + esc(el.id);
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && node !== document.documentElement) {
      let part = node.tagName.toLowerCase();
      if (node.id) { parts.unshift(part + '#' + esc(node.id)); break; }
      const parent = node.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
        if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
      }
      parts.unshift(part);
      node = parent;
    }
    return parts.join(' > ');
  };
  const labelFor = (el) => {
    const aria = el.getAttribute('aria-label');
    if (aria) return aria.trim();
    const by = el.getAttribute('aria-labelledby');
    if (by) {
      const ref = document.getElementById(by);
      if (ref) return ref.innerText.trim();
    }
    if (el.labels && el.labels.length) return el.labels[0].innerText.trim();
    return (el.getAttribute('title') || el.getAttribute('alt') || '').trim();
  };
  const clickable = (el) => {
    const tag = el.tagName.toLowerCase();
    const role = el.getAttribute('role');
    return tag === 'a' || tag === 'button' || role === 'button' || role === 'link' ||
      el.hasAttribute('onclick') || typeof el.onclick === 'function';
  };
  const describe = (el) => ({
    selector: selectorFor(el),
    tagName: el.tagName.toLowerCase(),
    tabIndex: el.tabIndex,
    role: el.getAttribute('role') || '',
    label: labelFor(el),
    text: ((el.innerText || el.value || '') + '').trim().slice(0, 120),
    disabled: !!el.disabled,
    clickable: clickable(el),
    attributes: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value])),
  });
  const focusable = 'a[href],button,input,select,textarea,summary,[tabindex],[contenteditable=true]';
  const interactive = (n) => n instanceof Element && (n.matches(focusable) || !!n.querySelector(focusable));
  const sharedSheet = () => {
    let el = document.getElementById('` + sharedSheetID + `');
    if (!el) {
      el = document.createElement('style');
      el.id = '` + sharedSheetID + `';
      (document.head || document.documentElement).appendChild(el);
    }
    return el.sheet;
  };
  const isSheet = (n) => n.nodeType === 1 && (n.id === '` + sharedSheetID + `' || n.hasAttribute('` + sheetAttribute + `'));
  const ownSheets = (r) => {
    if (r.type !== 'childList') return false;
    const nodes = Array.from(r.addedNodes).concat(Array.from(r.removedNodes));
    return nodes.length > 0 && nodes.every(isSheet);
  };
  const ownWrite = (r) => {
    if (r.type !== 'attributes') return false;
    const own = window.__focusfix.own;
    const i = own.findIndex(([el, name]) => el === r.target && name === r.attributeName);
    if (i < 0) return false;
    own.splice(i, 1);
    return true;
  };
  const observe = () => {
    if (typeof window.` + mutationBinding + ` !== 'function') return;
    let pending = [];
    let scheduled = false;
    const flush = () => {
      scheduled = false;
      const batch = pending.splice(0, pending.length);
      if (batch.length) window.` + mutationBinding + `(JSON.stringify(batch));
    };
    const obs = new MutationObserver((records) => {
      for (const r of records) {
        const t = r.target.nodeType === 1 ? r.target : r.target.parentElement;
        if (!t || isSheet(t) || ownSheets(r) || ownWrite(r)) continue;
        if (pending.length >= 50) continue;
        pending.push({
          type: r.type,
          target: selectorFor(t),
          tagName: t.tagName.toLowerCase(),
          attributeName: r.attributeName || '',
          interactive: interactive(t) || Array.from(r.addedNodes).some(interactive),
          addedNodes: r.addedNodes.length,
          removedNodes: r.removedNodes.length,
        });
      }
      if (!scheduled) { scheduled = true; setTimeout(flush, 0); }
    });
    obs.observe(document.documentElement, { subtree: true, childList: true, attributes: true, characterData: true });
  };
  window.__focusfix = { selectorFor, describe, sharedSheet, rules: new Map(), own: [] };
  if (document.documentElement) observe();
  else document.addEventListener('DOMContentLoaded', observe, { once: true });
  return true;
})()`

// jsonEncode safely embeds a Go value as a JS literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

func queryElementsScript(selector string, limit int) string {
	return fmt.Sprintf(`(() => {
  const out = [];
  for (const el of document.querySelectorAll(%s)) {
    out.push(window.__focusfix.describe(el));
    if (%d > 0 && out.length >= %d) break;
  }
  return out;
})()`, jsonEncode(selector), limit, limit)
}

func computedStyleScript(selector string, props []string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return null;
  const cs = getComputedStyle(el);
  const out = {};
  for (const p of %s) out[p] = cs.getPropertyValue(p);
  return out;
})()`, jsonEncode(selector), jsonEncode(props))
}

func boundingRectScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return { x: r.x, y: r.y, width: r.width, height: r.height };
})()`, jsonEncode(selector))
}

func effectiveBackgroundScript(selector string) string {
	return fmt.Sprintf(`(() => {
  let el = document.querySelector(%s);
  if (!el) return null;
  while (el) {
    const bg = getComputedStyle(el).backgroundColor;
    if (bg && bg !== 'transparent' && !/rgba\([^)]*,\s*0\)$/.test(bg)) return bg;
    el = el.parentElement;
  }
  return 'rgb(255, 255, 255)';
})()`, jsonEncode(selector))
}

const activeElementScript = `(() => {
  const el = document.activeElement;
  if (!el || el === document.body || el === document.documentElement) return null;
  return window.__focusfix.describe(el);
})()`

const viewportScript = `({ width: window.innerWidth, height: window.innerHeight })`

const isLoadingScript = `document.readyState !== 'complete'`

func getAttributeScript(selector, name string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return null;
  return { present: el.hasAttribute(%s), value: el.getAttribute(%s) || '' };
})()`, jsonEncode(selector), jsonEncode(name), jsonEncode(name))
}

const styleRuleCountScript = `(() => {
  let n = 0;
  for (const sheet of Array.from(document.styleSheets)) {
    try { n += sheet.cssRules.length; } catch (e) { /* cross-origin */ }
  }
  return n;
})()`

func addStyleSheetScript(id, css string) string {
	return fmt.Sprintf(`(() => {
  const id = %s;
  let el = document.querySelector('style[%s="' + CSS.escape(id) + '"]');
  if (!el) {
    el = document.createElement('style');
    el.setAttribute(%s, id);
    (document.head || document.documentElement).appendChild(el);
  }
  el.textContent = %s;
  return el.sheet ? el.sheet.cssRules.length : 0;
})()`, jsonEncode(id), sheetAttribute, jsonEncode(sheetAttribute), jsonEncode(css))
}

func removeStyleSheetScript(id string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector('style[%s="' + CSS.escape(%s) + '"]');
  if (!el) return false;
  el.remove();
  return true;
})()`, sheetAttribute, jsonEncode(id))
}

func insertRuleScript(id, rule string) string {
	return fmt.Sprintf(`(() => {
  const ff = window.__focusfix;
  const sheet = ff.sharedSheet();
  const old = ff.rules.get(%[1]s);
  if (old) {
    const i = Array.from(sheet.cssRules).indexOf(old);
    if (i >= 0) sheet.deleteRule(i);
  }
  const idx = sheet.insertRule(%[2]s, sheet.cssRules.length);
  ff.rules.set(%[1]s, sheet.cssRules[idx]);
  return idx;
})()`, jsonEncode(id), jsonEncode(rule))
}

func deleteRuleScript(id string) string {
	return fmt.Sprintf(`(() => {
  const ff = window.__focusfix;
  const rule = ff.rules.get(%[1]s);
  if (!rule) return false;
  const sheet = ff.sharedSheet();
  const i = Array.from(sheet.cssRules).indexOf(rule);
  if (i >= 0) sheet.deleteRule(i);
  ff.rules.delete(%[1]s);
  return i >= 0;
})()`, jsonEncode(id))
}

func setAttributeScript(selector, name, value string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  if (window.__focusfix) window.__focusfix.own.push([el, %[2]s]);
  el.setAttribute(%[2]s, %[3]s);
  return true;
})()`, jsonEncode(selector), jsonEncode(name), jsonEncode(value))
}

func removeAttributeScript(selector, name string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  if (window.__focusfix) window.__focusfix.own.push([el, %[2]s]);
  el.removeAttribute(%[2]s);
  return true;
})()`, jsonEncode(selector), jsonEncode(name))
}

func focusScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.focus({ focusVisible: true });
  return true;
})()`, jsonEncode(selector))
}

const blurScript = `(() => {
  const el = document.activeElement;
  if (el && el.blur) el.blur();
  return true;
})()`

const probeStyleScript = `(() => {
  try {
    const s = document.createElement('style');
    (document.head || document.documentElement).appendChild(s);
    s.sheet.insertRule('html{}', 0);
    s.remove();
    return true;
  } catch (e) { return false; }
})()`

const probeDOMScript = `(() => {
  try {
    const root = document.documentElement;
    root.setAttribute('data-focusfix-probe', '1');
    root.removeAttribute('data-focusfix-probe');
    return true;
  } catch (e) { return false; }
})()`
