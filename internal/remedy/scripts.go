// internal/remedy/scripts.go

package remedy

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// builtinInjections maps issue signatures to behavioral repairs applied by the
// inject_script strategy. These run in the page and must be idempotent, since
// a strategy retry re-applies them.
var builtinInjections = map[string]string{
	// Missing analytics or helper globals are the usual source of reference
	// errors; installing a no-op under the reported name keeps dependent
	// handlers alive until the real script recovers.
	"REFERENCE_ERROR": `(() => {
  if (window.__sutureRefGuard) return;
  window.__sutureRefGuard = true;
  window.addEventListener('error', (e) => {
    const m = /^(?:Uncaught )?ReferenceError: ([A-Za-z_$][\w$]*) is not defined/.exec(e.message || '');
    if (m && !(m[1] in window)) {
      window[m[1]] = function () {};
    }
  });
})();`,

	// Swallow repeated unhandled rejections from the same broken promise
	// chain so they stop cascading into the console.
	"UNDEFINED_ERROR": `(() => {
  if (window.__sutureRejectionGuard) return;
  window.__sutureRejectionGuard = true;
  window.addEventListener('unhandledrejection', (e) => {
    const msg = String((e.reason && e.reason.message) || e.reason || '');
    if (/undefined|null/.test(msg)) { e.preventDefault(); }
  });
})();`,
}

// builtinPatches maps issue signatures to markup repairs applied by the
// patch_dom strategy.
var builtinPatches = map[string]string{
	// Recreate the structural skeleton: wrap stray body content in <main>
	// and add placeholder landmarks for whatever is absent.
	"MISSING_LANDMARK": `(() => {
  const isLandmark = (n) => n.nodeType === 1 && /^(HEADER|NAV|MAIN|FOOTER|ASIDE)$/.test(n.tagName);
  if (!document.querySelector('main')) {
    const main = document.createElement('main');
    main.setAttribute('data-suture-patch', 'landmark');
    Array.from(document.body.childNodes).filter((n) => !isLandmark(n)).forEach((n) => main.appendChild(n));
    document.body.appendChild(main);
  }
  const ensure = (tag, where) => {
    if (document.querySelector(tag)) return;
    const el = document.createElement(tag);
    el.setAttribute('data-suture-patch', 'landmark');
    where === 'start' ? document.body.prepend(el) : document.body.appendChild(el);
  };
  ensure('nav', 'start');
  ensure('header', 'start');
  ensure('footer', 'end');
})();`,

	// Re-enable required fields a wedged script left disabled.
	"REQUIRED_FORM_FIELDS": `document.querySelectorAll('input[required]:disabled, select[required]:disabled, textarea[required]:disabled')
  .forEach((el) => { el.disabled = false; el.setAttribute('data-suture-patch', 'enabled'); });`,

	"ACCESSIBILITY_VIOLATION_IMG": `document.querySelectorAll('img:not([alt])')
  .forEach((img) => { img.setAttribute('alt', ''); });`,

	"ACCESSIBILITY_VIOLATION_BUTTON": `document.querySelectorAll('button').forEach((b) => {
  if (!b.textContent.trim() && !b.getAttribute('aria-label') && !b.getAttribute('title')) {
    b.setAttribute('aria-label', b.name || b.id || 'button');
  }
});`,

	"ACCESSIBILITY_VIOLATION_LINK": `document.querySelectorAll('a[href]').forEach((a) => {
  if (!a.textContent.trim() && !a.getAttribute('aria-label') && !a.querySelector('img[alt]')) {
    a.setAttribute('aria-label', a.href);
  }
});`,

	"ACCESSIBILITY_VIOLATION_HTML": `if (!document.documentElement.getAttribute('lang')) {
  document.documentElement.setAttribute('lang', navigator.language ? navigator.language.split('-')[0] : 'en');
}`,

	"ACCESSIBILITY_VIOLATION_INPUT": `document.querySelectorAll('input:not([type=hidden]), select, textarea').forEach((el) => {
  const id = el.getAttribute('id');
  const labelled = (id && document.querySelector('label[for="' + (window.CSS ? CSS.escape(id) : id) + '"]')) ||
    el.closest('label') || el.getAttribute('aria-label') || el.getAttribute('aria-labelledby');
  if (!labelled) {
    el.setAttribute('aria-label', el.getAttribute('placeholder') || el.name || el.type || 'field');
  }
});`,

	"ACCESSIBILITY_VIOLATION_DUPLICATE": `(() => {
  const seen = new Set();
  document.querySelectorAll('[id]').forEach((el) => {
    if (seen.has(el.id)) {
      el.id = el.id + '-suture-' + Math.random().toString(36).slice(2, 8);
    } else {
      seen.add(el.id);
    }
  });
})();`,

	"ACCESSIBILITY_VIOLATION_TABINDEX": `document.querySelectorAll('[tabindex]').forEach((el) => {
  if (parseInt(el.getAttribute('tabindex'), 10) > 0) { el.setAttribute('tabindex', '0'); }
});`,

	"ACCESSIBILITY_VIOLATION_HEADING": `document.querySelectorAll('h1,h2,h3,h4,h5,h6').forEach((h) => {
  if (!h.textContent.trim()) { h.setAttribute('aria-hidden', 'true'); }
});`,
}

// lintScript parses src with the javascript grammar and rejects it when the
// tree contains syntax errors. Configured corrective scripts go through this
// at registry construction so a malformed script fails startup instead of
// failing inside a live page.
func lintScript(name, src string) error {
	if src == "" {
		return fmt.Errorf("corrective script %q is empty", name)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	if err != nil {
		return fmt.Errorf("corrective script %q could not be parsed: %w", name, err)
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		return fmt.Errorf("corrective script %q has a javascript syntax error", name)
	}
	return nil
}
