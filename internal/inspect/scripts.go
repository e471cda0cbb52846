// internal/inspect/scripts.go
package inspect

import (
	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// A11yViolation is one accessibility finding from the in-page audit.
type A11yViolation struct {
	Rule        string `json:"rule"`
	Impact      string `json:"impact"` // critical, serious, moderate, minor
	Description string `json:"description"`
	Nodes       int    `json:"nodes"`
}

// SeverityForImpact maps audit impact levels onto issue severities. Unknown
// impacts rate low so a vocabulary drift in the audit script cannot inflate
// severity.
func SeverityForImpact(impact string) schemas.Severity {
	switch impact {
	case "critical":
		return schemas.SeverityCritical
	case "serious":
		return schemas.SeverityHigh
	case "moderate":
		return schemas.SeverityMedium
	default:
		return schemas.SeverityLow
	}
}

// AccessibilityAuditScript runs a compact in-page audit covering the
// highest-signal WCAG failures. It returns []A11yViolation, one entry per
// rule with the count of offending nodes.
const AccessibilityAuditScript = `(function() {
    const violations = [];
    const add = (rule, impact, description, nodes) => {
        if (nodes > 0) violations.push({ rule, impact, description, nodes });
    };

    const visible = (el) => el.getClientRects().length > 0;

    add('img-alt', 'serious', 'images must have alternative text',
        [...document.querySelectorAll('img:not([alt])')].filter(visible).length);

    add('button-name', 'serious', 'buttons must have an accessible name',
        [...document.querySelectorAll('button')].filter(b =>
            visible(b) && !b.textContent.trim() && !b.getAttribute('aria-label') &&
            !b.getAttribute('aria-labelledby') && !b.getAttribute('title')).length);

    add('link-name', 'serious', 'links must have discernible text',
        [...document.querySelectorAll('a[href]')].filter(a =>
            visible(a) && !a.textContent.trim() && !a.getAttribute('aria-label') &&
            !a.querySelector('img[alt]')).length);

    add('html-lang', 'serious', 'document must declare a language',
        document.documentElement.hasAttribute('lang') &&
        document.documentElement.getAttribute('lang').trim() ? 0 : 1);

    add('input-label', 'critical', 'form inputs must have labels',
        [...document.querySelectorAll('input:not([type=hidden]):not([type=submit]):not([type=button]), select, textarea')]
            .filter(el => {
                if (!visible(el)) return false;
                if (el.getAttribute('aria-label') || el.getAttribute('aria-labelledby') || el.getAttribute('title')) return false;
                if (el.id && document.querySelector('label[for="' + CSS.escape(el.id) + '"]')) return false;
                return !el.closest('label');
            }).length);

    const ids = {};
    let duplicates = 0;
    for (const el of document.querySelectorAll('[id]')) {
        if (ids[el.id]) duplicates++; else ids[el.id] = true;
    }
    add('duplicate-id', 'moderate', 'id values must be unique', duplicates);

    add('tabindex-positive', 'serious', 'positive tabindex disrupts focus order',
        [...document.querySelectorAll('[tabindex]')].filter(el =>
            parseInt(el.getAttribute('tabindex'), 10) > 0).length);

    add('heading-empty', 'minor', 'headings must not be empty',
        [...document.querySelectorAll('h1,h2,h3,h4,h5,h6')].filter(h =>
            visible(h) && !h.textContent.trim()).length);

    return violations;
})()`

// FormReadiness summarizes the interactive state of required form fields.
type FormReadiness struct {
	Required        int      `json:"required"`
	DisabledVisible int      `json:"disabledVisible"`
	Names           []string `json:"names"`
}

// RequiredFieldsScript returns a FormReadiness for the current document.
// A required field that is visible but disabled blocks submission with no
// path for the user to unblock it.
const RequiredFieldsScript = `(function() {
    const out = { required: 0, disabledVisible: 0, names: [] };
    for (const el of document.querySelectorAll('input[required], select[required], textarea[required]')) {
        out.required++;
        const style = window.getComputedStyle(el);
        const visible = style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
        if (el.disabled && visible) {
            out.disabledVisible++;
            out.names.push(el.name || el.id || el.tagName.toLowerCase());
        }
    }
    return out;
})()`
