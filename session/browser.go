package session

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Capture snapshots the live browser session from page: all cookies the
// browser holds plus the current origin's local and session storage.
func Capture(page *rod.Page) (*State, error) {
	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("session: get cookies: %w", err)
	}

	st := &State{Cookies: make([]Cookie, 0, len(res.Cookies))}
	for _, c := range res.Cookies {
		st.Cookies = append(st.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
			Priority: string(c.Priority),
		})
	}

	st.LocalStorage = snapshotStorage(page, "localStorage")
	st.SessionStorage = snapshotStorage(page, "sessionStorage")
	return st, nil
}

// Apply restores a saved session onto page. Cookies restore for any origin;
// web storage only lands on the page's current origin, so navigate to the
// platform first.
func Apply(page *rod.Page, st *State) error {
	if st == nil {
		return nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Priority: proto.NetworkCookiePriority(c.Priority),
		})
	}
	if len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("session: set cookies: %w", err)
		}
	}

	restoreStorage(page, "localStorage", st.LocalStorage)
	restoreStorage(page, "sessionStorage", st.SessionStorage)
	return nil
}

func snapshotStorage(page *rod.Page, store string) map[string]string {
	js := fmt.Sprintf(`() => {
		const out = {};
		try {
			for (let i = 0; i < %s.length; i++) {
				const key = %s.key(i);
				out[key] = %s.getItem(key);
			}
		} catch (e) {}
		return JSON.stringify(out);
	}`, store, store, store)

	res, err := page.Evaluate(&rod.EvalOptions{JS: js, ByValue: true})
	if err != nil || res == nil || res.Value.Nil() {
		return nil
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func restoreStorage(page *rod.Page, store string, items map[string]string) {
	if len(items) == 0 {
		return
	}
	js := fmt.Sprintf(`(data) => {
		try {
			const obj = JSON.parse(data);
			Object.entries(obj).forEach(([k, v]) => %s.setItem(k, v));
		} catch (e) {}
	}`, store)

	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_, _ = page.Evaluate(&rod.EvalOptions{JS: js, ByValue: true, JSArgs: []any{string(data)}})
}
