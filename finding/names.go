package finding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Humanize turns a platform key into a display name: it splits id on any
// rune in seps, capitalises each word and lowercases the rest.
//
//	Humanize("new_checkout-flow", "._-") == "New Checkout Flow"
func Humanize(id, seps string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	if len(words) == 0 {
		return id
	}
	return strings.Join(words, " ")
}

// SplitCamel inserts a space before every upper-case rune that is not
// the first rune: "newCheckoutFlow" becomes "new Checkout Flow".
func SplitCamel(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Stringify renders a decoded JSON value as a variation string. Strings
// are returned as-is, integral numbers without a fraction, and composite
// values as compact JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	rs := []rune(s)
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}
