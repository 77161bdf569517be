package mail

import (
	"golang.org/x/text/language"
)

// supportedLocales はテンプレートが用意されているロケール。先頭が最終フォールバック。
var supportedLocales = []language.Tag{
	language.English,
	language.Japanese,
	language.French,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// NegotiateLocale はAccept-Language形式またはBCP 47タグの文字列から
// 対応ロケール（"en", "ja", "fr"）を選ぶ。一致しない場合はfallbackを使う。
// fallback自体も非対応の場合は"en"を返す。
func NegotiateLocale(raw, fallback string) string {
	if tag, ok := match(raw); ok {
		return tag
	}
	if tag, ok := match(fallback); ok {
		return tag
	}
	return baseOf(supportedLocales[0])
}

func match(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, index, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return "", false
	}
	return baseOf(supportedLocales[index]), true
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}
