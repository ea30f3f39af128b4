package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// XLang is both the request header and the gin context key holding the
// negotiated language
const XLang = "X-Lang"

//go:embed locales/*.toml
var locales embed.FS

// Translator resolves message ids for the languages it has bundles for
type Translator struct {
	bundle      *i18n.Bundle
	defaultLang language.Tag
	tags        []language.Tag
	matcher     language.Matcher
}

// New loads the embedded translations. defaultLang is used when a request
// asks for nothing we support.
func New(defaultLang string) (*Translator, error) {
	def, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(def)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := fs.Glob(locales, "locales/*.toml")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		data, err := locales.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(data, path.Base(file)); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	// the default goes first so it wins when nothing matches
	tags := []language.Tag{def}
	for _, tag := range bundle.LanguageTags() {
		if tag != def {
			tags = append(tags, tag)
		}
	}

	return &Translator{
		bundle:      bundle,
		defaultLang: def,
		tags:        tags,
		matcher:     language.NewMatcher(tags),
	}, nil
}

// DefaultLanguage returns the fallback language
func (t *Translator) DefaultLanguage() string {
	return t.defaultLang.String()
}

// Match picks the best supported language for an X-Lang or Accept-Language
// value
func (t *Translator) Match(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return t.defaultLang.String()
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return t.defaultLang.String()
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return t.defaultLang.String()
	}
	return t.tags[idx].String()
}

// Languages lists the supported languages, default first
func (t *Translator) Languages() []string {
	out := make([]string, 0, len(t.tags))
	for _, tag := range t.tags {
		out = append(out, tag.String())
	}
	return out
}

// Translate returns the message for msgID in lang, or msgID when unknown
func (t *Translator) Translate(msgID, lang string, data map[string]any) string {
	localizer := i18n.NewLocalizer(t.bundle, lang, t.defaultLang.String())
	lc := &i18n.LocalizeConfig{MessageID: msgID}
	if len(data) > 0 {
		lc.TemplateData = data
	}
	msg, err := localizer.Localize(lc)
	if err != nil {
		return msgID
	}
	return msg
}

// Middleware negotiates the request language, preferring X-Lang over
// Accept-Language
func (t *Translator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(XLang)
		if header == "" {
			header = c.GetHeader("Accept-Language")
		}
		c.Set(XLang, t.Match(header))
		c.Next()
	}
}

// Lang returns the negotiated language of c
func (t *Translator) Lang(c *gin.Context) string {
	if lang := c.GetString(XLang); lang != "" {
		return lang
	}
	return t.defaultLang.String()
}
