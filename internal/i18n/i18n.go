// Package i18n provides internationalization support for user-facing messages
package i18n

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"spinsync/internal/core"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	// GermanMessages is standard German
	GermanMessages = "de"
)

var matcher = language.NewMatcher([]language.Tag{language.English, language.German})

// Localizer provides translation functionality
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer creates a new localizer for the specified language
func NewLocalizer(language string) *Localizer {
	return &Localizer{
		language: language,
		messages: getMessages(language),
	}
}

// Language returns the language the localizer translates into.
func (l *Localizer) Language() string {
	return l.language
}

// T translates a message key, with optional parameters for formatting
func (l *Localizer) T(key string, args ...interface{}) string {
	if message, exists := l.messages[key]; exists {
		if len(args) > 0 {
			return fmt.Sprintf(message, args...)
		}
		return message
	}

	// Fallback to English if key not found in current language
	if l.language != DefaultLanguage {
		if fallbackMessage, exists := getMessages(DefaultLanguage)[key]; exists {
			if len(args) > 0 {
				return fmt.Sprintf(fallbackMessage, args...)
			}
			return fallbackMessage
		}
	}

	return key
}

// Error renders err as a user-displayable message chosen by its kind.
func (l *Localizer) Error(err error) string {
	if err == nil {
		return ""
	}
	var typed *core.Error
	if !errors.As(err, &typed) {
		return l.T("error.generic")
	}
	return l.T("error." + typed.Kind.String())
}

// Match picks the best supported language for an Accept-Language header value.
func Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, index, _ := matcher.Match(tags...)
	return GetSupportedLanguages()[index]
}

// GetSupportedLanguages returns list of supported language codes
func GetSupportedLanguages() []string {
	return []string{DefaultLanguage, GermanMessages}
}

// getMessages returns the message map for a given language
func getMessages(language string) map[string]string {
	switch language {
	case DefaultLanguage:
		return englishMessages
	case GermanMessages:
		return germanMessages
	default:
		return englishMessages
	}
}
