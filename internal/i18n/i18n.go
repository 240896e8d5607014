// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n provides internationalization support for Cloudkey.
// It uses the go-i18n library to load and manage translation files,
// allowing command output to be displayed in multiple languages.
package i18n

import (
	"fmt"
	"io/fs"
	"strings"

	"embed"

	goyaml "github.com/goccy/go-yaml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// localeFS embeds the YAML translation files from the 'locales'
// directory into the binary.
//
//go:embed locales/*.yaml
var localeFS embed.FS

// bundle stores all the loaded translation messages.
var bundle *i18n.Bundle

// localizer translates messages into the active language.
var localizer *i18n.Localizer

// currentLang is the language most recently passed to Init.
var currentLang string

// Init initializes the i18n bundle and sets up the localizer for a
// specific language. It parses all embedded YAML files from the
// 'locales' directory. An empty language falls back to English.
func Init(lang string) {
	if lang == "" {
		lang = "en"
	}
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", goyaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, _ := localeFS.ReadFile("locales/" + f.Name())
		bundle.ParseMessageFileBytes(data, f.Name())
	}

	localizer = i18n.NewLocalizer(bundle, lang)
	currentLang = lang
}

// SetLang changes the active language of the localizer.
func SetLang(lang string) {
	Init(lang)
}

// GetLang returns the active language code.
func GetLang() string {
	if currentLang == "" {
		return "en"
	}
	return currentLang
}

// GetAvailableLocales returns the embedded locale codes mapped to their
// display names.
func GetAvailableLocales() map[string]string {
	names := map[string]string{
		"en": "English",
		"de": "Deutsch",
	}
	available := map[string]string{}
	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		code := strings.TrimSuffix(f.Name(), ".yaml")
		if name, ok := names[code]; ok {
			available[code] = name
		} else {
			available[code] = code
		}
	}
	return available
}

// T translates a message by its ID. Extra arguments are applied with
// fmt.Sprintf to the translated string. If the i18n system has not been
// initialized it defaults to English, and if a translation for the ID
// is not found the ID itself is returned.
func T(messageID string, args ...any) string {
	if localizer == nil {
		Init("en")
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
