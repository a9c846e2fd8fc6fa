package ojs

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"ojsbot-backend/lib/htmlutil"
	"ojsbot-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// FormDescriptor describes a form discovered on a page. Action is the raw
// declared action, it is empty when the form declares none.
type FormDescriptor struct {
	Action string
	Fields map[string]string

	// login forms only
	UsernameField string
	PasswordField string

	// upload forms only
	FileField string
}

type TokenSource int

const (
	TokenFromMeta TokenSource = iota
	TokenFromInput
)

func (s TokenSource) String() string {
	switch s {
	case TokenFromMeta:
		return "meta"
	case TokenFromInput:
		return "input"
	}
	return "unknown"
}

// Token is the anti-forgery token echoed back on mutating requests, a meta
// token is sent as a request header and an input token as a form field.
type Token struct {
	Value  string
	Source TokenSource
}

const (
	tokenMetaName  = "csrf-token"
	tokenInputName = "csrfToken"
	tokenHeader    = "X-CSRF-Token"

	defaultFileField = "submissionFile"
)

var usernameConventions = []string{"username", "user", "login", "email"}

// minimum Jaro-Winkler similarity for an input name to count as a username field
const fuzzyUsernameThreshold = 0.85

func ParseHtml(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func hiddenFields(form *goquery.Selection) map[string]string {
	fields := map[string]string{}
	form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name, ok := htmlutil.Attr(input, "name")
		if !ok {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})
	return fields
}

func inputName(input *goquery.Selection) (string, bool) {
	if input.Length() == 0 {
		return "", false
	}
	return htmlutil.Attr(input.First(), "name", "id")
}

// conventionalPair finds the username/password inputs by the names OJS uses.
func conventionalPair(scope *goquery.Selection) (string, string, bool) {
	username, ok := inputName(scope.Find("input[name=username], input#username"))
	if !ok {
		return "", "", false
	}
	password, ok := inputName(scope.Find("input[type=password][name=password], input[name=password], input[type=password]"))
	if !ok {
		return "", "", false
	}
	return username, password, true
}

// fuzzyPair matches a password input plus any text-like input whose name
// resembles a username.
func fuzzyPair(scope *goquery.Selection) (string, string, bool) {
	password, ok := inputName(scope.Find("input[type=password]"))
	if !ok {
		return "", "", false
	}

	bestName := ""
	bestScore := 0.0
	scope.Find("input").Each(func(_ int, input *goquery.Selection) {
		inputType := strings.ToLower(input.AttrOr("type", "text"))
		if inputType != "text" && inputType != "email" {
			return
		}
		name, ok := htmlutil.Attr(input, "name", "id")
		if !ok {
			return
		}
		score := textutil.FuzzyMatchName(name, usernameConventions)
		if score > bestScore {
			bestName = name
			bestScore = score
		}
	})
	if bestScore < fuzzyUsernameThreshold {
		return "", "", false
	}
	return bestName, password, true
}

func loginDescriptor(form *goquery.Selection, username, password string) FormDescriptor {
	fields := hiddenFields(form)
	delete(fields, username)
	delete(fields, password)
	return FormDescriptor{
		Action:        strings.TrimSpace(form.AttrOr("action", "")),
		Fields:        fields,
		UsernameField: username,
		PasswordField: password,
	}
}

// FindLoginForm locates the login form. Forms containing conventionally named
// username/password inputs are preferred, then forms whose inputs resemble
// them, then the first form with inputs and finally a form whose action
// mentions login, both of the latter using the username/password inputs found
// anywhere in the page.
func FindLoginForm(doc *goquery.Document) (FormDescriptor, bool) {
	forms := doc.Find("form")
	if forms.Length() == 0 {
		return FormDescriptor{}, false
	}

	var found FormDescriptor
	ok := false
	forms.EachWithBreak(func(_ int, form *goquery.Selection) bool {
		username, password, matched := conventionalPair(form)
		if matched {
			found = loginDescriptor(form, username, password)
			ok = true
		}
		return !ok
	})
	if ok {
		return found, true
	}
	forms.EachWithBreak(func(_ int, form *goquery.Selection) bool {
		username, password, matched := fuzzyPair(form)
		if matched {
			found = loginDescriptor(form, username, password)
			ok = true
		}
		return !ok
	})
	if ok {
		return found, true
	}

	username, password, matched := conventionalPair(doc.Selection)
	if !matched {
		return FormDescriptor{}, false
	}

	var fallback *goquery.Selection
	forms.EachWithBreak(func(_ int, form *goquery.Selection) bool {
		if form.Find("input").Length() > 0 {
			fallback = form
		}
		return fallback == nil
	})
	if fallback == nil {
		forms.EachWithBreak(func(_ int, form *goquery.Selection) bool {
			if strings.Contains(strings.ToLower(form.AttrOr("action", "")), "login") {
				fallback = form
			}
			return fallback == nil
		})
	}
	if fallback == nil {
		return FormDescriptor{}, false
	}
	return loginDescriptor(fallback, username, password), true
}

// FindUploadForm locates the multipart form used to attach files to a
// submission, falling back to any form that contains a file input.
func FindUploadForm(doc *goquery.Document) (FormDescriptor, bool) {
	var form *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, candidate *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(candidate.AttrOr("enctype", "")), "multipart/form-data") {
			form = candidate
		}
		return form == nil
	})
	if form == nil {
		doc.Find("form").EachWithBreak(func(_ int, candidate *goquery.Selection) bool {
			if candidate.Find("input[type=file]").Length() > 0 {
				form = candidate
			}
			return form == nil
		})
	}
	if form == nil {
		return FormDescriptor{}, false
	}

	fileField, ok := htmlutil.Attr(form.Find("input[type=file]").First(), "name")
	if !ok {
		fileField = defaultFileField
	}
	return FormDescriptor{
		Action:    strings.TrimSpace(form.AttrOr("action", "")),
		Fields:    hiddenFields(form),
		FileField: fileField,
	}, true
}

// ExtractToken looks for the anti-forgery token in the csrf-token meta tag
// first, then in the csrfToken input.
func ExtractToken(doc *goquery.Document) (Token, bool) {
	meta, ok := htmlutil.Attr(doc.Find("meta[name="+tokenMetaName+"]").First(), "content")
	if ok {
		return Token{Value: meta, Source: TokenFromMeta}, true
	}
	input, ok := htmlutil.Attr(doc.Find("input[name="+tokenInputName+"]").First(), "value")
	if ok {
		return Token{Value: input, Source: TokenFromInput}, true
	}
	return Token{}, false
}

var submissionClassRegex = regexp.MustCompile(`(?i)submission.*id`)
var submissionLinkRegex = regexp.MustCompile(`submissionId=(\d+)`)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}

// FindSubmissionIds returns the numeric submission ids present on the
// submissions listing in discovery order without duplicates.
func FindSubmissionIds(doc *goquery.Document) []string {
	ids := []string{}
	seen := map[string]bool{}
	add := func(id string) {
		if !isDigits(id) || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	doc.Find("[class]").Each(func(_ int, el *goquery.Selection) {
		if submissionClassRegex.MatchString(el.AttrOr("class", "")) {
			add(htmlutil.CleanText(el))
		}
	})
	doc.Find("[data-submission-id]").Each(func(_ int, el *goquery.Selection) {
		add(strings.TrimSpace(el.AttrOr("data-submission-id", "")))
	})
	doc.Find("a[href]").Each(func(_ int, el *goquery.Selection) {
		groups := submissionLinkRegex.FindStringSubmatch(el.AttrOr("href", ""))
		if len(groups) == 2 {
			add(groups[1])
		}
	})

	return ids
}
