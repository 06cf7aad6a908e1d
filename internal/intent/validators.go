package intent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Sign-up field names, also used as validator names in the step catalog.
const (
	FieldName      = "name"
	FieldEmail     = "email"
	FieldAddress   = "address"
	FieldBirthdate = "birthdate"
	FieldPhone     = "phoneNumber"
)

// ValidationError is a recoverable rejection of user input for one field.
// Message is the user-facing re-prompt.
type ValidationError struct {
	Field   string
	Input   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Input)
}

var (
	nameRegex      = regexp.MustCompile(`^[\p{Latin}][\p{Latin} .'-]*$`)
	emailRegex     = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,7}$`)
	birthdateRegex = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	addressRegex   = regexp.MustCompile(`^(Rua|Avenida|Travessa)\s[^\d]*\d+$`)
	streetRegex    = regexp.MustCompile(`^(Rua|Avenida|Travessa)`)
	digitRegex     = regexp.MustCompile(`\d`)
)

// Address failure messages.
const (
	msgWrongStreetType    = "Tipo de endereço inválido (rua, avenida, travessa)"
	msgMissingHouseNumber = "Endereço inválido. Está faltando o número da casa."
)

// fieldRule validates one sign-up field. validate returns the value to store,
// or the user-facing message when the input is rejected.
type fieldRule struct {
	field    string
	ask      string
	validate func(input string) (string, string)
}

// fieldRules lists every supported field in the order they are asked.
var fieldRules = []fieldRule{
	{field: FieldName, ask: "Qual o seu nome?", validate: validateName},
	{field: FieldEmail, ask: "Qual o seu e-mail?", validate: validateEmail},
	{field: FieldAddress, ask: "Qual o endereço de entrega?", validate: validateAddress},
	{field: FieldBirthdate, ask: "Qual a sua data de nascimento? (ex: 30/01/1990)", validate: validateBirthdate},
}

func ruleFor(field string) (fieldRule, bool) {
	for _, r := range fieldRules {
		if r.field == field {
			return r, true
		}
	}
	return fieldRule{}, false
}

func validateName(input string) (string, string) {
	if !nameRegex.MatchString(input) {
		return "", fmt.Sprintf("\"%s\" não é um nome válido. Por favor, insira um nome válido.", input)
	}
	return input, ""
}

func validateEmail(input string) (string, string) {
	if !emailRegex.MatchString(input) {
		return "", fmt.Sprintf("\"%s\" não é um email válido. Por favor, insira um e-mail válido.", input)
	}
	return input, ""
}

// validateAddress title-cases alphabetic words ("rua das flores 900" becomes
// "Rua Das Flores 900") before matching.
func validateAddress(input string) (string, string) {
	formatted := TitleCaseAddress(input)
	if addressRegex.MatchString(formatted) {
		return formatted, ""
	}
	switch {
	case !streetRegex.MatchString(formatted):
		return "", msgWrongStreetType
	case !digitRegex.MatchString(formatted):
		return "", msgMissingHouseNumber
	}
	return "", fmt.Sprintf("\"%s\" não é um endereço válido. Por favor, insira um endereço válido.", input)
}

// Only the DD/MM/YYYY shape is checked, not the calendar date.
func validateBirthdate(input string) (string, string) {
	if !birthdateRegex.MatchString(input) {
		return "", fmt.Sprintf("\"%s\" não é uma data de nascimento válida. Por favor, insira uma data válida. Por exemplo: 30/01/1990", input)
	}
	return input, ""
}

// TitleCaseAddress capitalises every purely alphabetic word and leaves the rest untouched.
func TitleCaseAddress(address string) string {
	caser := cases.Title(language.BrazilianPortuguese)
	words := strings.Fields(address)
	for i, w := range words {
		if isAlpha(w) {
			words[i] = caser.String(w)
		}
	}
	return strings.Join(words, " ")
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
