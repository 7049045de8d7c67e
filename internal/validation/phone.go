// Package validation содержит функции приведения и проверки входных данных.
package validation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	validPhone  = regexp.MustCompile(`^\+7\d{10}$`)
	phoneGroups = regexp.MustCompile(`^(\+7)(\d{3})(\d{3})(\d{2})(\d{2})$`)
)

// NormalizePhone приводит номер телефона к виду +7XXXXXXXXXX.
// Скобки, дефисы и пробелы удаляются, ведущие 8 и 7 заменяются на +7.
// Корректность номера не проверяется, повторное применение ничего не меняет.
func NormalizePhone(phone string) string {
	phone = strings.Map(func(r rune) rune {
		if r == '(' || r == ')' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)

	switch {
	case strings.HasPrefix(phone, "8"):
		return "+7" + phone[1:]
	case strings.HasPrefix(phone, "7"):
		return "+" + phone
	}
	return phone
}

// IsValidPhone проверяет, что номер после нормализации является российским мобильным номером.
func IsValidPhone(phone string) bool {
	return validPhone.MatchString(NormalizePhone(phone))
}

// FormatPhone форматирует нормализованный номер как +7(XXX)XXX-XX-XX.
// Строки другого вида возвращаются без изменений.
func FormatPhone(phone string) string {
	return phoneGroups.ReplaceAllString(phone, "$1($2)$3-$4-$5")
}
