// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	giftCardCodeMinLen = 12
	giftCardCodeMaxLen = 19
)

// IsValidGiftCardCode проверяет формат кода подарочной карты: 12–19 цифр
// с корректной контрольной суммой по алгоритму Луна. Карты выпускаются
// с кодами, проходящими эту проверку, поэтому невалидный код отклоняется
// до обращения к хранилищу.
func IsValidGiftCardCode(code string) bool {
	if len(code) < giftCardCodeMinLen || len(code) > giftCardCodeMaxLen {
		return false
	}

	sum := 0
	double := false

	for i := len(code) - 1; i >= 0; i-- {
		ch := rune(code[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// IsValidRating проверяет, что оценка отзыва лежит в диапазоне от 1 до 5.
func IsValidRating(rating int32) bool {
	return rating >= 1 && rating <= 5
}

// IsValidQuantity проверяет, что количество в позиции корзины положительно.
func IsValidQuantity(quantity int32) bool {
	return quantity > 0
}
