package craft

import "errors"

// Ошибки конвейера крафта. Все восстановимые: действие отклоняется,
// счетчики прогресса не меняются.
var (
	// ErrRecipeMismatch — пара инструмент/материал не соответствует рецепту.
	ErrRecipeMismatch = errors.New("инструмент и материал не соответствуют рецепту")

	// ErrQuotaSatisfied — квота этого материала уже выполнена.
	ErrQuotaSatisfied = errors.New("материал больше не нужен рецепту")

	// ErrPhaseInactive — чертеж не активен в текущей фазе игры.
	ErrPhaseInactive = errors.New("чертеж не активен в текущей фазе")

	// ErrAlreadyCompleted — чертеж уже завершен; завершение монотонно.
	ErrAlreadyCompleted = errors.New("чертеж уже завершен")

	// ErrUnknownRecipe — рецепт отсутствует в каталоге.
	ErrUnknownRecipe = errors.New("рецепт не найден в каталоге")
)
