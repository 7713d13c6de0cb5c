// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrProviderUnavailable — биллинг-провайдер недоступен или не ответил вовремя.
	// Состояние пользователя при этом не меняется.
	ErrProviderUnavailable = errors.New("биллинг-провайдер недоступен")
	// ErrUnmappedPrice — активная подписка ссылается на цену вне каталога.
	// Не прерывает операцию: тариф остаётся прежним, условие логируется.
	ErrUnmappedPrice = errors.New("цена подписки отсутствует в каталоге тарифов")
	// ErrModuleArchived — операция недопустима для архивного модуля.
	ErrModuleArchived = errors.New("модуль архивирован")
	// ErrForbidden — недостаточно прав для операции.
	ErrForbidden = errors.New("недостаточно прав")
)
