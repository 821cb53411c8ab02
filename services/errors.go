package services

import "errors"

// Общие ошибки сервисного слоя, используемые и в маппинге HTTP.
var (
	// Ресурсы
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrMatchNotFound      = errors.New("match not found")

	// Валидация: отклоняется синхронно, до любых мутаций
	ErrInvalidSlot           = errors.New("player slot must be 1 or 2")
	ErrTournamentNotPollable = errors.New("tournament is not in a pollable state")

	// Синхронизация
	ErrRemoteTournamentGone = errors.New("tournament is unknown to the bracket service")
)
