package domain

import "errors"

var (
	// ErrConfiguration документ правил или каталог моделей отсутствует либо некорректен
	ErrConfiguration = errors.New("configuration error")
	// ErrParse ответ модели или выражение условия не разобраны
	ErrParse = errors.New("parse error")
	// ErrStorage ошибка чтения или записи рабочего каталога
	ErrStorage = errors.New("storage error")
	// ErrExternalCall внешний коллаборатор недоступен или ответил ошибкой
	ErrExternalCall = errors.New("external call failed")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
	ErrHeartbeatRunning  = errors.New("heartbeat already running")
	ErrDelegationDepth   = errors.New("delegation depth exceeded")
)
