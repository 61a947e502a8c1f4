package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict — optimistic concurrency: запись изменена
	// кем-то другим между чтением и записью.
	ErrVersionConflict = errors.New("version conflict")
)
