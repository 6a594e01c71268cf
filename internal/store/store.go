// Package store содержит долговременное key-value хранилище профиля, общее для всех контекстов движка.
//
// Хранилище повторяет семантику локального хранилища браузера: запись видна всем контекстам
// профиля, а уведомление об изменении получают только другие контексты, но не автор записи.
package store

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded возвращается, если запись не помещается в квоту хранилища.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrClosed возвращается при обращении к закрытому хранилищу.
	ErrClosed = errors.New("store closed")
)

// Change описывает изменение ключа, сделанное другим контекстом.
type Change struct {
	Key     string
	Deleted bool
}

// Store описывает контракт долговременного хранилища одного контекста.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Watch возвращает канал изменений, сделанных другими контекстами. Канал закрывается при отмене ctx или Close.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// notification передаётся между контекстами внешних хранилищ.
type notification struct {
	Profile string `json:"profile"`
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
}

const watchBuffer = 256
