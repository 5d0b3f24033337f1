package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProvisionalPrefix помечает локальные идентификаторы чатов, которых ещё нет в БД.
const ProvisionalPrefix = "temp_"

// ConversationRef — выбранный чат: либо Provisional (только в памяти клиента), либо Persisted.
// Реализации закрыты в этом пакете; call sites разбирают их type switch'ем.
type ConversationRef interface {
	// Key — ключ для списка чатов и логов.
	Key() string
	conversationRef()
}

// Provisional — чат с одним собеседником, созданный локально до первого сообщения.
type Provisional struct {
	Target    Profile
	CreatedAt time.Time
}

// Persisted — чат, у которого есть строка в chats.
type Persisted struct {
	ID string
}

func (Provisional) conversationRef() {}
func (Persisted) conversationRef()   {}

// Token кодирует время создания и id собеседника: temp_<unix ms>_<user id>.
func (p Provisional) Token() string {
	return ProvisionalPrefix + strconv.FormatInt(p.CreatedAt.UnixMilli(), 10) + "_" + p.Target.ID
}

func (p Provisional) Key() string { return p.Token() }

func (p Persisted) Key() string { return p.ID }

// ParseRef разбирает ключ, пришедший снаружи (CLI, URL). Для provisional-ключа
// восстанавливается только Target.ID; профиль вызывающий подставляет сам.
func ParseRef(key string) (ConversationRef, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty conversation key")
	}
	if !strings.HasPrefix(key, ProvisionalPrefix) {
		return Persisted{ID: key}, nil
	}
	rest := strings.TrimPrefix(key, ProvisionalPrefix)
	idx := strings.Index(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return nil, fmt.Errorf("malformed provisional key %q", key)
	}
	ms, err := strconv.ParseInt(rest[:idx], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed provisional key %q: %w", key, err)
	}
	return Provisional{
		Target:    Profile{ID: rest[idx+1:]},
		CreatedAt: time.UnixMilli(ms),
	}, nil
}
