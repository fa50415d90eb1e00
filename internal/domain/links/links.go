// Пакет links — разбор ссылок t.me на сообщения. Батч-пайплайн принимает два
// вида ссылок: приватные (/c/<внутренний id>/...) и публичные (по username).
// Сегмент топика между чатом и сообщением допускается и игнорируется.
package links

import (
	"regexp"
	"strconv"

	"github.com/go-faster/errors"
)

// Kind различает приватные и публичные ссылки: от него зависит, каким клиентом
// можно достать сообщение.
type Kind int

const (
	Private Kind = iota
	Public
)

// Link — разобранная ссылка на сообщение.
type Link struct {
	Kind    Kind
	ChatRef string // "-100<id>" для приватных, username для публичных
	MsgID   int
}

// ErrInvalidLink возвращается для всего, что не похоже на ссылку t.me на сообщение.
var ErrInvalidLink = errors.New("invalid message link")

var (
	privateRe = regexp.MustCompile(`^https?://t\.me/c/(\d+)/(?:\d+/)?(\d+)/?$`)
	publicRe  = regexp.MustCompile(`^https?://t\.me/([A-Za-z][A-Za-z0-9_]{3,})/(?:\d+/)?(\d+)/?$`)
)

// Parse разбирает ссылку. Приватная форма даёт ChatRef c восстановленным
// префиксом -100; публичная — username как есть.
func Parse(raw string) (*Link, error) {
	if m := privateRe.FindStringSubmatch(raw); m != nil {
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return nil, ErrInvalidLink
		}
		return &Link{Kind: Private, ChatRef: "-100" + m[1], MsgID: msgID}, nil
	}
	if m := publicRe.FindStringSubmatch(raw); m != nil {
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return nil, ErrInvalidLink
		}
		return &Link{Kind: Public, ChatRef: m[1], MsgID: msgID}, nil
	}
	return nil, ErrInvalidLink
}

// ChatID возвращает числовой идентификатор чата приватной ссылки.
func (l *Link) ChatID() (int64, bool) {
	if l.Kind != Private {
		return 0, false
	}
	v, err := strconv.ParseInt(l.ChatRef, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
