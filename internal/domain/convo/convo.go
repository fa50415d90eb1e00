// Пакет convo — реестр многошаговых диалогов. Каждому пользователю
// соответствует не более одного активного шага; шаг — типизированный вариант
// со своими полями вместо строкового тега и произвольного словаря.
package convo

import (
	"sync"

	"github.com/gotd/td/telegram"
)

// Step — активный шаг диалога пользователя. Закрытое множество вариантов:
// логин, настройки, батч.
type Step interface {
	isStep()
}

// Releaser реализуют шаги, владеющие живым ресурсом. Реестр вызывает Release
// при Clear, чтобы ресурс не пережил диалог.
type Releaser interface {
	Release()
}

// LoginClient — фоновое подключение MTProto-клиента, живущее только на время
// логина. Release останавливает подключение ровно один раз, повторные вызовы
// безопасны.
type LoginClient struct {
	Client *telegram.Client

	stop func() error
	once sync.Once
}

// NewLoginClient оборачивает клиент и функцию остановки его фонового цикла.
func NewLoginClient(client *telegram.Client, stop func() error) *LoginClient {
	return &LoginClient{Client: client, stop: stop}
}

// Release останавливает фоновое подключение. Идемпотентен.
func (l *LoginClient) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.stop != nil {
			_ = l.stop()
		}
	})
}

// LoginPhone — ожидаем номер телефона.
type LoginPhone struct{}

// LoginCode — код отправлен, ожидаем его от пользователя. Шаг владеет
// подключённым клиентом.
type LoginCode struct {
	Phone    string
	CodeHash string
	Conn     *LoginClient
}

// LoginPassword — аккаунт под 2FA, ожидаем облачный пароль.
type LoginPassword struct {
	Phone string
	Conn  *LoginClient
}

// Шаги меню настроек: каждый ожидает один ответ пользователя.
type (
	SettingsChat    struct{}
	SettingsRename  struct{}
	SettingsCaption struct{}
	SettingsReplace struct{}
	SettingsDelete  struct{}
	SettingsThumb   struct{}
)

// BatchStart — ожидаем ссылку на первое сообщение батча.
type BatchStart struct{}

// BatchCount — ссылка разобрана, ожидаем количество сообщений.
type BatchCount struct {
	Start   int    // msg id первого сообщения
	ChatRef string // "-100<id>" либо username
	Private bool
}

// BatchSingle — ожидаем одиночную ссылку для /single.
type BatchSingle struct{}

func (LoginPhone) isStep()      {}
func (LoginCode) isStep()       {}
func (LoginPassword) isStep()   {}
func (SettingsChat) isStep()    {}
func (SettingsRename) isStep()  {}
func (SettingsCaption) isStep() {}
func (SettingsReplace) isStep() {}
func (SettingsDelete) isStep()  {}
func (SettingsThumb) isStep()   {}
func (BatchStart) isStep()      {}
func (BatchCount) isStep()      {}
func (BatchSingle) isStep()     {}

// Release закрывает клиент логина при снятии шага.
func (s LoginCode) Release()     { s.Conn.Release() }
func (s LoginPassword) Release() { s.Conn.Release() }

// LoginInProgress — пользователь внутри логин-флоу.
func LoginInProgress(s Step) bool {
	switch s.(type) {
	case LoginPhone, LoginCode, LoginPassword:
		return true
	}
	return false
}

// SettingsInProgress — пользователь внутри меню настроек.
func SettingsInProgress(s Step) bool {
	switch s.(type) {
	case SettingsChat, SettingsRename, SettingsCaption, SettingsReplace, SettingsDelete, SettingsThumb:
		return true
	}
	return false
}

// Registry — потокобезопасная карта userId → Step.
type Registry struct {
	mu    sync.Mutex
	steps map[int64]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[int64]Step)}
}

// Set назначает пользователю шаг, заменяя предыдущий без освобождения:
// переходы внутри одного флоу переносят ресурс из шага в шаг.
func (r *Registry) Set(userID int64, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[userID] = step
}

// Get возвращает активный шаг пользователя.
func (r *Registry) Get(userID int64) (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step, ok := r.steps[userID]
	return step, ok
}

// Clear снимает шаг и освобождает его ресурсы. Возвращает снятый шаг.
func (r *Registry) Clear(userID int64) (Step, bool) {
	r.mu.Lock()
	step, ok := r.steps[userID]
	delete(r.steps, userID)
	r.mu.Unlock()

	if rel, isRel := step.(Releaser); isRel {
		rel.Release()
	}
	return step, ok
}

// Update атомарно преобразует шаг пользователя. fn получает текущий шаг
// (nil, если шага нет); возврат nil снимает шаг без освобождения.
func (r *Registry) Update(userID int64, fn func(Step) Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := fn(r.steps[userID])
	if next == nil {
		delete(r.steps, userID)
		return
	}
	r.steps[userID] = next
}
