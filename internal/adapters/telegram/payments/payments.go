// Пакет payments — оплата подписки через Telegram Stars: клавиатура тарифов,
// выставление инвойса по колбэку p_<key>, подтверждение pre-checkout и
// начисление премиума по факту оплаты.
package payments

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// CallbackPrefix — префикс данных колбэка выбора тарифа.
const CallbackPrefix = "p_"

// ErrUnknownPlan возвращается на колбэк с ключом, которого нет ни в конфиге,
// ни в хранилище.
var ErrUnknownPlan = errors.New("unknown plan")

// Service обслуживает платёжный цикл главного бота.
type Service struct {
	api      *tg.Client
	stored   *peers.Stored
	store    *db.Store
	quota    *quota.Engine
	envPlans []config.PlanDefaults
	ownerID  int64
}

// New собирает платёжный сервис.
func New(
	api *tg.Client,
	stored *peers.Stored,
	store *db.Store,
	engine *quota.Engine,
	envPlans []config.PlanDefaults,
	ownerID int64,
) *Service {
	return &Service{
		api:      api,
		stored:   stored,
		store:    store,
		quota:    engine,
		envPlans: envPlans,
		ownerID:  ownerID,
	}
}

// Plans возвращает действующие тарифы: дефолты из окружения, поверх которых
// ложатся тарифы из хранилища (совпадающий ключ побеждает). Сортировка по цене.
func (s *Service) Plans() ([]db.Plan, error) {
	byKey := make(map[string]db.Plan, len(s.envPlans))
	for _, p := range s.envPlans {
		byKey[p.Key] = db.Plan{
			Key:      p.Key,
			Label:    p.Label,
			Stars:    p.Stars,
			Duration: p.Duration,
			Unit:     p.Unit,
		}
	}
	stored, err := s.store.ListPlans()
	if err != nil {
		return nil, errors.Wrap(err, "list stored plans")
	}
	for _, p := range stored {
		byKey[p.Key] = p
	}

	out := make([]db.Plan, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stars != out[j].Stars {
			return out[i].Stars < out[j].Stars
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Plan ищет тариф по ключу среди действующих.
func (s *Service) Plan(key string) (*db.Plan, error) {
	plans, err := s.Plans()
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Key == key {
			return &plans[i], nil
		}
	}
	return nil, errors.Wrapf(ErrUnknownPlan, "key %q", key)
}

// PlansKeyboard строит клавиатуру /plans: по кнопке на тариф.
func PlansKeyboard(plans []db.Plan) *tg.ReplyInlineMarkup {
	markup := &tg.ReplyInlineMarkup{}
	for _, p := range plans {
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonCallback{
					Text: fmt.Sprintf("%s — %d ⭐", p.Label, p.Stars),
					Data: []byte(CallbackPrefix + p.Key),
				},
			},
		})
	}
	return markup
}

// SendPlans отправляет меню тарифов пользователю.
func (s *Service) SendPlans(ctx context.Context, peer tg.InputPeerClass) error {
	plans, err := s.Plans()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return s.sendText(ctx, peer, "No plans are configured right now.")
	}
	_, err = s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:        peer,
		Message:     "⭐ Premium plans\n\nPick a plan to get an invoice. Payment goes through Telegram Stars.",
		RandomID:    rand.Int63(),
		ReplyMarkup: PlansKeyboard(plans),
	})
	return errors.Wrap(err, "send plans")
}

// InvoicePayload кодирует полезную нагрузку инвойса: <key>_<userId>.
func InvoicePayload(key string, userID int64) []byte {
	return []byte(key + "_" + strconv.FormatInt(userID, 10))
}

// ParsePayload разбирает полезную нагрузку инвойса. Ключ тарифа может
// содержать подчёркивания, поэтому режем по последнему.
func ParsePayload(payload []byte) (key string, userID int64, err error) {
	raw := string(payload)
	i := strings.LastIndex(raw, "_")
	if i <= 0 {
		return "", 0, errors.Errorf("malformed payload %q", raw)
	}
	userID, err = strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "payload %q", raw)
	}
	return raw[:i], userID, nil
}

// InvoiceMedia строит Stars-инвойс тарифа. Цена в XTR целыми звёздами.
func InvoiceMedia(plan db.Plan, userID int64) *tg.InputMediaInvoice {
	return &tg.InputMediaInvoice{
		Title:       plan.Label + " Premium",
		Description: fmt.Sprintf("Premium access for %d %s", plan.Duration, plan.Unit),
		Invoice: tg.Invoice{
			Currency: "XTR",
			Prices: []tg.LabeledPrice{
				{Label: plan.Label, Amount: int64(plan.Stars)},
			},
		},
		Payload:      InvoicePayload(plan.Key, userID),
		ProviderData: tg.DataJSON{Data: "{}"},
	}
}

// HandleCallback обрабатывает нажатие p_<key>: выставляет инвойс в чат
// пользователя. false — колбэк не платёжный.
func (s *Service) HandleCallback(ctx context.Context, q *tg.UpdateBotCallbackQuery) (bool, error) {
	data := string(q.Data)
	if !strings.HasPrefix(data, CallbackPrefix) {
		return false, nil
	}
	key := strings.TrimPrefix(data, CallbackPrefix)

	plan, err := s.Plan(key)
	if err != nil {
		s.answer(ctx, q.QueryID, "This plan is no longer available")
		return true, err
	}

	peer, err := s.stored.User(ctx, q.UserID)
	if err != nil {
		return true, errors.Wrap(err, "resolve payer peer")
	}
	_, err = s.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    InvoiceMedia(*plan, q.UserID),
		RandomID: rand.Int63(),
	})
	if err != nil {
		s.answer(ctx, q.QueryID, "Could not create the invoice, try again later")
		return true, errors.Wrap(err, "send invoice")
	}
	s.answer(ctx, q.QueryID, "")
	return true, nil
}

// HandlePrecheckout подтверждает pre-checkout. Telegram даёт десять секунд на
// ответ, валидировать нечего: payload мы выписали сами.
func (s *Service) HandlePrecheckout(ctx context.Context, q *tg.UpdateBotPrecheckoutQuery) error {
	_, err := s.api.MessagesSetBotPrecheckoutResults(ctx, &tg.MessagesSetBotPrecheckoutResultsRequest{
		Success: true,
		QueryID: q.QueryID,
	})
	return errors.Wrap(err, "approve precheckout")
}

// HandlePaymentSent начисляет премиум по факту оплаты и уведомляет стороны.
// Ошибка начисления после списания звёзд — ручной случай, поэтому владелец
// получает charge id в любом исходе.
func (s *Service) HandlePaymentSent(ctx context.Context, action *tg.MessageActionPaymentSentMe) error {
	log := logger.Logger().With(zap.String("charge", action.Charge.ID))

	key, userID, err := ParsePayload(action.Payload)
	if err != nil {
		s.notifyOwner(ctx, fmt.Sprintf(
			"⚠️ Payment received but payload is malformed.\nCharge: `%s`\nPayload: `%s`",
			action.Charge.ID, string(action.Payload),
		))
		return err
	}
	log = log.With(zap.Int64("user_id", userID), zap.String("plan", key))

	plan, err := s.Plan(key)
	if err != nil {
		s.notifyOwner(ctx, fmt.Sprintf(
			"⚠️ Payment for unknown plan %q from %d.\nCharge: `%s`\nGrant manually with /add.",
			key, userID, action.Charge.ID,
		))
		return err
	}

	expiry, err := s.quota.AddPremium(userID, plan.Duration, plan.Unit)
	if err != nil {
		log.Error("premium grant after payment failed", zap.Error(err))
		s.notifyOwner(ctx, fmt.Sprintf(
			"⚠️ Payment from %d accepted but the grant failed: %v\nCharge: `%s`\nGrant manually with /add.",
			userID, err, action.Charge.ID,
		))
		return errors.Wrap(err, "grant premium")
	}
	log.Info("premium granted after payment",
		zap.Int64("stars", action.TotalAmount),
		zap.Time("expire_at", expiry),
	)

	if peer, peerErr := s.stored.User(ctx, userID); peerErr == nil {
		_ = s.sendText(ctx, peer, fmt.Sprintf(
			"🎉 Payment received!\nPlan: %s\nActive until: %s\nCharge: `%s`",
			plan.Label, expiry.UTC().Format("2006-01-02 15:04 MST"), action.Charge.ID,
		))
	} else {
		log.Warn("payer peer not found for ack", zap.Error(peerErr))
	}

	s.notifyOwner(ctx, fmt.Sprintf(
		"💰 %d paid %d ⭐ for %s (until %s).\nCharge: `%s`",
		userID, action.TotalAmount, plan.Label,
		expiry.UTC().Format("2006-01-02 15:04"), action.Charge.ID,
	))
	return nil
}

func (s *Service) notifyOwner(ctx context.Context, text string) {
	if s.ownerID == 0 {
		return
	}
	peer, err := s.stored.User(ctx, s.ownerID)
	if err != nil {
		logger.Logger().Warn("owner peer not found", zap.Error(err))
		return
	}
	if err = s.sendText(ctx, peer, text); err != nil {
		logger.Logger().Warn("owner notify failed", zap.Error(err))
	}
}

func (s *Service) sendText(ctx context.Context, peer tg.InputPeerClass, text string) error {
	_, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	})
	return errors.Wrap(err, "send message")
}

func (s *Service) answer(ctx context.Context, queryID int64, text string) {
	req := &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
		Message: text,
		Alert:   text != "",
	}
	if _, err := s.api.MessagesSetBotCallbackAnswer(ctx, req); err != nil {
		logger.Logger().Debug("callback answer failed", zap.Error(err))
	}
}
