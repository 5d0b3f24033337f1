package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/store"
)

var (
	ErrClosed      = errors.New("chat: controller closed")
	ErrNoSelection = errors.New("chat: no conversation selected")
)

// MessagesUpdate — новое содержимое окна открытого чата.
type MessagesUpdate struct {
	Ref         model.ConversationRef
	Messages    []model.MessageView
	Provisional bool
}

// View получает готовые view-модели. Методы вызываются последовательно, но из разных горутин.
type View interface {
	Messages(u MessagesUpdate)
	ChatList(chats []model.ChatSummary)
	Error(err error)
}

type Options struct {
	// SearchLimit — лимит FindUsers; 0 означает store.DefaultSearchLimit.
	SearchLimit int
	// Location для HH:MM в MessageView; nil — time.Local.
	Location *time.Location
}

// subscription — пара подписок (сообщения, отметки), которой владеет контроллер.
// Пустой ChatID у подписки списка чатов.
type subscription struct {
	ChatID        string
	MessageHandle feed.Handle
	ReceiptHandle feed.Handle
}

// Controller держит открытый чат и список чатов в актуальном состоянии по событиям ленты.
// Вызовы Start/Select/Send/OpenWith ожидаются от одного владельца; обработчики ленты
// приходят из горутин ленты.
type Controller struct {
	store  store.Store
	feed   feed.Feed
	view   View
	userID string
	opts   Options

	reads  *ReadState
	rec    *Reconciler
	lister *Lister

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// renderMu упорядочивает проверку свежести и вызов View.
	renderMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	selected    model.ConversationRef
	sub         *subscription
	listSub     *subscription
	list        []model.ChatSummary
	temp        *model.Provisional
	seq         uint64
	applied     uint64
	listSeq     uint64
	listApplied uint64
}

func NewController(s store.Store, f feed.Feed, userID string, view View, opts Options) *Controller {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = store.DefaultSearchLimit
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	reads := NewReadState(s)
	return &Controller{
		store:  s,
		feed:   f,
		view:   view,
		userID: userID,
		opts:   opts,
		reads:  reads,
		rec:    NewReconciler(s, userID),
		lister: NewLister(s, reads),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start подписывается на все вставки messages и message_read_status для обновления списка
// и загружает список. Для ленты поверх одного соединения (feed.Connection) следит за его потерей.
// Повторный Start ничего не делает.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	started := c.listSub != nil
	c.mu.Unlock()
	if started {
		return nil
	}

	onEvent := func(feed.Event) { c.spawn(c.refreshList) }
	sub, err := c.acquire(ctx, nil, onEvent, onEvent)
	if err != nil {
		logger.Errorf("chat.Start user=%s: %v", c.userID, err)
		return fmt.Errorf("chat.Start: %w", err)
	}
	c.mu.Lock()
	if c.closed || c.listSub != nil {
		c.mu.Unlock()
		c.release(sub)
		return nil
	}
	c.listSub = sub
	c.mu.Unlock()

	if conn, ok := c.feed.(feed.Connection); ok {
		c.spawn(func(ctx context.Context) { c.watch(ctx, conn) })
	}
	return c.loadList(ctx)
}

// Select переключает окно на ref. Подписки предыдущего чата снимаются до любых других действий.
// Для Provisional подписок нет. Для Persisted берутся две подписки, затем загружаются сообщения,
// ставятся отметки о прочтении и обновляется список. При ошибке подписки открытого чата снимаются.
func (c *Controller) Select(ctx context.Context, ref model.ConversationRef) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.sub
	c.sub = nil
	c.selected = ref
	switch r := ref.(type) {
	case model.Provisional:
		c.temp = &r
	default:
		c.temp = nil
	}
	c.mu.Unlock()

	c.release(old)

	switch r := ref.(type) {
	case nil:
		c.renderList()
		return nil
	case model.Provisional:
		c.renderProvisional(r)
		c.renderList()
		return nil
	case model.Persisted:
		if err := c.openPersisted(ctx, r.ID); err != nil {
			logger.Errorf("chat.Select chat=%s user=%s: %v", r.ID, c.userID, err)
			return err
		}
		return nil
	default:
		return fmt.Errorf("chat.Select: unsupported conversation ref %T", ref)
	}
}

func (c *Controller) openPersisted(ctx context.Context, chatID string) error {
	sub, err := c.acquire(ctx, feed.Eq("chat_id", chatID), c.onChatMessage(chatID), c.onChatReceipt(chatID))
	if err != nil {
		return fmt.Errorf("chat.Select %s: %w", chatID, err)
	}
	sub.ChatID = chatID

	c.mu.Lock()
	if c.closed || !c.isSelectedLocked(chatID) || c.sub != nil {
		c.mu.Unlock()
		c.release(sub)
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	err = c.loadMessages(ctx, chatID)
	if err == nil {
		_, err = c.reads.MarkRead(ctx, chatID, c.userID)
	}
	if err == nil {
		err = c.loadList(ctx)
	}
	if err != nil {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		} else {
			sub = nil
		}
		c.mu.Unlock()
		c.release(sub)
		return err
	}
	return nil
}

// Send отправляет сообщение в выбранный чат. Пустой текст игнорируется.
// Временный чат сначала превращается в настоящий. Ничего не повторяет:
// при ошибке текст остаётся у вызывающего.
func (c *Controller) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ref := c.selected
	c.mu.Unlock()

	var chatID string
	switch r := ref.(type) {
	case nil:
		return ErrNoSelection
	case model.Provisional:
		p, err := c.rec.Promote(ctx, r)
		if err != nil {
			logger.Errorf("chat.Send user=%s target=%s: %v", c.userID, r.Target.ID, err)
			return fmt.Errorf("chat.Send: %w", err)
		}
		if err := c.Select(ctx, p); err != nil {
			return fmt.Errorf("chat.Send: %w", err)
		}
		chatID = p.ID
	case model.Persisted:
		chatID = r.ID
	default:
		return fmt.Errorf("chat.Send: unsupported conversation ref %T", ref)
	}

	if _, err := c.store.InsertMessage(ctx, chatID, c.userID, content); err != nil {
		logger.Errorf("chat.Send chat=%s user=%s: %v", chatID, c.userID, err)
		return fmt.Errorf("chat.Send: %w", err)
	}
	if err := c.loadMessages(ctx, chatID); err != nil {
		logger.Errorf("chat.Send refetch chat=%s: %v", chatID, err)
		return fmt.Errorf("chat.Send: %w", err)
	}
	return nil
}

// OpenWith открывает чат с target: существующий личный из загруженного списка или временный.
func (c *Controller) OpenWith(ctx context.Context, target model.Profile) (model.ConversationRef, error) {
	c.mu.Lock()
	loaded := c.list
	c.mu.Unlock()

	ref := c.rec.Open(target, loaded)
	return ref, c.Select(ctx, ref)
}

// SearchUsers ищет собеседников по имени или телефону. Пустой запрос не доходит до Store.
func (c *Controller) SearchUsers(ctx context.Context, query string) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Profile{}, nil
	}
	users, err := c.store.FindUsers(ctx, query, c.userID, c.opts.SearchLimit)
	if err != nil {
		logger.Errorf("chat.SearchUsers user=%s: %v", c.userID, err)
		return nil, fmt.Errorf("chat.SearchUsers: %w", err)
	}
	return users, nil
}

// Selected — текущий выбранный чат или nil.
func (c *Controller) Selected() model.ConversationRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Chats — последний загруженный список (без временного чата).
func (c *Controller) Chats() []model.ChatSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChatSummary, len(c.list))
	copy(out, c.list)
	return out
}

// Close снимает все подписки и ждёт завершения обновлений. Повторный вызов ничего не делает.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := []*subscription{c.sub, c.listSub}
	c.sub, c.listSub = nil, nil
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, c.release(s))
	}
	c.cancel()
	c.wg.Wait()
	return errors.Join(errs...)
}

// acquire берёт подписки на messages (с фильтром) и на message_read_status.
// Если вторая не удалась, первая снимается.
func (c *Controller) acquire(ctx context.Context, filter *feed.Filter, onMessage, onReceipt feed.Handler) (*subscription, error) {
	mh, err := c.feed.Subscribe(ctx, feed.TableMessages, filter, onMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", feed.TableMessages, err)
	}
	rh, err := c.feed.Subscribe(ctx, feed.TableReadReceipts, nil, onReceipt)
	if err != nil {
		if uerr := c.feed.Unsubscribe(mh); uerr != nil {
			logger.Errorf("chat: release %s handle=%s: %v", feed.TableMessages, mh, uerr)
		}
		return nil, fmt.Errorf("subscribe %s: %w", feed.TableReadReceipts, err)
	}
	return &subscription{MessageHandle: mh, ReceiptHandle: rh}, nil
}

func (c *Controller) release(s *subscription) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, h := range []feed.Handle{s.MessageHandle, s.ReceiptHandle} {
		if err := c.feed.Unsubscribe(h); err != nil {
			logger.Errorf("chat: release handle=%s chat=%s: %v", h, s.ChatID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onChatMessage: новое сообщение в открытом чате. Чужое сообщение сразу отмечается прочитанным.
func (c *Controller) onChatMessage(chatID string) feed.Handler {
	return func(ev feed.Event) {
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			logger.Errorf("chat: %v", err)
			return
		}
		markRead := m.SenderID != c.userID
		c.spawn(func(ctx context.Context) {
			err := c.loadMessages(ctx, chatID)
			if err == nil && markRead && c.isSelected(chatID) {
				_, err = c.reads.MarkRead(ctx, chatID, c.userID)
			}
			if err == nil {
				err = c.loadList(ctx)
			}
			c.report(ctx, err)
		})
	}
}

// onChatReceipt: в событии отметки нет chat_id, поэтому чат сообщения ищется в Store.
func (c *Controller) onChatReceipt(chatID string) feed.Handler {
	return func(ev feed.Event) {
		var r model.ReadReceipt
		if err := ev.Decode(&r); err != nil {
			logger.Errorf("chat: %v", err)
			return
		}
		c.spawn(func(ctx context.Context) {
			owner, err := c.store.GetMessageChatID(ctx, r.MessageID)
			if errors.Is(err, store.ErrNotFound) {
				return
			}
			if err != nil {
				c.report(ctx, fmt.Errorf("chat: receipt lookup message=%s: %w", r.MessageID, err))
				return
			}
			if owner != chatID {
				return
			}
			c.report(ctx, c.loadMessages(ctx, chatID))
		})
	}
}

func (c *Controller) refreshList(ctx context.Context) {
	c.report(ctx, c.loadList(ctx))
}

// watch сообщает в View о потере соединения ленты: после неё окно перестаёт обновляться.
func (c *Controller) watch(ctx context.Context, conn feed.Connection) {
	select {
	case <-ctx.Done():
	case <-conn.Done():
		logger.Errorf("chat: feed lost user=%s", c.userID)
		c.report(ctx, feed.ErrDisconnected)
	}
}

// spawn запускает обновление в отдельной горутине, если контроллер не закрыт.
func (c *Controller) spawn(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// report отдаёт ошибку фонового обновления в View: вызывающего у него нет.
func (c *Controller) report(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	logger.Errorf("chat: refresh user=%s: %v", c.userID, err)
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.view.Error(err)
}

// loadMessages перечитывает сообщения чата. Результат применяется, только если чат всё ещё
// выбран и запрос новее последнего применённого.
func (c *Controller) loadMessages(ctx context.Context, chatID string) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	msgs, err := c.store.GetMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("chat.loadMessages %s: %w", chatID, err)
	}
	views := MessageViews(msgs, c.userID, c.opts.Location)

	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	if c.closed || !c.isSelectedLocked(chatID) || seq <= c.applied {
		c.mu.Unlock()
		logger.Debugf("chat: drop stale messages chat=%s seq=%d", chatID, seq)
		return nil
	}
	c.applied = seq
	ref := c.selected
	c.mu.Unlock()

	c.view.Messages(MessagesUpdate{Ref: ref, Messages: views})
	return nil
}

func (c *Controller) loadList(ctx context.Context) error {
	c.mu.Lock()
	c.listSeq++
	seq := c.listSeq
	c.mu.Unlock()

	chats, err := c.lister.ChatList(ctx, c.userID)
	if err != nil {
		return err
	}

	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	if c.closed || seq <= c.listApplied {
		c.mu.Unlock()
		return nil
	}
	c.listApplied = seq
	c.list = chats
	out := c.withTempLocked(chats)
	c.mu.Unlock()

	c.view.ChatList(out)
	return nil
}

// renderList перерисовывает список из кэша, например после появления или ухода временного чата.
func (c *Controller) renderList() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	out := c.withTempLocked(c.list)
	c.mu.Unlock()
	c.view.ChatList(out)
}

func (c *Controller) renderProvisional(p model.Provisional) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	c.seq++
	c.applied = c.seq
	c.mu.Unlock()
	c.view.Messages(MessagesUpdate{Ref: p, Messages: []model.MessageView{}, Provisional: true})
}

func (c *Controller) withTempLocked(chats []model.ChatSummary) []model.ChatSummary {
	out := make([]model.ChatSummary, 0, len(chats)+1)
	if c.temp != nil {
		out = append(out, provisionalSummary(*c.temp))
	}
	return append(out, chats...)
}

func (c *Controller) isSelected(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSelectedLocked(chatID)
}

func (c *Controller) isSelectedLocked(chatID string) bool {
	p, ok := c.selected.(model.Persisted)
	return ok && p.ID == chatID
}
