package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatsync/internal/feed"
	"github.com/chatsync/internal/store"
)

var ErrNotMember = errors.New("realtime: not a member of chat")

// MemberAuthorizer пускает на messages с фильтром chat_id только участников чата.
// Остальные подписки разрешены любому аутентифицированному пользователю.
type MemberAuthorizer struct {
	Store store.Store
}

func (a MemberAuthorizer) AuthorizeJoin(ctx context.Context, userID string, table feed.Table, filter *feed.Filter) error {
	if table != feed.TableMessages || filter == nil || filter.Column != "chat_id" {
		return nil
	}
	members, err := a.Store.GetMembers(ctx, filter.Value)
	if err != nil {
		return fmt.Errorf("realtime authorize: %w", err)
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return ErrNotMember
}
