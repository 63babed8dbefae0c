package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mossline/filterhub/internal/store"
)

// Notifier fans share events out to a user's push subscriptions. Called
// from the share handlers, never on a schedule.
type Notifier struct {
	service *Service
	subs    *store.PushStore
	logger  *slog.Logger
}

func NewNotifier(svc *Service, subs *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		service: svc,
		subs:    subs,
		logger:  logger.With("component", "push"),
	}
}

// NotifyFilterShared tells the recipient a filter arrived in their inbox.
// Expired subscriptions are pruned as they are discovered.
func (n *Notifier) NotifyFilterShared(recipientID int64, filterName string) {
	n.send(recipientID, Payload{
		Title: "Filter received",
		Body:  fmt.Sprintf("%q was shared with you", filterName),
		URL:   "/shared",
		Tag:   "share-received",
	})
}

// NotifyCategoryShared reports a bulk share with its filter count.
func (n *Notifier) NotifyCategoryShared(recipientID int64, count int) {
	body := fmt.Sprintf("%d filters were shared with you", count)
	if count == 1 {
		body = "A filter was shared with you"
	}
	n.send(recipientID, Payload{
		Title: "Filters received",
		Body:  body,
		URL:   "/shared",
		Tag:   "share-received",
	})
}

func (n *Notifier) send(userID int64, payload Payload) {
	subs, err := n.subs.ListByUser(userID)
	if err != nil {
		n.logger.Error("list subscriptions", "error", err, "user_id", userID)
		return
	}

	for i := range subs {
		sub := &subs[i]
		if err := n.service.Send(sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := n.subs.DeleteByEndpoint(sub.UserID, sub.Endpoint); err != nil {
					n.logger.Error("prune expired subscription", "error", err)
				}
				continue
			}
			n.logger.Error("send notification", "error", err, "user_id", userID)
		}
	}
}
