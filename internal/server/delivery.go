package server

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyLength  = 4096
	maxEmojiLength = 32
)

// DeliveryEngine persists messages, fans them out to live connections and
// drives the sent -> delivered -> seen lifecycle.
//
// Every status transition of a message addressed to a user runs under that
// receiver's lock, so the events a sender observes for one message are
// ordered like the stored transitions. Reaction updates are serialized per
// message.
type DeliveryEngine struct {
	cs    *ChatServer
	db    database.RelayRepository
	log   *logrus.Logger
	locks *keyedMutex
}

func newDeliveryEngine(cs *ChatServer) *DeliveryEngine {
	return &DeliveryEngine{
		cs:    cs,
		db:    cs.db,
		log:   cs.log,
		locks: newKeyedMutex(),
	}
}

func receiverKey(userId int) string {
	return "rcpt:" + strconv.Itoa(userId)
}

func messageKey(id string) string {
	return "msg:" + id
}

func validMessageId(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SendMessage persists a new message and fans it out. Nothing is emitted
// before the write succeeds; on failure the sender gets an error response.
func (e *DeliveryEngine) SendMessage(msg *ClientMessage) {
	c := msg.client
	req := msg.SendMessage
	senderId := msg.GetUserId()

	log := e.log.WithFields(logrus.Fields{
		"sender_id":   senderId,
		"receiver_id": req.ReceiverId,
	})

	if req.ReceiverId <= 0 || req.ReceiverId == senderId ||
		(strings.TrimSpace(req.Message) == "" && req.MediaUrl == "") ||
		len(req.Message) > maxBodyLength {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if req.ReplyTo != "" {
		if !validMessageId(req.ReplyTo) {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}

		parent, err := e.db.GetMessageById(req.ReplyTo)
		if err != nil {
			if database.IsNotFound(err) {
				c.queueMessage(ErrNotFound(msg.Id, "reply_to message"))
			} else {
				log.WithError(err).Error("lookup reply_to message")
				c.queueMessage(ErrInternalError(msg.Id))
			}
			return
		}

		if !inConversation(parent, senderId, req.ReceiverId) {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
	}

	if _, err := e.db.GetAccountById(req.ReceiverId); err != nil {
		if database.IsNotFound(err) {
			c.queueMessage(ErrNotFound(msg.Id, "receiver"))
		} else {
			log.WithError(err).Error("lookup receiver")
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	// Reconcile for this receiver must observe either no row or a fanned-out one
	unlock := e.locks.Lock(receiverKey(req.ReceiverId))
	defer unlock()

	stored, err := e.db.CreateMessage(database.CreateMessageParams{
		SenderId:   senderId,
		ReceiverId: req.ReceiverId,
		Body:       req.Message,
		MediaUrl:   req.MediaUrl,
		MediaType:  req.MediaType,
		MediaName:  req.MediaName,
		ReplyToId:  req.ReplyTo,
		CreatedAt:  msg.Timestamp,
	})
	if err != nil {
		log.WithError(err).Error("create message")
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	e.cs.stats.Incr(metricMessagesSent)
	out := stored.ToMessage()
	log = log.WithField("message_id", out.Id)

	c.queueMessage(NoErrAccepted(msg.Id, map[string]any{"message_id": out.Id}))

	reached := e.cs.sendToUser(req.ReceiverId, &ServerMessage{ReceiveMessage: &out})
	e.cs.sendToUser(senderId, &ServerMessage{MessageSent: &out})

	if reached > 0 {
		e.advance(log, out.Id, senderId, types.StatusDelivered)
	}
}

// MarkSeen moves a message to seen on behalf of its receiver. Repeated calls
// are no-ops.
func (e *DeliveryEngine) MarkSeen(msg *ClientMessage) {
	req := msg.MessageSeen
	userId := msg.GetUserId()

	log := e.log.WithFields(logrus.Fields{
		"user_id":    userId,
		"message_id": req.MessageId,
	})

	if !validMessageId(req.MessageId) {
		log.Debug("message_seen: invalid message id")
		return
	}

	unlock := e.locks.Lock(receiverKey(userId))
	defer unlock()

	stored, err := e.db.GetMessageById(req.MessageId)
	if err != nil {
		if database.IsNotFound(err) {
			log.Debug("message_seen: message not found")
		} else {
			log.WithError(err).Warn("message_seen: lookup message")
		}
		return
	}

	if stored.ReceiverId != userId {
		log.Warn("message_seen: user is not the receiver")
		return
	}

	if req.SenderId != 0 && req.SenderId != stored.SenderId {
		log.Debugf("message_seen: sender %d does not match stored sender %d", req.SenderId, stored.SenderId)
	}

	if stored.Status == types.StatusSeen {
		return
	}

	e.advance(log, stored.Id, stored.SenderId, types.StatusSeen)
}

// advance applies a forward-only status transition and notifies the sender.
// The caller holds the receiver's lock.
func (e *DeliveryEngine) advance(log *logrus.Entry, messageId string, senderId int, status types.MessageStatus) bool {
	at := Now()
	changed, err := e.db.UpdateMessageStatus(messageId, status, at)
	if err != nil {
		log.WithError(err).Warnf("update status to %s", status)
		return false
	}

	if !changed {
		log.Debugf("ignoring transition to %s", status)
		return false
	}

	e.cs.stats.Incr(metricStatusTransitions)

	ev := &MessageStatus{MessageId: messageId, Status: status}
	if status == types.StatusSeen {
		ev.SeenAt = &at
	}
	e.cs.sendToUser(senderId, &ServerMessage{MessageStatus: ev})

	return true
}

// Reconcile marks every message still sent to userId as delivered and sends
// one status event per message to each sender's connections.
func (e *DeliveryEngine) Reconcile(userId int) {
	log := e.log.WithField("user_id", userId)

	unlock := e.locks.Lock(receiverKey(userId))
	defer unlock()

	at := Now()
	updated, err := e.db.MarkDelivered(userId, at)
	if err != nil {
		log.WithError(err).Warn("reconcile: mark delivered")
		return
	}

	if len(updated) == 0 {
		return
	}

	var senders []int
	bySender := make(map[int][]string)
	for _, m := range updated {
		if _, ok := bySender[m.SenderId]; !ok {
			senders = append(senders, m.SenderId)
		}
		bySender[m.SenderId] = append(bySender[m.SenderId], m.Id)
	}

	for _, senderId := range senders {
		clients := e.cs.registry.Lookup(senderId)
		for _, id := range bySender[senderId] {
			e.cs.stats.Incr(metricStatusTransitions)

			ev := &ServerMessage{
				BaseMessage:   BaseMessage{Timestamp: at},
				MessageStatus: &MessageStatus{MessageId: id, Status: types.StatusDelivered},
			}
			for _, c := range clients {
				c.queueMessage(ev)
			}
		}
	}

	log.Infof("reconciled %d messages from %d senders", len(updated), len(senders))
}

// ToggleReaction adds or removes the user's emoji on a message and sends the
// resulting list to both parties.
func (e *DeliveryEngine) ToggleReaction(msg *ClientMessage) {
	req := msg.ReactMessage
	userId := msg.GetUserId()

	log := e.log.WithFields(logrus.Fields{
		"user_id":    userId,
		"message_id": req.MessageId,
	})

	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > maxEmojiLength || !utf8.ValidString(emoji) {
		log.Debug("react_message: invalid emoji")
		return
	}

	if !validMessageId(req.MessageId) {
		log.Debug("react_message: invalid message id")
		return
	}

	unlock := e.locks.Lock(messageKey(req.MessageId))
	defer unlock()

	stored, err := e.db.GetMessageById(req.MessageId)
	if err != nil {
		if database.IsNotFound(err) {
			log.Debug("react_message: message not found")
		} else {
			log.WithError(err).Warn("react_message: lookup message")
		}
		return
	}

	if userId != stored.SenderId && userId != stored.ReceiverId {
		log.Warn("react_message: user is not a party to the message")
		return
	}

	reactions, _ := types.ToggleReaction(stored.Reactions, userId, emoji)
	if err := e.db.UpdateReactions(stored.Id, reactions); err != nil {
		log.WithError(err).Warn("react_message: update reactions")
		return
	}

	ev := &ServerMessage{
		MessageReaction: &MessageReaction{MessageId: stored.Id, Reactions: reactions},
	}
	e.cs.sendToUser(stored.SenderId, ev)
	e.cs.sendToUser(stored.ReceiverId, ev)
}

// ForwardTyping relays a typing or stop_typing signal to the receiver's
// connections. Nothing is stored.
func (e *DeliveryEngine) ForwardTyping(msg *ClientMessage, stop bool) {
	req := msg.Typing
	if stop {
		req = msg.StopTyping
	}

	senderId := msg.GetUserId()
	if req.ReceiverId <= 0 || req.ReceiverId == senderId {
		return
	}

	notice := &TypingNotice{SenderId: senderId}
	ev := &ServerMessage{Typing: notice}
	if stop {
		ev = &ServerMessage{StopTyping: notice}
	}

	e.cs.sendToUser(req.ReceiverId, ev)
}

func inConversation(m database.Message, a, b int) bool {
	return (m.SenderId == a && m.ReceiverId == b) || (m.SenderId == b && m.ReceiverId == a)
}
