package server

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/presence"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	metricActiveClients     = "NumActiveClients"
	metricOnlineUsers       = "NumOnlineUsers"
	metricMessagesSent      = "MessagesSent"
	metricStatusTransitions = "StatusTransitions"

	defaultRateLimit = 20
	defaultRateBurst = 40
)

var ErrShuttingDown = errors.New("chat server is shutting down")

type ChatServer struct {
	log      *logrus.Logger
	db       database.RelayRepository
	stats    stats.StatsProvider
	registry *presence.Registry[*Client]
	engine   *DeliveryEngine
	// userLocks serializes presence transitions of a single user so online
	// and offline broadcasts leave in the order the registry saw them.
	userLocks *keyedMutex

	rateLimit rate.Limit
	rateBurst int

	lifecycleLock sync.Mutex
	shuttingDown  bool
	wg            sync.WaitGroup
}

func NewChatServer(logger *logrus.Logger, db database.RelayRepository, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("nil repository")
	}

	for _, m := range []string{metricActiveClients, metricOnlineUsers, metricMessagesSent, metricStatusTransitions} {
		su.RegisterMetric(m)
	}

	cs := &ChatServer{
		log:       logger,
		db:        db,
		stats:     su,
		registry:  presence.NewRegistry[*Client](),
		userLocks: newKeyedMutex(),
		rateLimit: defaultRateLimit,
		rateBurst: defaultRateBurst,
	}
	cs.engine = newDeliveryEngine(cs)

	return cs, nil
}

// SetRateLimit configures the inbound event limiter of connections created
// after the call.
func (cs *ChatServer) SetRateLimit(limit rate.Limit, burst int) {
	cs.rateLimit = limit
	cs.rateBurst = burst
}

func userKey(userId int) string {
	return "user:" + strconv.Itoa(userId)
}

// RegisterClient admits an authenticated connection: it is added to the
// presence registry, the user's last_seen is persisted, an online transition
// is broadcast if this is the user's first connection, and messages that
// arrived while the user was offline are reconciled.
func (cs *ChatServer) RegisterClient(c *Client) error {
	cs.lifecycleLock.Lock()
	if cs.shuttingDown {
		cs.lifecycleLock.Unlock()
		return ErrShuttingDown
	}
	cs.wg.Add(1)
	cs.lifecycleLock.Unlock()

	log := cs.log.WithFields(logrus.Fields{"user_id": c.user.Id, "conn_id": c.id})

	unlock := cs.userLocks.Lock(userKey(c.user.Id))
	first := cs.registry.Register(c.user.Id, c.id, c)
	cs.stats.Incr(metricActiveClients)

	now := Now()
	if err := cs.db.UpdateLastSeen(c.user.Id, now); err != nil {
		log.WithError(err).Warn("update last seen on connect")
	}

	if first {
		log.Info("user online")
		cs.stats.Incr(metricOnlineUsers)
		cs.broadcast(&ServerMessage{
			UserOnline: &PresenceChange{UserId: c.user.Id, LastSeen: now},
		})
	}
	unlock()

	cs.engine.Reconcile(c.user.Id)

	// a shutdown that started during registration may have missed this client
	if cs.isShuttingDown() {
		c.stopClient()
	}

	log.Debugf("registered connection, %d live connections", cs.registry.Len())
	return nil
}

// UnregisterClient removes a connection. When it was the user's last one the
// user's last_seen is persisted and an offline transition is broadcast.
func (cs *ChatServer) UnregisterClient(c *Client) {
	defer cs.wg.Done()

	log := cs.log.WithFields(logrus.Fields{"user_id": c.user.Id, "conn_id": c.id})

	unlock := cs.userLocks.Lock(userKey(c.user.Id))
	defer unlock()

	last := cs.registry.Unregister(c.user.Id, c.id)
	cs.stats.Decr(metricActiveClients)

	if !last {
		log.Debug("connection closed, user still online")
		return
	}

	now := Now()
	if err := cs.db.UpdateLastSeen(c.user.Id, now); err != nil {
		log.WithError(err).Warn("update last seen on disconnect")
	}

	log.Info("user offline")
	cs.stats.Decr(metricOnlineUsers)
	cs.broadcast(&ServerMessage{
		UserOffline: &PresenceChange{UserId: c.user.Id, LastSeen: now},
	})
}

func (cs *ChatServer) IsOnline(userId int) bool {
	return cs.registry.IsOnline(userId)
}

func (cs *ChatServer) OnlineUsers() []int {
	return cs.registry.OnlineUsers()
}

func (cs *ChatServer) ConnectionsFor(userId int) []string {
	return cs.registry.ConnectionsFor(userId)
}

// ForceLogout tells every live connection of the user to discard its
// credential and disconnect. It returns the number of connections notified.
func (cs *ChatServer) ForceLogout(userId int, reason string) int {
	n := cs.sendToUser(userId, &ServerMessage{
		ForceLogout: &ForceLogout{Reason: reason},
	})

	cs.log.WithFields(logrus.Fields{"user_id": userId, "connections": n}).Info("forced logout")
	return n
}

// sendToUser queues msg on every live connection of the user and returns how
// many accepted it.
func (cs *ChatServer) sendToUser(userId int, msg *ServerMessage) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	n := 0
	for _, c := range cs.registry.Lookup(userId) {
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// broadcast queues msg on every live connection.
func (cs *ChatServer) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	for _, c := range cs.registry.All() {
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) isShuttingDown() bool {
	cs.lifecycleLock.Lock()
	defer cs.lifecycleLock.Unlock()
	return cs.shuttingDown
}

// Shutdown stops every live connection and waits until each has been
// unregistered or ctx is done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")

	cs.lifecycleLock.Lock()
	cs.shuttingDown = true
	cs.lifecycleLock.Unlock()

	for _, c := range cs.registry.All() {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
