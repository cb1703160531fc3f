package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/db"
	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMessagingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// testClock hands out strictly increasing timestamps.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	db    *gorm.DB
	hub   *realtime.Hub
	store *GormStore
	clock *testClock
	n     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    openMessagingTestDB(t),
		hub:   realtime.NewHub(0),
		clock: &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	store, err := NewGormStore(StoreOpts{
		DB:        f.db,
		Publisher: f.hub,
		Logger:    logging.Nop(),
		Now:       f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	f.store = store
	return f
}

func (f *fixture) profile(t *testing.T, name string) string {
	t.Helper()
	f.n++
	p := models.Profile{Email: fmt.Sprintf("%s%d@uni.edu", name, f.n), FullName: name}
	if err := f.db.Create(&p).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return p.ID
}

func (f *fixture) listing(t *testing.T, sellerID, title string) string {
	t.Helper()
	l := models.Listing{
		SellerID:  sellerID,
		Title:     title,
		Price:     10,
		Condition: models.ConditionGood,
		Images:    []string{"https://cdn.example/" + title + ".jpg"},
	}
	if err := f.db.Create(&l).Error; err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l.ID
}

// conversation starts a conversation about a fresh listing of sellerID.
func (f *fixture) conversation(t *testing.T, buyerID, sellerID string) *models.Conversation {
	t.Helper()
	listingID := f.listing(t, sellerID, fmt.Sprintf("item-%d", f.n))
	conv, err := f.store.StartConversation(context.Background(), listingID, buyerID)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	return conv
}

func (f *fixture) send(t *testing.T, convID, senderID, content string) models.Message {
	t.Helper()
	msg := models.Message{ConversationID: convID, SenderID: senderID, Content: content}
	if err := f.store.InsertMessage(context.Background(), &msg); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return msg
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")

// faultyStore wraps a Store and fails the configured operations.
type faultyStore struct {
	Store
	failHistory bool
	failInsert  bool
	failTouch   bool
	failList    bool

	// onHistory runs before the wrapped History returns its result.
	onHistory func(conversationID string)
}

func (s *faultyStore) History(ctx context.Context, id string, limit int) ([]models.Message, error) {
	if s.failHistory {
		return nil, errBoom
	}
	msgs, err := s.Store.History(ctx, id, limit)
	if s.onHistory != nil {
		s.onHistory(id)
	}
	return msgs, err
}

func (s *faultyStore) InsertMessage(ctx context.Context, m *models.Message) error {
	if s.failInsert {
		return errBoom
	}
	return s.Store.InsertMessage(ctx, m)
}

func (s *faultyStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	if s.failTouch {
		return errBoom
	}
	return s.Store.TouchConversation(ctx, id, at)
}

func (s *faultyStore) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	if s.failList {
		return nil, errBoom
	}
	return s.Store.ListConversations(ctx, userID, limit)
}

// gatedStore blocks History and InsertMessage for one conversation until
// release is closed.
type gatedStore struct {
	Store
	gate    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(inner Store, conversationID string) *gatedStore {
	return &gatedStore{
		Store:   inner,
		gate:    conversationID,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) wait(id string) {
	if id != s.gate {
		return
	}
	s.once.Do(func() { close(s.entered) })
	<-s.release
}

func (s *gatedStore) History(ctx context.Context, id string, limit int) ([]models.Message, error) {
	s.wait(id)
	return s.Store.History(context.Background(), id, limit)
}

func (s *gatedStore) InsertMessage(ctx context.Context, m *models.Message) error {
	s.wait(m.ConversationID)
	return s.Store.InsertMessage(ctx, m)
}

// orderedSubscriber wraps a Subscriber and records whether any earlier
// subscription was still open when a new one was requested.
type orderedSubscriber struct {
	inner realtime.Subscriber

	mu        sync.Mutex
	opened    []*realtime.Subscription
	overlaps  int
	subscribe int
}

func (s *orderedSubscriber) Subscribe(ctx context.Context, f realtime.Filter) (*realtime.Subscription, error) {
	s.mu.Lock()
	for _, prev := range s.opened {
		if !prev.Closed() {
			s.overlaps++
		}
	}
	s.subscribe++
	s.mu.Unlock()

	sub, err := s.inner.Subscribe(ctx, f)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opened = append(s.opened, sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *orderedSubscriber) counts() (subscribes, overlaps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribe, s.overlaps
}
