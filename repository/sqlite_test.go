package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, users UserRepository, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Name: username, PasswordHash: "x"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func TestUserCreateDuplicate(t *testing.T) {
	db := openTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	createUser(t, users, "alice")

	err := users.Create(context.Background(), &models.User{Username: "ALICE", Name: "a", PasswordHash: "x"})
	if !errors.Is(err, pkg.ErrAlreadyExists) {
		t.Fatalf("duplicate username err = %v, want ErrAlreadyExists", err)
	}

	if _, err := users.GetByID(context.Background(), 999); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("GetByID missing err = %v", err)
	}
}

func TestParticipantsAndDirectLookup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	convs := NewSQLiteConversationRepo(db.Conn)

	a := createUser(t, users, "alice")
	b := createUser(t, users, "bob")
	c := createUser(t, users, "carol")

	conv, err := convs.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, u := range []*models.User{a, b} {
		if err := convs.AddParticipant(ctx, conv.ID, u.ID); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}
	if err := convs.AddParticipant(ctx, conv.ID, a.ID); !errors.Is(err, pkg.ErrAlreadyExists) {
		t.Fatalf("re-add err = %v, want ErrAlreadyExists", err)
	}

	found, err := convs.FindDirect(ctx, b.ID, a.ID)
	if err != nil || found.ID != conv.ID {
		t.Fatalf("FindDirect = %v, %v", found, err)
	}
	if _, err := convs.FindDirect(ctx, a.ID, c.ID); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("FindDirect(a,c) err = %v", err)
	}

	ok, err := convs.IsParticipant(ctx, conv.ID, c.ID)
	if err != nil || ok {
		t.Fatalf("IsParticipant(carol) = %v, %v", ok, err)
	}

	avail, err := users.ListNotInConversation(ctx, conv.ID)
	if err != nil || len(avail) != 1 || avail[0].ID != c.ID {
		t.Fatalf("ListNotInConversation = %v, %v", avail, err)
	}

	if err := convs.RemoveParticipant(ctx, conv.ID, b.ID); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if err := convs.RemoveParticipant(ctx, conv.ID, b.ID); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("second RemoveParticipant err = %v", err)
	}
	parts, _ := convs.ListParticipants(ctx, conv.ID)
	if len(parts) != 1 || parts[0].ID != a.ID {
		t.Fatalf("participants after leave = %v", parts)
	}
}

func TestMessageIDsIncrease(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	convs := NewSQLiteConversationRepo(db.Conn)
	msgs := NewSQLiteMessageRepo(db.Conn)

	a := createUser(t, users, "alice")
	conv, _ := convs.Create(ctx)

	var last int64
	for i := 0; i < 5; i++ {
		m := &models.Message{ConversationID: conv.ID, SenderID: &a.ID, Type: models.MessageText, Content: "hi"}
		if err := msgs.Create(ctx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if m.ID <= last {
			t.Fatalf("id %d not greater than %d", m.ID, last)
		}
		last = m.ID
	}
	sys := &models.Message{ConversationID: conv.ID, Type: models.MessageSystem, Content: "alice joined the conversation"}
	if err := msgs.Create(ctx, sys); err != nil {
		t.Fatalf("Create system: %v", err)
	}

	list, err := msgs.ListByConversation(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(list) != 3 || list[2].ID != sys.ID || list[0].ID >= list[1].ID {
		t.Fatalf("unexpected window: %+v", list)
	}
	if list[2].SenderID != nil {
		t.Fatalf("system message sender = %v, want nil", *list[2].SenderID)
	}

	lastMsg, err := msgs.Last(ctx, conv.ID)
	if err != nil || lastMsg.ID != sys.ID {
		t.Fatalf("Last = %v, %v", lastMsg, err)
	}
}

func TestReactionToggleIsItsOwnInverse(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	convs := NewSQLiteConversationRepo(db.Conn)
	msgs := NewSQLiteMessageRepo(db.Conn)
	reactions := NewSQLiteReactionRepo(db.Conn)

	a := createUser(t, users, "alice")
	b := createUser(t, users, "bob")
	conv, _ := convs.Create(ctx)
	m := &models.Message{ConversationID: conv.ID, SenderID: &a.ID, Type: models.MessageText, Content: "hi"}
	if err := msgs.Create(ctx, m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reactions.Toggle(ctx, m.ID, b.ID, models.ReactionLike); err != nil {
		t.Fatalf("seed toggle: %v", err)
	}

	before, _ := reactions.ListByMessage(ctx, m.ID)

	added, err := reactions.Toggle(ctx, m.ID, a.ID, models.ReactionLove)
	if err != nil || !added {
		t.Fatalf("first toggle = %v, %v", added, err)
	}
	mid, _ := reactions.ListByMessage(ctx, m.ID)
	if len(mid) != len(before)+1 {
		t.Fatalf("after add: %d reactions, want %d", len(mid), len(before)+1)
	}

	added, err = reactions.Toggle(ctx, m.ID, a.ID, models.ReactionLove)
	if err != nil || added {
		t.Fatalf("second toggle = %v, %v", added, err)
	}
	after, _ := reactions.ListByMessage(ctx, m.ID)
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("toggle twice changed the set: before %v after %v", before, after)
	}

	byMsg, err := reactions.ListByMessages(ctx, []int64{m.ID, 12345})
	if err != nil || len(byMsg[m.ID]) != 1 || len(byMsg[12345]) != 0 {
		t.Fatalf("ListByMessages = %v, %v", byMsg, err)
	}
}

func TestWithTxScopedRepos(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLiteUserRepo(db.Conn)
	a := createUser(t, users, "alice")

	boom := errors.New("boom")
	err := database.WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		convs := NewSQLiteConversationRepo(tx)
		conv, err := convs.Create(ctx)
		if err != nil {
			return err
		}
		if err := convs.AddParticipant(ctx, conv.ID, a.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v", err)
	}

	list, err := NewSQLiteConversationRepo(db.Conn).ListForUser(ctx, a.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("rolled back conversation visible: %v, %v", list, err)
	}
}
