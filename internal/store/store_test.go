package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/matchlink/internal/model"
)

func openTestStore(t *testing.T) *MessageStore {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, conn string, at time.Time) model.Message {
	text := "hello " + id
	return model.Message{ID: id, ConnectionID: conn, Type: model.MessageText, Content: &text, CreatedAt: at}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSaveAndLoadOrdersByCreation(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMessages("c1", []model.Message{
		msg("m3", "c1", base.Add(3*time.Minute)),
		msg("m1", "c1", base.Add(time.Minute)),
		msg("m2", "c1", base.Add(2*time.Minute)),
	}))
	require.NoError(t, s.SaveMessages("c2", []model.Message{msg("x1", "c2", base)}))

	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(got))
	assert.Equal(t, "hello m2", got[1].Text())

	recent, err := s.LoadMessages("c1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, ids(recent))
}

func TestSaveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	m := msg("m1", "c1", at)
	require.NoError(t, s.SaveMessages("c1", []model.Message{m}))
	m.IsRead = true
	require.NoError(t, s.SaveMessages("c1", []model.Message{m}))

	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsRead)
}

func TestSaveSkipsOptimisticMessages(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	temp := msg(model.TempIDPrefix+"123", "c1", now)
	temp.Sending = true
	require.NoError(t, s.SaveMessages("c1", []model.Message{temp, msg("m1", "c1", now)}))

	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(got))
}

func TestConversationPrefixesDoNotOverlap(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.SaveMessages("c1", []model.Message{msg("a", "c1", now)}))
	require.NoError(t, s.SaveMessages("c10", []model.Message{msg("b", "c10", now)}))

	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestConversationIDsWithSlashStayApart(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.SaveMessages("a", []model.Message{msg("outer", "a", now)}))
	require.NoError(t, s.SaveMessages("a/b", []model.Message{msg("inner", "a/b", now)}))
	require.NoError(t, s.SaveMessages("a%2Fb", []model.Message{msg("literal", "a%2Fb", now)}))

	got, err := s.LoadMessages("a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, ids(got))

	got, err = s.LoadMessages("a/b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, ids(got))

	require.NoError(t, s.DeleteConversation("a"))
	got, err = s.LoadMessages("a/b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, ids(got))
}

func TestDeleteConversation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	require.NoError(t, s.SaveMessages("c1", []model.Message{msg("a", "c1", now), msg("b", "c1", now.Add(time.Second))}))
	require.NoError(t, s.SaveMessages("c2", []model.Message{msg("z", "c2", now)}))

	require.NoError(t, s.DeleteConversation("c1"))

	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.LoadMessages("c2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestReopenKeepsMessages(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveMessages("c1", []model.Message{msg("m1", "c1", time.Now())}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadMessages("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(got))
}

func TestNilStoreIsNoop(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.NoError(t, s.SaveMessages("c1", []model.Message{msg("m1", "c1", time.Now())}))
	got, err := s.LoadMessages("c1", 10)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, s.DeleteConversation("c1"))
	assert.NoError(t, s.Close())
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("msg/c10"), prefixEnd([]byte("msg/c1/")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
}
