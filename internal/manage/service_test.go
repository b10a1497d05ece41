package manage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/githubrelay/internal/github"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("info", "")
	os.Exit(m.Run())
}

type fakeValidator struct {
	known map[string]string // owner/name -> canonical URL
}

func (f *fakeValidator) GetRepository(ctx context.Context, owner, name string) (*github.RepoInfo, error) {
	url, ok := f.known[owner+"/"+name]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return &github.RepoInfo{Owner: owner, Name: name, FullName: owner + "/" + name, URL: url}, nil
}

func newService(t *testing.T, validator RepoValidator) (*Service, *storage.SubscriptionStore) {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := storage.NewSubscriptionStore(db)
	return NewService(store, validator), store
}

func TestSubscribeCreatesServerRepoAndSubscription(t *testing.T) {
	validator := &fakeValidator{known: map[string]string{
		"acme/widgets": "https://github.com/acme/widgets",
	}}
	svc, store := newService(t, validator)

	sub, err := svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID:   100,
		ServerName: "Acme HQ",
		RepoName:   "acme/widgets",
		ChannelID:  555,
		Kinds:      []storage.EventKind{storage.KindPullRequest},
	})
	require.NoError(t, err)
	assert.True(t, sub.IsActive)

	srv, err := store.GetServer(100)
	require.NoError(t, err)
	require.NotNil(t, srv)

	repo, err := store.GetRepositoryByFullName("acme", "widgets")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "https://github.com/acme/widgets", repo.URL)
}

func TestSubscribeDefaultsToAllKinds(t *testing.T) {
	svc, _ := newService(t, nil)

	sub, err := svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID:   100,
		ServerName: "Acme HQ",
		RepoName:   "acme/widgets",
		ChannelID:  555,
	})
	require.NoError(t, err)

	kinds, err := sub.Kinds()
	require.NoError(t, err)
	assert.ElementsMatch(t, storage.AllEventKinds(), kinds)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID: 100, RepoName: "not-a-repo", ChannelID: 555,
	})
	assert.ErrorIs(t, err, ErrInvalidRepoName)

	_, err = svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID: 100, RepoName: "acme/widgets", ChannelID: 555,
		Kinds: []storage.EventKind{"unicorns"},
	})
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestSubscribeValidatesRepository(t *testing.T) {
	validator := &fakeValidator{known: map[string]string{}}
	svc, _ := newService(t, validator)

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID: 100, RepoName: "acme/missing", ChannelID: 555,
	})
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestUnsubscribeAndList(t *testing.T) {
	svc, _ := newService(t, nil)

	sub, err := svc.Subscribe(context.Background(), SubscribeRequest{
		ServerID: 100, ServerName: "Acme HQ", RepoName: "acme/widgets", ChannelID: 555,
	})
	require.NoError(t, err)

	subs, err := svc.ListSubscriptions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	require.NoError(t, svc.Unsubscribe(context.Background(), sub.ID))

	subs, err = svc.ListSubscriptions(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, subs)

	assert.ErrorIs(t, svc.Unsubscribe(context.Background(), sub.ID), storage.ErrSubscriptionNotFound)
}

func TestSplitRepoName(t *testing.T) {
	owner, name, err := SplitRepoName(" acme/widgets ")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	for _, bad := range []string{"", "acme", "acme/", "/widgets", "a/b/c"} {
		_, _, err := SplitRepoName(bad)
		assert.ErrorIs(t, err, ErrInvalidRepoName, bad)
	}
}
