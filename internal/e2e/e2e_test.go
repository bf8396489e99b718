package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Avicted/courier/internal/apiclient"
	"github.com/Avicted/courier/internal/auth"
	"github.com/Avicted/courier/internal/feed"
	"github.com/Avicted/courier/internal/httpapi"
	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/securestore"
	"github.com/Avicted/courier/internal/storage"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/ws"
)

// participant is one signed-in client with its own live inbox.
type participant struct {
	auth  *apiclient.AuthResponse
	api   *apiclient.Client
	feed  *feed.Client
	owner *inbox.Owner
	sub   *inbox.Subscription
	stop  func()
}

func (p *participant) id() user.ID {
	return p.auth.CurrentUserID()
}

func TestE2E_InboxFollowsConversations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL, stopDB := startPostgres(t, ctx)
	defer stopDB()
	serverURL, stopServer := startServer(t, ctx, dbURL)
	defer stopServer()

	alice := join(t, ctx, serverURL, "Alice Liddell", "alice@example.com")
	defer alice.stop()
	bob := join(t, ctx, serverURL, "Bob Builder", "bob@example.com")
	defer bob.stop()
	carol := join(t, ctx, serverURL, "Carol Danvers", "carol@example.com")
	defer carol.stop()

	require.NoError(t, bob.feed.Send(ctx, alice.id(), message.Text("hi alice")))
	list := waitForList(t, alice, func(l []inbox.Summary) bool { return len(l) == 1 })
	require.Equal(t, bob.id(), list[0].Counterpart)
	require.Equal(t, "hi alice", list[0].Message.Content.Text)
	require.False(t, list[0].Message.Read)

	require.NoError(t, carol.feed.Send(ctx, alice.id(), message.At(60.17, 24.94)))
	list = waitForList(t, alice, func(l []inbox.Summary) bool { return len(l) == 2 })
	require.Equal(t, carol.id(), list[0].Counterpart, "newest conversation first")
	require.Equal(t, "Shared location", list[0].Message.Content.Preview())

	// A reply to bob moves his conversation back to the top.
	require.NoError(t, alice.feed.Send(ctx, bob.id(), message.Text("hello bob")))
	list = waitForList(t, alice, func(l []inbox.Summary) bool {
		return len(l) == 2 && l[0].Counterpart == bob.id() && l[0].Message.Content.Text == "hello bob"
	})
	require.Equal(t, alice.id(), list[0].Message.FromID)

	bobList := waitForList(t, bob, func(l []inbox.Summary) bool {
		return len(l) == 1 && l[0].Message.Content.Text == "hello bob"
	})
	require.False(t, bobList[0].Message.Read)

	require.NoError(t, bob.feed.MarkRead(ctx, alice.id()))
	waitForList(t, bob, func(l []inbox.Summary) bool { return len(l) == 1 && l[0].Message.Read })

	// Deleting is local first and removes only alice's copy on the server.
	require.NoError(t, alice.owner.Delete(ctx, carol.id()))
	snapshot, err := alice.owner.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	require.Equal(t, bob.id(), snapshot[0].Counterpart)

	gone, err := alice.api.ListConversation(ctx, carol.id(), 50)
	require.NoError(t, err)
	require.Empty(t, gone)
	kept, err := carol.api.ListConversation(ctx, alice.id(), 50)
	require.NoError(t, err)
	require.Len(t, kept, 1)

	history, err := alice.api.ListConversation(ctx, bob.id(), 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "hi alice", history[0].Content.Text, "history is oldest first")
}

func TestE2E_ReconnectResyncsFromSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL, stopDB := startPostgres(t, ctx)
	defer stopDB()
	serverURL, stopServer := startServer(t, ctx, dbURL)
	defer stopServer()

	alice := join(t, ctx, serverURL, "Alice Liddell", "alice@example.com")
	bob := join(t, ctx, serverURL, "Bob Builder", "bob@example.com")
	defer bob.stop()

	require.NoError(t, bob.feed.Send(ctx, alice.id(), message.Text("before")))
	waitForList(t, alice, func(l []inbox.Summary) bool { return len(l) == 1 })

	// Bob writes while alice is offline.
	alice.stop()
	require.NoError(t, bob.feed.Send(ctx, alice.id(), message.ContactCard("Ada", "+358401234567")))

	again := signIn(t, ctx, serverURL, "alice@example.com")
	defer again.stop()
	list := waitForList(t, again, func(l []inbox.Summary) bool {
		return len(l) == 1 && l[0].Message.Content.Kind == message.KindContact
	})
	require.Equal(t, bob.id(), list[0].Counterpart)
}

func TestE2E_RejectsBadToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL, stopDB := startPostgres(t, ctx)
	defer stopDB()
	serverURL, stopServer := startServer(t, ctx, dbURL)
	defer stopServer()

	_, err := feed.New(serverURL, "not-a-token").Subscribe(ctx)
	require.ErrorIs(t, err, feed.ErrUnauthorized)

	_, err = apiclient.New(serverURL).WithToken("not-a-token").ListUsers(ctx, 10)
	require.ErrorIs(t, err, apiclient.ErrUnauthorized)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "courier",
			"POSTGRES_PASSWORD": "courier",
			"POSTGRES_DB":       "courier",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres port: %v", err)
	}
	conn := fmt.Sprintf("postgres://courier:courier@%s:%s/courier?sslmode=disable", host, port.Port())

	return conn, func() {
		_ = container.Terminate(context.Background())
	}
}

func startServer(t *testing.T, ctx context.Context, dbURL string) (string, func()) {
	t.Helper()

	sealer, err := securestore.NewSealer(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	store, err := storage.NewPostgresStore(ctx, dbURL, sealer, nil)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close(ctx)
		t.Fatalf("migrate: %v", err)
	}

	userService := user.NewService(store.Users())
	messageService := message.NewService(store.Messages(), userService)
	authService := auth.NewService(userService)

	hub := ws.NewHub(messageService, ws.WithSendLimit(100, 100))
	messageService.SetPublisher(hub)
	hubCtx, cancel := context.WithCancel(ctx)
	go hub.Run(hubCtx)

	api := httpapi.NewHandler(userService, messageService, authService, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.WithAuthValidator(http.HandlerFunc(hub.HandleWS), authService))
	api.Register(mux)

	srv := httptest.NewServer(mux)

	return srv.URL, func() {
		srv.Close()
		cancel()
		_ = store.Close(context.Background())
	}
}

func join(t *testing.T, ctx context.Context, serverURL, fullname, email string) *participant {
	t.Helper()
	resp, err := apiclient.New(serverURL).Register(ctx, fullname, email, "secret123")
	require.NoError(t, err)
	return connect(t, ctx, serverURL, resp)
}

func signIn(t *testing.T, ctx context.Context, serverURL, email string) *participant {
	t.Helper()
	resp, err := apiclient.New(serverURL).Login(ctx, email, "secret123")
	require.NoError(t, err)
	return connect(t, ctx, serverURL, resp)
}

func connect(t *testing.T, ctx context.Context, serverURL string, resp *apiclient.AuthResponse) *participant {
	t.Helper()
	api := apiclient.New(serverURL).WithToken(resp.Token)
	fc := feed.New(serverURL, resp.Token, feed.WithReconnect(20*time.Millisecond, 200*time.Millisecond))
	owner := inbox.NewOwner(inbox.New(resp), fc, api, nil)

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = owner.Run(runCtx) }()

	sub, err := owner.Subscribe(ctx)
	require.NoError(t, err)

	stopped := false
	return &participant{
		auth:  resp,
		api:   api,
		feed:  fc,
		owner: owner,
		sub:   sub,
		stop: func() {
			if stopped {
				return
			}
			stopped = true
			cancel()
			<-owner.Done()
		},
	}
}

// waitForList returns the first published list that satisfies ok.
func waitForList(t *testing.T, p *participant, ok func([]inbox.Summary) bool) []inbox.Summary {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case u, open := <-p.sub.Updates():
			require.True(t, open, "subscription closed")
			if ok(u.List) {
				return u.List
			}
		case <-deadline:
			snapshot, _ := p.owner.Snapshot(context.Background())
			t.Fatalf("timeout waiting for inbox state, last list: %+v", snapshot)
			return nil
		}
	}
}
