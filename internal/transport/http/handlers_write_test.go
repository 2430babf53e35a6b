package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/enforcement/adapters"
	"warden/internal/punishment/events"
	"warden/internal/punishment/models"
	"warden/internal/punishment/service"
	"warden/internal/punishment/store"
	resolvermodels "warden/internal/resolver/models"
	"warden/internal/storage/storagetest"
	"warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/middleware/auth"
	"warden/pkg/testutil"
)

type chatCheck struct {
	id      uuid.UUID
	addr    netip.Addr
	command string
}

type fakeGatekeeper struct {
	bans   map[uuid.UUID]string
	mutes  map[uuid.UUID]string
	logins []uuid.UUID
	chats  []chatCheck
}

func (f *fakeGatekeeper) CheckConnection(_ context.Context, id uuid.UUID, _ string, _ netip.Addr) (string, bool) {
	f.logins = append(f.logins, id)
	msg, banned := f.bans[id]
	return msg, banned
}

func (f *fakeGatekeeper) CheckChat(_ context.Context, id uuid.UUID, addr netip.Addr, command string) (string, bool) {
	f.chats = append(f.chats, chatCheck{id: id, addr: addr, command: command})
	msg, muted := f.mutes[id]
	return msg, muted
}

// =============================================================================
// Write API Test Suite
// =============================================================================
// Justification: these routes are the only way a standalone deployment
// issues punishments and learns about sessions; they run against the real
// punishment service so conflicts and removals behave as in production.

type WriteAPISuite struct {
	suite.Suite
	punishments *service.Service
	resolver    *fakeResolver
	gatekeeper  *fakeGatekeeper
	sessions    *adapters.SessionRegistry
	signer      *auth.HMAC
	token       string
	router      http.Handler
	now         time.Time

	alice   uuid.UUID
	aliceIP netip.Addr
}

func TestWriteAPISuite(t *testing.T) {
	suite.Run(t, new(WriteAPISuite))
}

func (s *WriteAPISuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.alice = uuid.MustParse("0b3c2a6e-8f4d-4e21-9a55-3c1f2d7e9b10")
	s.aliceIP = netip.MustParseAddr("203.0.113.7")
	clock := func() time.Time { return s.now }

	gw, tables := storagetest.NewSQLite(s.T())
	rows, err := store.NewSQL(gw, tables)
	s.Require().NoError(err)
	s.punishments, err = service.New(rows, events.NewGate(), service.WithClock(clock))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = s.punishments.Close(context.Background()) })

	s.resolver = &fakeResolver{identities: map[uuid.UUID]resolvermodels.Identity{
		s.alice: {ID: s.alice, Name: "Alice", Addresses: []netip.Addr{s.aliceIP}},
	}}
	s.gatekeeper = &fakeGatekeeper{bans: map[uuid.UUID]string{}, mutes: map[uuid.UUID]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sessions = adapters.NewSessionRegistry(logger)

	s.signer, err = auth.NewHMAC("test-signing-key")
	s.Require().NoError(err)
	s.token, err = s.signer.IssueToken("console", time.Hour)
	s.Require().NoError(err)

	h, err := NewHandler(s.punishments, s.resolver, logger,
		WithPunishmentWriter(s.punishments),
		WithSessions(s.gatekeeper, s.sessions),
		WithClock(clock),
	)
	s.Require().NoError(err)
	s.router = NewRouter(h, WithLogger(logger), WithAuth(s.signer), WithGatherer(prometheus.NewRegistry()))
}

func (s *WriteAPISuite) post(t *testing.T, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, path, token, body))
}

// =============================================================================
// Issuing punishments
// =============================================================================

func (s *WriteAPISuite) TestPunish() {
	t := s.T()
	ctx := context.Background()

	testutil.When(t, "banning a player by identifier", func(t *testing.T) {
		rr := s.post(t, "/v1/punishments", s.token, `{"type":"ban","subject":"`+s.alice.String()+`","reason":"griefing"}`)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		body := testutil.UnmarshalResponse[punishmentResponse](t, rr)
		assert.Equal(t, models.TypeBan, body.Type)
		assert.True(t, body.Permanent)
		assert.Equal(t, "[subject:cons]", body.Operator)
		assert.True(t, s.punishments.IsBanned(ctx, domain.Player(s.alice)))

		testutil.Then(t, "a second ban conflicts", func(t *testing.T) {
			rr := s.post(t, "/v1/punishments", s.token, `{"type":"ban","subject":"`+s.alice.String()+`"}`)
			testutil.AssertErrorCode(t, rr, http.StatusConflict, string(dErrors.CodeConflict))
		})
	})

	testutil.When(t, "muting by player name", func(t *testing.T) {
		rr := s.post(t, "/v1/punishments", s.token, `{"type":"mute","subject":"Alice","duration":"1h"}`)
		testutil.AssertStatus(t, rr, http.StatusCreated)
		body := testutil.UnmarshalResponse[punishmentResponse](t, rr)
		assert.Equal(t, domain.Player(s.alice).String(), body.Subject)
		require.NotNil(t, body.Expiration)
		assert.True(t, s.now.Add(time.Hour).Equal(*body.Expiration))
		assert.Equal(t, []bool{true}, s.resolver.external, "names may be resolved externally")
	})

	testutil.When(t, "the name is unknown", func(t *testing.T) {
		rr := s.post(t, "/v1/punishments", s.token, `{"type":"warn","subject":"Nobody"}`)
		testutil.AssertErrorCode(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	testutil.When(t, "the body is invalid", func(t *testing.T) {
		for _, body := range []string{
			`{"type":"jail","subject":"console"}`,
			`{"type":"mute","subject":"203.0.113.7","duration":"forever"}`,
			`{"type":"mute","subject":""}`,
		} {
			rr := s.post(t, "/v1/punishments", s.token, body)
			testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
		}
		rr := s.post(t, "/v1/punishments", s.token, `not json`)
		testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *WriteAPISuite) TestPunish_OperatorFromToken() {
	t := s.T()
	token, err := s.signer.IssueToken(s.alice.String(), time.Hour)
	require.NoError(t, err)

	rr := s.post(t, "/v1/punishments", token, `{"type":"kick","subject":"`+s.aliceIP.String()+`","reason":"afk"}`)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	body := testutil.UnmarshalResponse[punishmentResponse](t, rr)
	assert.Equal(t, domain.Player(s.alice).String(), body.Operator)
	assert.Equal(t, domain.Address(s.aliceIP).String(), body.Subject)

	token, err = s.signer.IssueToken("alice", time.Hour)
	require.NoError(t, err)
	rr = s.post(t, "/v1/punishments", token, `{"type":"kick","subject":"console"}`)
	testutil.AssertErrorCode(t, rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
}

// =============================================================================
// Lifting punishments
// =============================================================================

func (s *WriteAPISuite) TestPardon() {
	t := s.T()
	ctx := context.Background()
	ban := models.New(models.TypeBan, domain.Address(s.aliceIP), domain.Console(), "alts", s.now, 0)
	task, err := s.punishments.Add(ctx, ban)
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))

	path := "/v1/subjects/" + url.PathEscape(domain.Address(s.aliceIP).String()) + "/active/ban"
	rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodDelete, path, s.token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "alts", testutil.UnmarshalResponse[punishmentResponse](t, rr).Reason)
	assert.False(t, s.punishments.IsBanned(ctx, domain.Address(s.aliceIP)))

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodDelete, path, s.token))
	testutil.AssertErrorCode(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))

	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodDelete, "/v1/subjects/console/active/jail", s.token))
	testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
}

// =============================================================================
// Host sessions
// =============================================================================

func (s *WriteAPISuite) TestSessions() {
	t := s.T()
	ctx := context.Background()
	join := `{"id":"` + s.alice.String() + `","name":"Alice","address":"::ffff:203.0.113.7"}`

	testutil.Given(t, "a banned player", func(t *testing.T) {
		s.gatekeeper.bans[s.alice] = "Banned: griefing (permanent)"
		rr := s.post(t, "/v1/sessions", s.token, join)
		testutil.AssertStatus(t, rr, http.StatusOK)
		got := testutil.UnmarshalResponse[decisionResponse](t, rr)
		assert.Equal(t, decisionResponse{Allowed: false, Message: "Banned: griefing (permanent)"}, got)
		_, online := s.sessions.Session(ctx, s.alice)
		assert.False(t, online)
		delete(s.gatekeeper.bans, s.alice)
	})

	testutil.Given(t, "an allowed login", func(t *testing.T) {
		rr := s.post(t, "/v1/sessions", s.token, join)
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.True(t, testutil.UnmarshalResponse[decisionResponse](t, rr).Allowed)
		session, online := s.sessions.Session(ctx, s.alice)
		require.True(t, online)
		assert.Equal(t, s.aliceIP, session.Address)

		testutil.Then(t, "chat is checked against the tracked address", func(t *testing.T) {
			s.gatekeeper.mutes[s.alice] = "Muted: spam (permanent)"
			rr := s.post(t, "/v1/sessions/"+s.alice.String()+"/chat", s.token, `{"command":" msg bob hi "}`)
			testutil.AssertStatus(t, rr, http.StatusOK)
			assert.False(t, testutil.UnmarshalResponse[decisionResponse](t, rr).Allowed)
			require.NotEmpty(t, s.gatekeeper.chats)
			assert.Equal(t, chatCheck{id: s.alice, addr: s.aliceIP, command: "msg bob hi"}, s.gatekeeper.chats[len(s.gatekeeper.chats)-1])
		})

		testutil.And(t, "leaving stops tracking", func(t *testing.T) {
			rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodDelete, "/v1/sessions/"+s.alice.String(), s.token))
			testutil.AssertStatus(t, rr, http.StatusNoContent)
			_, online := s.sessions.Session(ctx, s.alice)
			assert.False(t, online)

			rr = s.post(t, "/v1/sessions/"+s.alice.String()+"/chat", s.token, `{}`)
			testutil.AssertErrorCode(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
		})
	})

	testutil.When(t, "the session id is malformed", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodDelete, "/v1/sessions/alice", s.token))
		testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
		rr = s.post(t, "/v1/sessions", s.token, `{"id":"alice","name":"Alice","address":"203.0.113.7"}`)
		testutil.AssertErrorCode(t, rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	assert.Equal(t, []uuid.UUID{s.alice, s.alice}, s.gatekeeper.logins)
}

func (s *WriteAPISuite) TestWriteRoutesNeedAToken() {
	rr := s.post(s.T(), "/v1/punishments", "", `{"type":"ban","subject":"console"}`)
	testutil.AssertErrorCode(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	rr = s.post(s.T(), "/v1/sessions", "", `{}`)
	testutil.AssertErrorCode(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func TestNewHandler_ReadOnlyWithoutWriters(t *testing.T) {
	h, err := NewHandler(&fakePunishments{}, &fakeResolver{}, nil)
	require.NoError(t, err)
	router := NewRouter(h, WithGatherer(prometheus.NewRegistry()))

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/punishments", "", `{}`))
	testutil.AssertStatus(t, rr, http.StatusMethodNotAllowed)
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/sessions", "", `{}`))
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	_, err = NewHandler(&fakePunishments{}, &fakeResolver{}, nil, WithSessions(&fakeGatekeeper{}, nil))
	assert.ErrorContains(t, err, "both a gatekeeper and a session tracker")
}
