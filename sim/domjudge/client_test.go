package domjudge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeMo942/domjudge-simulator/sim"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL:      srv.URL + "/api/v4/",
		ContestID:    "demo",
		AdminUser:    "admin",
		AdminPass:    "secret",
		TeamPassword: "teampw",
		Timeout:      2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestParseRelTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5:00:00.000", 5 * time.Hour, false},
		{"1:30:15", time.Hour + 30*time.Minute + 15*time.Second, false},
		{"0:00:01.250", 1250 * time.Millisecond, false},
		{"-0:15:00.000", -15 * time.Minute, false},
		{"12:00", 0, true},
		{"1:75:00", 0, true},
		{"x:00:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRelTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "5:00:00.000", FormatRelTime(5*time.Hour))
	assert.Equal(t, "-0:15:00.500", FormatRelTime(-(15*time.Minute + 500*time.Millisecond)))
}

func TestClient_GetContest_ParsesWindow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/contests/demo", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		_, _ = io.WriteString(w, `{"id":"demo","name":"Demo","start_time":"2026-03-01T09:00:00+00:00",
			"end_time":"2026-03-01T14:00:00+00:00","duration":"5:00:00.000","scoreboard_freeze_duration":"1:00:00.000"}`)
	}))

	st, err := c.GetContest(context.Background())

	require.NoError(t, err)
	require.NotNil(t, st.StartTime)
	assert.True(t, st.StartTime.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5*time.Hour, st.Duration)
	assert.Equal(t, time.Hour, st.FreezeDuration)
}

func TestClient_GetContest_NotStarted(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"demo","start_time":null,"duration":"2:00:00.000","scoreboard_freeze_duration":null}`)
	}))

	st, err := c.GetContest(context.Background())

	require.NoError(t, err)
	assert.Nil(t, st.StartTime)
	assert.Zero(t, st.FreezeDuration)
}

func TestClient_PatchStart_SendsForcedStart(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 15, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "demo", r.PostForm.Get("id"))
		assert.Equal(t, "2026-03-01T09:00:15Z", r.PostForm.Get("start_time"))
		assert.Equal(t, "true", r.PostForm.Get("force"))
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, c.PatchStart(context.Background(), at))
}

func TestClient_Submit_AuthenticatesAsTeam(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/contests/demo/submissions", r.URL.Path)
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "team007", user)
		assert.Equal(t, "teampw", pass)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "A", r.FormValue("problem"))
		assert.Equal(t, "cpp", r.FormValue("language"))
		f, hdr, err := r.FormFile("code")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "ac.cpp", hdr.Filename)
		assert.Equal(t, "int main(){}", string(body))

		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":"1234","time":"2026-03-01T09:10:00.000+00:00"}`)
	}))

	res, err := c.Submit(context.Background(), sim.SubmitRequest{
		TeamID: "team007", ProblemID: "A", LanguageID: "cpp", FileName: "ac.cpp", Content: []byte("int main(){}"),
	})

	require.NoError(t, err)
	assert.Equal(t, "1234", res.SubmissionID)
	assert.True(t, res.ServerTime.Equal(time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC)))
}

func TestClient_APIError_Retryability(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.Submit(context.Background(), sim.SubmitRequest{TeamID: "t", ProblemID: "A", LanguageID: "cpp", FileName: "a.cpp"})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, sim.IsRetryable(err))
		})
	}
}

func TestClient_CreateUser_SendsRolesArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "team001", r.FormValue("username"))
		assert.Equal(t, "team001", r.FormValue("team_id"))
		assert.Equal(t, []string{"team"}, r.MultipartForm.Value["roles[]"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"17"}`)
	}))

	err := c.CreateUser(context.Background(), User{Username: "team001", Name: "Ada", Password: "pw", TeamID: "team001", Roles: []string{"team"}})
	assert.NoError(t, err)
}

func TestClient_CreateTeam_And_AlreadyExists(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var team Team
		require.NoError(t, json.NewDecoder(r.Body).Decode(&team))
		if calls > 1 {
			http.Error(w, `{"message":"Team with ID team001 already exists"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"`+team.ID+`"}`)
	}))

	id, err := c.CreateTeam(context.Background(), Team{ID: "team001", Name: "Red Pandas"})
	require.NoError(t, err)
	assert.Equal(t, "team001", id)

	_, err = c.CreateTeam(context.Background(), Team{ID: "team001", Name: "Red Pandas"})
	assert.True(t, AlreadyExists(err))
	assert.False(t, AlreadyExists(&APIError{StatusCode: http.StatusBadRequest, Body: "invalid name"}))
}

func TestClient_Scoreboard_KeepsRawDocument(t *testing.T) {
	doc := `{"event_id":"9","rows":[{"rank":1,"team_id":"3","score":{"num_solved":2,"total_time":80}},{"rank":2,"team_id":"5","score":{"num_solved":1,"total_time":20}}]}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, doc)
	}))

	sb, err := c.Scoreboard(context.Background())

	require.NoError(t, err)
	assert.JSONEq(t, doc, string(sb.Raw))
	assert.Equal(t, []string{"3", "5"}, sb.TeamIDs())
	assert.Equal(t, 2, sb.Rows[0].Score.NumSolved)
}

func TestClient_Judgements_PendingVerdict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"1","submission_id":"10","judgement_type_id":"AC"},{"id":"2","submission_id":"11","judgement_type_id":null}]`)
	}))

	js, err := c.Judgements(context.Background())

	require.NoError(t, err)
	require.Len(t, js, 2)
	assert.Equal(t, "AC", js[0].Verdict())
	assert.Equal(t, "pending", js[1].Verdict())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{ContestID: "x"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
