// Package domjudge is a client for the DOMjudge v4 REST API. It implements
// sim.SubmissionAPI and sim.ContestStatusAPI and the admin calls the
// simulator needs to prepare a contest and collect its results.
package domjudge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/joeMo942/domjudge-simulator/sim"
)

// Config holds the connection settings.
type Config struct {
	BaseURL      string // e.g. http://localhost:12345/api/v4
	ContestID    string
	AdminUser    string
	AdminPass    string
	TeamPassword string // shared password of the team accounts used for submitting

	Timeout           time.Duration // per HTTP request; 0 = 30s
	RequestsPerSecond float64       // admin call rate limit; 0 = unlimited
}

// Client talks to one contest on one DOMjudge server. Safe for concurrent use.
type Client struct {
	baseURL      string
	contestID    string
	adminUser    string
	adminPass    string
	teamPassword string
	httpClient   *http.Client
	adminLimiter *rate.Limiter
}

var (
	_ sim.SubmissionAPI    = (*Client)(nil)
	_ sim.ContestStatusAPI = (*Client)(nil)
)

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("domjudge: base URL must not be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("domjudge: invalid base URL: %w", err)
	}
	if cfg.ContestID == "" {
		return nil, fmt.Errorf("domjudge: contest id must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		contestID:    cfg.ContestID,
		adminUser:    cfg.AdminUser,
		adminPass:    cfg.AdminPass,
		teamPassword: cfg.TeamPassword,
		httpClient:   &http.Client{Timeout: timeout},
		adminLimiter: rate.NewLimiter(limit, 1),
	}, nil
}

// ContestID returns the contest this client is bound to.
func (c *Client) ContestID() string {
	return c.contestID
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(body))
}

// Retryable reports whether repeating the request can succeed: server
// errors, request timeouts and rate limiting.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// AlreadyExists reports whether err says the resource exists already.
// DOMjudge answers duplicates with 409, or 400/422 mentioning the conflict.
func AlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusConflict {
		return true
	}
	if apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity {
		body := strings.ToLower(apiErr.Body)
		return strings.Contains(body, "already exist") || strings.Contains(body, "already in use") || strings.Contains(body, "duplicate")
	}
	return false
}

type credentials struct {
	user, pass string
}

func (c *Client) admin() credentials {
	return credentials{c.adminUser, c.adminPass}
}

// do sends one request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, auth credentials, contentType string, body io.Reader, out any) error {
	raw, err := c.doRaw(ctx, method, path, auth, contentType, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, auth credentials, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth.user != "" {
		req.SetBasicAuth(auth.user, auth.pass)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	logrus.Debugf("%s %s -> %d in %v", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// adminDo is do with admin credentials, throttled by the admin rate limit.
func (c *Client) adminDo(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	if err := c.adminLimiter.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, c.admin(), contentType, body, out)
}

func (c *Client) contestPath(suffix string) string {
	return "/contests/" + url.PathEscape(c.contestID) + suffix
}

// Contest fetches the contest resource.
func (c *Client) Contest(ctx context.Context) (*Contest, error) {
	var contest Contest
	if err := c.adminDo(ctx, http.MethodGet, c.contestPath(""), "", nil, &contest); err != nil {
		return nil, err
	}
	return &contest, nil
}

// GetContest implements sim.ContestStatusAPI.
func (c *Client) GetContest(ctx context.Context) (sim.ContestStatus, error) {
	contest, err := c.Contest(ctx)
	if err != nil {
		return sim.ContestStatus{}, err
	}
	return sim.ContestStatus{
		StartTime:      contest.StartTime,
		Duration:       time.Duration(contest.Duration),
		FreezeDuration: contest.FreezeDuration(),
	}, nil
}

// PatchStart (re)schedules the contest start, forcing it even if the
// contest has started before.
func (c *Client) PatchStart(ctx context.Context, at time.Time) error {
	form := url.Values{}
	form.Set("id", c.contestID)
	form.Set("start_time", at.Format(time.RFC3339))
	form.Set("force", "true")
	err := c.adminDo(ctx, http.MethodPatch, c.contestPath(""), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), nil)
	if err != nil {
		return fmt.Errorf("setting contest start time: %w", err)
	}
	logrus.Infof("Contest %s start time set to %s", c.contestID, at.Format(time.RFC3339))
	return nil
}

// Problems lists the contest's problems.
func (c *Client) Problems(ctx context.Context) ([]Problem, error) {
	var problems []Problem
	if err := c.adminDo(ctx, http.MethodGet, c.contestPath("/problems"), "", nil, &problems); err != nil {
		return nil, err
	}
	return problems, nil
}

// CreateTeam creates a team and returns the id the server assigned.
func (c *Client) CreateTeam(ctx context.Context, team Team) (string, error) {
	body, err := json.Marshal(team)
	if err != nil {
		return "", fmt.Errorf("encoding team: %w", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.adminDo(ctx, http.MethodPost, "/teams", "application/json", bytes.NewReader(body), &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		created.ID = team.ID
	}
	return created.ID, nil
}

// CreateUser creates a user account. List fields are sent as repeated
// "key[]" form parts, which is what the users endpoint expects.
func (c *Client) CreateUser(ctx context.Context, user User) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"username", user.Username},
		{"name", user.Name},
		{"password", user.Password},
		{"team_id", user.TeamID},
	}
	for _, role := range user.Roles {
		fields = append(fields, [2]string{"roles[]", role})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("encoding user: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	return c.adminDo(ctx, http.MethodPost, "/users", mw.FormDataContentType(), &buf, nil)
}

// AddTeamToContest attaches an existing team to the contest.
func (c *Client) AddTeamToContest(ctx context.Context, teamID string) error {
	body, err := json.Marshal([]string{teamID})
	if err != nil {
		return err
	}
	return c.adminDo(ctx, http.MethodPost, c.contestPath("/teams"), "application/json", bytes.NewReader(body), nil)
}

// Submit implements sim.SubmissionAPI. The request is authenticated as the
// team itself (team id as username) so the server attributes it correctly.
// Not rate limited: submissions must leave on schedule.
func (c *Client) Submit(ctx context.Context, req sim.SubmitRequest) (sim.SubmitResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("problem", req.ProblemID); err != nil {
		return sim.SubmitResult{}, err
	}
	if err := mw.WriteField("language", req.LanguageID); err != nil {
		return sim.SubmitResult{}, err
	}
	fw, err := mw.CreateFormFile("code", req.FileName)
	if err != nil {
		return sim.SubmitResult{}, err
	}
	if _, err := fw.Write(req.Content); err != nil {
		return sim.SubmitResult{}, err
	}
	if err := mw.Close(); err != nil {
		return sim.SubmitResult{}, err
	}

	var created struct {
		ID   string    `json:"id"`
		Time time.Time `json:"time"`
	}
	auth := credentials{req.TeamID, c.teamPassword}
	if err := c.do(ctx, http.MethodPost, c.contestPath("/submissions"), auth, mw.FormDataContentType(), &buf, &created); err != nil {
		return sim.SubmitResult{}, err
	}
	if created.Time.IsZero() {
		created.Time = time.Now()
	}
	return sim.SubmitResult{SubmissionID: created.ID, ServerTime: created.Time}, nil
}

// Scoreboard fetches the current scoreboard.
func (c *Client) Scoreboard(ctx context.Context) (*Scoreboard, error) {
	if err := c.adminLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.doRaw(ctx, http.MethodGet, c.contestPath("/scoreboard"), c.admin(), "", nil)
	if err != nil {
		return nil, err
	}
	sb := &Scoreboard{Raw: json.RawMessage(raw)}
	if err := json.Unmarshal(raw, sb); err != nil {
		return nil, fmt.Errorf("decoding scoreboard: %w", err)
	}
	return sb, nil
}

// Submissions lists every submission of the contest.
func (c *Client) Submissions(ctx context.Context) ([]Submission, error) {
	var subs []Submission
	if err := c.adminDo(ctx, http.MethodGet, c.contestPath("/submissions"), "", nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Judgements lists every judgement of the contest.
func (c *Client) Judgements(ctx context.Context) ([]Judgement, error) {
	var js []Judgement
	if err := c.adminDo(ctx, http.MethodGet, c.contestPath("/judgements"), "", nil, &js); err != nil {
		return nil, err
	}
	return js, nil
}
