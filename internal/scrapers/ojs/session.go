package ojs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/components/telemetry"
	"ojsbot-backend/lib/htmlutil"
	"ojsbot-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("ojsbot.scrapers.ojs")

const (
	report_session_authenticate      = "session.authenticate"
	report_session_extract_token     = "session.extract-token"
	report_session_list_submissions  = "session.list-submissions"
	report_session_upload_unit       = "session.upload-unit"
	report_session_upload_form       = "session.upload-form"
	report_session_rate_limit        = "session.rate-limit"
	report_session_build_upload_body = "session.build-upload-body"
)

// Paths are the site paths relative to the host, they default to the ones
// used by OJS 3.
type Paths struct {
	Login       string `json:"login"`
	Submissions string `json:"submissions"`
	Upload      string `json:"upload"`
}

func (p Paths) withDefaults() Paths {
	if p.Login == "" {
		p.Login = "/login"
	}
	if p.Submissions == "" {
		p.Submissions = "/submissions"
	}
	if p.Upload == "" {
		p.Upload = "/submission/wizard/2"
	}
	return p
}

type SessionOptions struct {
	Host     string
	Username string
	Password string
	Paths    Paths

	// RateLimit is the maximum amount of requests per second, zero means 2.
	RateLimit rate.Limit
	// Timeout bounds every request, zero means 30 seconds.
	Timeout time.Duration

	Clock chrono.API
	Tel   telemetry.API
	// InstrumentOutput receives dumps of every http exchange, it may be nil.
	InstrumentOutput restyutil.InstrumentOutput
}

// UploadResult records one successful upload.
type UploadResult struct {
	FileName        string
	RemoteReference string
	SubmissionId    string
	Timestamp       time.Time
}

// Session is one browser-like session against an OJS site for a single
// credential pair. It is meant to be driven by one goroutine at a time,
// accessors are safe to call concurrently.
type Session struct {
	host     string
	hostUrl  *url.URL
	username string
	password string
	paths    Paths

	http  *resty.Client
	clock chrono.API
	tel   telemetry.API

	authMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	token         Token
	hasToken      bool
	logs          []string
	results       []UploadResult
}

var defaultHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "es-ES,es;q=0.9,en;q=0.8",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

func NewSession(opts SessionOptions) (*Session, error) {
	assert.NotNil(opts.Tel)
	assert.NotNil(opts.Clock)
	assert.NotEmptyStr(opts.Host)

	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	hostUrl, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	if hostUrl.Scheme == "" || hostUrl.Host == "" {
		return nil, fmt.Errorf("host %q is not an absolute url", opts.Host)
	}

	tel := telemetry.NewScopedAPI("ojs_scraper", opts.Tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeaders(defaultHeaders)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hostUrl.Hostname()))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	limit := opts.RateLimit
	if limit == 0 {
		limit = 2
	}
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(limit, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		err := rateLimiter.Wait(req.Context())
		if err != nil {
			tel.ReportWarning(report_session_rate_limit, err)
			return err
		}
		return nil
	})

	telemetry.InstrumentResty(client, tel)
	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	s := &Session{
		host:     host,
		hostUrl:  hostUrl,
		username: opts.Username,
		password: opts.Password,
		paths:    opts.Paths.withDefaults(),
		http:     client,
		clock:    opts.Clock,
		tel:      tel,
	}
	err = s.resetState()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Host() string {
	return s.host
}

func (s *Session) Username() string {
	return s.username
}

func (s *Session) endpoint(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.host + path
}

// resetState drops cookies and the token, so a new login starts from scratch.
func (s *Session) resetState() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	s.http.SetCookieJar(jar)
	s.http.Header.Del(tokenHeader)

	s.mu.Lock()
	s.authenticated = false
	s.token = Token{}
	s.hasToken = false
	s.mu.Unlock()
	return nil
}

// Log appends a timestamped line to the session's event log.
func (s *Session) Log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s", s.clock.Now().Format(time.TimeOnly), msg)

	s.mu.Lock()
	s.logs = append(s.logs, line)
	s.mu.Unlock()

	s.tel.ReportDebug(msg, "host", s.host, "user", s.username)
}

// Logs returns the last n log lines, n <= 0 returns all of them.
func (s *Session) Logs(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if n > 0 && len(s.logs) > n {
		start = len(s.logs) - n
	}
	out := make([]string, len(s.logs)-start)
	copy(out, s.logs[start:])
	return out
}

// Results returns the successful uploads in upload order.
func (s *Session) Results() []UploadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.hasToken
}

func (s *Session) get(ctx context.Context, target string, query map[string]string) (*resty.Response, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(target)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return res, &StatusError{Url: target, Status: res.StatusCode()}
	}
	return res, nil
}

// finalUrl is the url of the last request made after following redirects.
func finalUrl(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}

// landedOnLogin reports if the site redirected a request to the login page.
func (s *Session) landedOnLogin(res *resty.Response) bool {
	u, err := url.Parse(finalUrl(res))
	if err != nil {
		return false
	}
	login := strings.TrimRight(s.hostUrl.Path, "/") + "/" + strings.Trim(s.paths.Login, "/")
	return strings.TrimRight(u.Path, "/") == login
}

func (s *Session) expire() {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
}

// isPostLogin reports if a url is one OJS only shows to logged in users.
func isPostLogin(destination string) bool {
	return strings.Contains(destination, "submissions") ||
		strings.Contains(destination, "dashboard")
}

// Authenticate logs in with the session's credentials, it replaces any
// previous cookies and token. It returns ErrAuthFormNotFound when the login
// page cannot be understood and ErrAuthRejected when the site does not
// redirect to a post-login page.
func (s *Session) Authenticate(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	ctx, span := tracer.Start(ctx, "session:Authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("host", s.host))

	loginError := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ojs scraper: login failed: %w", err)
	}

	err := s.resetState()
	if err != nil {
		return loginError(err)
	}

	loginUrl := s.endpoint(s.paths.Login)
	s.Log("opening login page %s", loginUrl)
	res, err := s.get(ctx, loginUrl, nil)
	if err != nil {
		s.tel.ReportBroken(report_session_authenticate, fmt.Errorf("login page request: %w", err))
		s.Log("login page request failed: %v", err)
		return loginError(err)
	}
	doc, err := ParseHtml(res.Body())
	if err != nil {
		s.tel.ReportBroken(report_session_authenticate, fmt.Errorf("parse login page: %w", err))
		return loginError(err)
	}

	form, ok := FindLoginForm(doc)
	if !ok {
		s.tel.ReportBroken(report_session_authenticate, ErrAuthFormNotFound, loginUrl)
		s.Log("login form not found")
		return loginError(ErrAuthFormNotFound)
	}

	data := map[string]string{}
	for name, value := range form.Fields {
		data[name] = value
	}
	data[form.UsernameField] = s.username
	data[form.PasswordField] = s.password

	action := loginUrl
	if form.Action != "" {
		action = htmlutil.ResolveUrl(s.hostUrl, form.Action)
	}
	s.Log("submitting login to %s", action)

	res, err = s.http.R().
		SetContext(ctx).
		SetFormData(data).
		Post(action)
	if err != nil {
		s.tel.ReportBroken(report_session_authenticate, fmt.Errorf("submit login: %w", err))
		s.Log("login request failed: %v", err)
		return loginError(err)
	}
	if res.IsError() {
		err = &StatusError{Url: action, Status: res.StatusCode()}
		s.Log("login request failed: %v", err)
		return loginError(err)
	}

	destination := finalUrl(res)
	if !isPostLogin(destination) {
		s.tel.ReportWarning(report_session_authenticate, ErrAuthRejected, destination)
		s.Log("login rejected, landed on %s", destination)
		return loginError(ErrAuthRejected)
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	s.Log("login succeeded")

	s.storeToken(res.Body())
	return nil
}

func (s *Session) storeToken(body []byte) {
	doc, err := ParseHtml(body)
	if err != nil {
		s.tel.ReportWarning(report_session_extract_token, fmt.Errorf("parse post-login page: %w", err))
		return
	}
	token, ok := ExtractToken(doc)
	if !ok {
		s.tel.ReportWarning(report_session_extract_token, "no csrf token on post-login page")
		s.Log("no csrf token found")
		return
	}

	s.mu.Lock()
	s.token = token
	s.hasToken = true
	s.mu.Unlock()

	if token.Source == TokenFromMeta {
		s.http.SetHeader(tokenHeader, token.Value)
	}
	s.Log("csrf token found (%s): %s...", token.Source, truncate(token.Value, 20))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ListSubmissions returns the submission ids present on the listing page.
func (s *Session) ListSubmissions(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "session:ListSubmissions")
	defer span.End()

	listingUrl := s.endpoint(s.paths.Submissions)
	s.Log("opening submissions %s", listingUrl)
	res, err := s.get(ctx, listingUrl, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch submissions")
		s.tel.ReportBroken(report_session_list_submissions, err)
		return nil, err
	}
	doc, err := ParseHtml(res.Body())
	if err != nil {
		s.tel.ReportBroken(report_session_list_submissions, fmt.Errorf("parse listing: %w", err))
		return nil, err
	}

	ids := FindSubmissionIds(doc)
	s.Log("found %d submissions", len(ids))
	return ids, nil
}

// ResolveSubmission returns the first submission id on the listing page or
// ErrNoSubmissionTarget if there are none.
func (s *Session) ResolveSubmission(ctx context.Context) (string, error) {
	ids, err := s.ListSubmissions(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSubmissionTarget, err)
	}
	if len(ids) == 0 {
		s.Log("no submissions found")
		return "", ErrNoSubmissionTarget
	}
	s.Log("using submission %s", ids[0])
	return ids[0], nil
}

// RemoteReference is where an uploaded file can be found on the site.
func (s *Session) RemoteReference(submissionId string) string {
	return fmt.Sprintf("%s/submission/%s#files", s.host, submissionId)
}

// the system mime table is not guaranteed to know these
var knownMimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".zip":  "application/zip",
	".rar":  "application/vnd.rar",
	".txt":  "text/plain",
}

func guessMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mimeType, ok := knownMimeTypes[ext]; ok {
		return mimeType
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

// writeUploadBody streams the form fields followed by the file into w.
func writeUploadBody(w *multipart.Writer, fields map[string]string, fileField, fileName, path string) error {
	for name, value := range fields {
		err := w.WriteField(name, value)
		if err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set(
		"Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(fileField), escapeQuotes(fileName)),
	)
	header.Set("Content-Type", guessMimeType(fileName))
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(part, f)
	if err != nil {
		return err
	}
	return w.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// UploadUnit attaches the file at path to the submission, the file is sent
// under fileName. The upload page is fetched first to refresh the form
// context and discover the form target.
func (s *Session) UploadUnit(ctx context.Context, submissionId, path, fileName string) (UploadResult, error) {
	ctx, span := tracer.Start(ctx, "session:UploadUnit")
	defer span.End()
	span.SetAttributes(
		attribute.String("submission_id", submissionId),
		attribute.String("file", fileName),
	)

	uploadError := func(err error) (UploadResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Log("upload of %s failed: %v", fileName, err)
		return UploadResult{}, err
	}

	if !s.Authenticated() {
		return uploadError(ErrNotAuthenticated)
	}

	query := map[string]string{"submissionId": submissionId}
	uploadPage := s.endpoint(s.paths.Upload)
	s.Log("preparing upload to submission %s", submissionId)

	res, err := s.get(ctx, uploadPage, query)
	if err != nil {
		s.tel.ReportBroken(report_session_upload_unit, fmt.Errorf("upload page request: %w", err))
		return uploadError(err)
	}
	if s.landedOnLogin(res) {
		s.expire()
		s.tel.ReportWarning(report_session_upload_unit, ErrSessionExpired, uploadPage)
		return uploadError(ErrSessionExpired)
	}
	doc, err := ParseHtml(res.Body())
	if err != nil {
		s.tel.ReportBroken(report_session_upload_unit, fmt.Errorf("parse upload page: %w", err))
		return uploadError(err)
	}

	form, ok := FindUploadForm(doc)
	if !ok {
		s.tel.ReportWarning(report_session_upload_form, "upload form not found, posting to the upload page", uploadPage)
		s.Log("upload form not found, posting to the upload page")
		form = FormDescriptor{Fields: map[string]string{}, FileField: defaultFileField}
	}

	target := uploadPage
	if form.Action != "" {
		target = htmlutil.ResolveUrl(s.hostUrl, form.Action)
	}

	fields := map[string]string{}
	for name, value := range form.Fields {
		fields[name] = value
	}
	fields["submissionId"] = submissionId
	token, hasToken := s.Token()
	if hasToken && token.Source == TokenFromInput {
		fields[tokenInputName] = token.Value
	}

	info, err := os.Stat(path)
	if err != nil {
		return uploadError(err)
	}
	s.Log("uploading %s (%d bytes) to %s", fileName, info.Size(), target)

	pr, pw := io.Pipe()
	defer pr.Close()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeUploadBody(writer, fields, form.FileField, fileName, path)
		if err != nil {
			s.tel.ReportBroken(report_session_build_upload_body, err)
		}
		pw.CloseWithError(err)
	}()

	res, err = s.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeader("Content-Type", writer.FormDataContentType()).
		SetBody(pr).
		Post(target)
	if err != nil {
		s.tel.ReportBroken(report_session_upload_unit, fmt.Errorf("post unit: %w", err))
		return uploadError(err)
	}
	if !res.IsSuccess() {
		return uploadError(&StatusError{Url: target, Status: res.StatusCode()})
	}
	if s.landedOnLogin(res) {
		s.expire()
		s.tel.ReportWarning(report_session_upload_unit, ErrSessionExpired, target)
		return uploadError(ErrSessionExpired)
	}

	result := UploadResult{
		FileName:        fileName,
		RemoteReference: s.RemoteReference(submissionId),
		SubmissionId:    submissionId,
		Timestamp:       s.clock.Now(),
	}
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
	s.Log("uploaded %s", fileName)

	return result, nil
}
