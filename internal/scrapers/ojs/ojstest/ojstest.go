// Package ojstest provides an in-process fake OJS site for tests.
package ojstest

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	Username = "editor"
	Password = "hunter2"

	sessionCookie = "OJSSID"
)

type Options struct {
	// LoginPage replaces the default login page when not empty.
	LoginPage string
	// SubmissionIds are listed on the submissions page.
	SubmissionIds []string
	// MetaToken is served in the csrf-token meta tag after login, if empty
	// the token is only present as a csrfToken input.
	MetaToken  string
	InputToken string
	// UploadStatus is the status returned for uploads, zero means 200.
	UploadStatus int
	// NoUploadForm serves an upload page without any form.
	NoUploadForm bool
}

type Upload struct {
	SubmissionId string
	FileField    string
	FileName     string
	ContentType  string
	Size         int
	Fields       map[string]string
	CsrfHeader   string
	Path         string
}

type Site struct {
	*httptest.Server

	opts Options

	mu          sync.Mutex
	uploads     []Upload
	loginPosts  int
	lastLogin   map[string]string
	uploadCalls int
	generation  int
}

func NewSite(opts Options) *Site {
	if opts.UploadStatus == 0 {
		opts.UploadStatus = http.StatusOK
	}
	if opts.InputToken == "" {
		opts.InputToken = "input-token-0123456789abcdef"
	}

	s := &Site{opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/login/signIn", s.handleSignIn)
	mux.HandleFunc("/submissions", s.handleSubmissions)
	mux.HandleFunc("/submission/wizard/2", s.handleUploadPage)
	mux.HandleFunc("/submission/upload", s.handleUpload)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Site) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Site) LoginPosts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginPosts
}

func (s *Site) LastLogin() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLogin
}

func (s *Site) UploadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadCalls
}

// ExpireSessions invalidates every cookie handed out so far.
func (s *Site) ExpireSessions() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

func (s *Site) sessionValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("authenticated-%d", s.generation)
}

func (s *Site) loggedIn(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookie)
	return err == nil && cookie.Value == s.sessionValue()
}

func (s *Site) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.opts.LoginPage != "" {
		io.WriteString(w, s.opts.LoginPage)
		return
	}
	fmt.Fprintf(w, `<html><body>
<form class="pkp_form" id="login" method="post" action="/login/signIn">
	<input type="hidden" name="csrfToken" value="%s">
	<input type="hidden" name="source" value="">
	<input type="text" name="username" id="username" value="">
	<input type="password" name="password" id="password" value="">
	<button type="submit">Login</button>
</form>
</body></html>`, html.EscapeString(s.opts.InputToken))
}

func (s *Site) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.mu.Lock()
	s.loginPosts++
	s.lastLogin = form
	s.mu.Unlock()

	if form["username"] != Username || form["password"] != Password {
		http.Redirect(w, r, "/login?error=1", http.StatusFound)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: s.sessionValue(), Path: "/"})
	http.Redirect(w, r, "/submissions", http.StatusFound)
}

func (s *Site) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if !s.loggedIn(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	var page strings.Builder
	page.WriteString("<html><head>")
	if s.opts.MetaToken != "" {
		fmt.Fprintf(&page, `<meta name="csrf-token" content="%s">`, html.EscapeString(s.opts.MetaToken))
	}
	page.WriteString("</head><body>")
	fmt.Fprintf(&page, `<input type="hidden" name="csrfToken" value="%s">`, html.EscapeString(s.opts.InputToken))
	page.WriteString(`<div class="pkp_submission_list">`)
	for _, id := range s.opts.SubmissionIds {
		fmt.Fprintf(&page, `<div class="listPanel__item"><div class="pkp_submission_id">%s</div></div>`, html.EscapeString(id))
	}
	page.WriteString(`</div></body></html>`)
	io.WriteString(w, page.String())
}

func (s *Site) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	if !s.loggedIn(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if s.opts.NoUploadForm {
		io.WriteString(w, `<html><body><button class="pkpButton">Add File</button></body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><body>
<form method="post" enctype="multipart/form-data" action="/submission/upload">
	<input type="hidden" name="fileStage" value="2">
	<input type="file" name="uploadedFile">
</form>
<p>submission %s</p>
</body></html>`, html.EscapeString(r.URL.Query().Get("submissionId")))
}

func (s *Site) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.uploadCalls++
	s.mu.Unlock()

	if !s.loggedIn(r) {
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}
	err := r.ParseMultipartForm(1 << 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upload := Upload{
		SubmissionId: r.URL.Query().Get("submissionId"),
		Fields:       map[string]string{},
		CsrfHeader:   r.Header.Get("X-CSRF-Token"),
		Path:         r.URL.Path,
	}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			upload.Fields[k] = v[0]
		}
	}
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		upload.FileField = field
		upload.FileName = headers[0].Filename
		upload.ContentType = headers[0].Header.Get("Content-Type")
		upload.Size = int(headers[0].Size)
	}
	r.MultipartForm.RemoveAll()

	if s.opts.UploadStatus >= 400 {
		http.Error(w, "upload failed", s.opts.UploadStatus)
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, upload)
	s.mu.Unlock()
	w.WriteHeader(s.opts.UploadStatus)
	io.WriteString(w, `{"status":true}`)
}
