//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/biblioteca-yeak8/apiserver/config"
	"github.com/biblioteca-yeak8/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestLoanLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()
	librarianHandle := fmt.Sprintf("lib_%d", suffix)
	studentHandle := fmt.Sprintf("stu_%d", suffix)
	password := "testpass123!"

	if err := registerUser(t, baseURL, librarianHandle, password); err != nil {
		t.Fatalf("register librarian: %v", err)
	}
	if err := setUserRole(librarianHandle, "librarian"); err != nil {
		t.Fatalf("promote librarian: %v", err)
	}
	librarianToken, err := login(t, baseURL, librarianHandle, password)
	if err != nil {
		t.Fatalf("login librarian: %v", err)
	}

	if err := registerUser(t, baseURL, studentHandle, password); err != nil {
		t.Fatalf("register student: %v", err)
	}
	studentToken, err := login(t, baseURL, studentHandle, password)
	if err != nil {
		t.Fatalf("login student: %v", err)
	}

	bookTitle := fmt.Sprintf("Dune %d", suffix)
	book, err := registerBook(t, baseURL, librarianToken, bookTitle, 1)
	if err != nil {
		t.Fatalf("register book: %v", err)
	}
	if book.Status != "available" {
		t.Fatalf("expected fresh book to be available, got %q", book.Status)
	}

	loan, err := createLoan(t, baseURL, studentToken, studentHandle, book.ID)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if loan.State != "active" {
		t.Fatalf("unexpected loan state: %q", loan.State)
	}

	fetched, err := getBook(t, baseURL, book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if fetched.CopiesAvailable != 0 || fetched.Status != "unavailable" {
		t.Fatalf("expected book out of stock after loan, got %d copies (%s)", fetched.CopiesAvailable, fetched.Status)
	}

	// The single copy is out; another loan attempt must conflict.
	if _, err := createLoan(t, baseURL, studentToken, studentHandle, book.ID); err == nil {
		t.Fatalf("expected second loan to be rejected")
	}

	// Students cannot process returns.
	if err := returnLoan(t, baseURL, studentToken, loan.ID); err == nil {
		t.Fatalf("expected student return to be rejected")
	}

	if err := returnLoan(t, baseURL, librarianToken, loan.ID); err != nil {
		t.Fatalf("return loan: %v", err)
	}

	// Returning the same loan twice must fail without touching stock again.
	if err := returnLoan(t, baseURL, librarianToken, loan.ID); err == nil {
		t.Fatalf("expected duplicate return to be rejected")
	}

	fetched, err = getBook(t, baseURL, book.ID)
	if err != nil {
		t.Fatalf("get book after return: %v", err)
	}
	if fetched.CopiesAvailable != 1 || fetched.Status != "available" {
		t.Fatalf("expected stock restored after return, got %d copies (%s)", fetched.CopiesAvailable, fetched.Status)
	}
}

func TestConcurrentLoansForLastCopy(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()
	password := "testpass123!"

	librarianHandle := fmt.Sprintf("race_lib_%d", suffix)
	if err := registerUser(t, baseURL, librarianHandle, password); err != nil {
		t.Fatalf("register librarian: %v", err)
	}
	if err := setUserRole(librarianHandle, "librarian"); err != nil {
		t.Fatalf("promote librarian: %v", err)
	}
	librarianToken, err := login(t, baseURL, librarianHandle, password)
	if err != nil {
		t.Fatalf("login librarian: %v", err)
	}

	handles := []string{
		fmt.Sprintf("race_a_%d", suffix),
		fmt.Sprintf("race_b_%d", suffix),
	}
	tokens := make([]string, len(handles))
	for i, handle := range handles {
		if err := registerUser(t, baseURL, handle, password); err != nil {
			t.Fatalf("register %s: %v", handle, err)
		}
		token, err := login(t, baseURL, handle, password)
		if err != nil {
			t.Fatalf("login %s: %v", handle, err)
		}
		tokens[i] = token
	}

	book, err := registerBook(t, baseURL, librarianToken, fmt.Sprintf("Last Copy %d", suffix), 1)
	if err != nil {
		t.Fatalf("register book: %v", err)
	}

	// Two borrowers race for the single copy. The row lock in the loan
	// transaction must let exactly one through.
	statuses := make(chan int, len(handles))
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(handle, token string) {
			defer wg.Done()
			status, err := createLoanStatus(baseURL, token, handle, book.ID)
			if err != nil {
				t.Errorf("create loan for %s: %v", handle, err)
				return
			}
			statuses <- status
		}(handles[i], tokens[i])
	}
	wg.Wait()
	close(statuses)

	var created, conflicted int
	for status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		default:
			t.Fatalf("unexpected loan status %d", status)
		}
	}
	if created != 1 || conflicted != 1 {
		t.Fatalf("expected exactly one created and one conflicted loan, got %d/%d", created, conflicted)
	}

	fetched, err := getBook(t, baseURL, book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if fetched.CopiesAvailable != 0 {
		t.Fatalf("expected zero copies after the race, got %d", fetched.CopiesAvailable)
	}
}

func TestLoginLockout(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	handle := fmt.Sprintf("lock_%d", time.Now().UnixNano())
	password := "testpass123!"

	if err := registerUser(t, baseURL, handle, password); err != nil {
		t.Fatalf("register user: %v", err)
	}

	for i := 0; i < 2; i++ {
		status, err := loginStatus(t, baseURL, handle, "wrong-password")
		if err != nil {
			t.Fatalf("login attempt %d: %v", i+1, err)
		}
		if status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, status)
		}
	}

	status, err := loginStatus(t, baseURL, handle, "wrong-password")
	if err != nil {
		t.Fatalf("locking attempt: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 on the locking attempt, got %d", status)
	}

	// The correct password is refused while the lockout holds.
	status, err = loginStatus(t, baseURL, handle, password)
	if err != nil {
		t.Fatalf("locked login: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 while locked, got %d", status)
	}
}

type bookResponse struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	CopiesAvailable int    `json:"copies_available"`
	Status          string `json:"status"`
}

type loanResponse struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func registerUser(t *testing.T, baseURL, handle, password string) error {
	t.Helper()

	payload := map[string]string{
		"handle":   handle,
		"contact":  fmt.Sprintf("%s@example.com", handle),
		"password": password,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := http.Post(baseURL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func login(t *testing.T, baseURL, handle, password string) (string, error) {
	t.Helper()

	payload := map[string]string{"handle": handle, "password": password}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("missing token in login response")
	}
	return parsed.Token, nil
}

func loginStatus(t *testing.T, baseURL, handle, password string) (int, error) {
	t.Helper()

	payload := map[string]string{"handle": handle, "password": password}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func setUserRole(handle, role string) error {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", buildPostgresURL(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, "UPDATE users SET role = $1, updated_at = NOW() WHERE handle = $2", role, handle)
	return err
}

func registerBook(t *testing.T, baseURL, token, title string, copies int) (bookResponse, error) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("title", title)
	_ = writer.WriteField("author", "Frank Herbert")
	_ = writer.WriteField("category", "Novela")
	_ = writer.WriteField("year", "1965")
	_ = writer.WriteField("kind", "physical")
	_ = writer.WriteField("copies", fmt.Sprintf("%d", copies))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="coverImage"; filename="cover.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return bookResponse{}, err
	}
	if _, err := part.Write([]byte("fake-png-bytes")); err != nil {
		return bookResponse{}, err
	}
	if err := writer.Close(); err != nil {
		return bookResponse{}, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/books", &body)
	if err != nil {
		return bookResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return bookResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return bookResponse{}, fmt.Errorf("register book status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed bookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return bookResponse{}, err
	}
	return parsed, nil
}

func getBook(t *testing.T, baseURL string, id int) (bookResponse, error) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/books/%d", baseURL, id))
	if err != nil {
		return bookResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return bookResponse{}, fmt.Errorf("get book status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed bookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return bookResponse{}, err
	}
	return parsed, nil
}

func loanRequest(baseURL, token, handle string, bookID int) (*http.Response, error) {
	dueDate := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	payload := map[string]any{
		"handle":   handle,
		"book_id":  bookID,
		"due_date": dueDate,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/loans", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

func createLoanStatus(baseURL, token, handle string, bookID int) (int, error) {
	resp, err := loanRequest(baseURL, token, handle, bookID)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func createLoan(t *testing.T, baseURL, token, handle string, bookID int) (loanResponse, error) {
	t.Helper()

	resp, err := loanRequest(baseURL, token, handle, bookID)
	if err != nil {
		return loanResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return loanResponse{}, fmt.Errorf("create loan status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed loanResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return loanResponse{}, err
	}
	return parsed, nil
}

func returnLoan(t *testing.T, baseURL, token string, loanID int) error {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/loans/%d/return", baseURL, loanID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("return loan status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", buildPostgresURL(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	dsn := buildPostgresURL(cfg)
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func buildPostgresURL(cfg config.Config) string {
	sslmode := "disable"
	if cfg.Database.UseSSL {
		sslmode = "require"
	}
	host := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		host,
		cfg.Database.DBName,
		sslmode,
	)
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "biblioteca")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "biblioteca_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "biblioteca-uploads")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
