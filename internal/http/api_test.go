package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gymdesk/internal/auth"
	"gymdesk/internal/backup"
	"gymdesk/internal/domain"
	"gymdesk/internal/repository/sqlite"
	"gymdesk/internal/service"
	"gymdesk/internal/storage"
)

// flakyStore fails uploads until healed and remembers the keys it accepted.
type flakyStore struct {
	mu      sync.Mutex
	failing bool
	keys    []string
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = false
}

func (f *flakyStore) UploadFile(_ context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return "", errors.New("connection reset by peer")
	}
	key := storage.ObjectKey(opts.KeyPrefix, filepath.Base(localPath))
	f.keys = append(f.keys, key)
	return "s3://" + opts.Bucket + "/" + key, nil
}

func (f *flakyStore) ListObjects(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ObjectInfo
	for _, key := range f.keys {
		if bucket == "gym" && strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: 1})
		}
	}
	return out, nil
}

func (f *flakyStore) GetObjectURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".example.test/" + key + "?signed", nil
}

type response struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token"`
	Principal *domain.Profile `json:"principal"`
	Claims    *struct {
		ID       int64       `json:"id"`
		Username string      `json:"username"`
		Role     domain.Role `json:"role"`
	} `json:"claims"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type testServer struct {
	t          *testing.T
	router     *gin.Engine
	principals service.PrincipalService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, nil)
}

// newTestServerWithStore uploads backups to store into bucket "gym" under "nightly".
func newTestServerWithStore(t *testing.T, store storage.Service) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "gymdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	principalRepo := sqlite.NewPrincipalRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	require.NoError(t, sqlite.InitAll(ctx, principalRepo, backupRepo))

	logger, _ := test.NewNullLogger()

	tokens, err := auth.NewTokenManager([]byte("bridge-secret"), 0, auth.WithDenylist(auth.NewDenylist(time.Now)))
	require.NoError(t, err)
	authSvc, err := service.NewAuthService(principalRepo, tokens, service.AuthConfig{BcryptCost: bcrypt.MinCost, Logger: logger})
	require.NoError(t, err)
	principalSvc := service.NewPrincipalService(principalRepo, bcrypt.MinCost, logger)
	backupSvc := service.NewBackupService(backupRepo)

	manager := backup.NewManager(backup.Config{
		Dir:           filepath.Join(dir, "backups"),
		UploadOptions: storage.UploadOptions{Bucket: "gym", KeyPrefix: "nightly"},
		Logger:        logger,
	}, backupSvc, sqlite.NewSnapshotter(db), store)
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(manager.Shutdown)

	seed := []service.NewPrincipal{
		{Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Email: "admin@wefit.com"},
		{Username: "trainer1", Password: "trainer123", Role: domain.RoleTrainer},
		{Username: "member1", Password: "member123", Role: domain.RoleMember},
	}
	for _, p := range seed {
		_, err := principalSvc.Create(ctx, p)
		require.NoError(t, err)
	}

	router := gin.New()
	NewHandler(authSvc, principalSvc, backupSvc, manager, store, logger).RegisterRoutes(router)

	return &testServer{t: t, router: router, principals: principalSvc}
}

func (s *testServer) do(method, path, token string, body any) (int, response) {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out response
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	code, res := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, code, res.Message)
	require.NotEmpty(s.t, res.Token)
	return res.Token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	code, res := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	code, res := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.Principal)
	assert.Equal(t, "admin", res.Principal.Username)
	assert.Equal(t, domain.RoleAdmin, res.Principal.Role)

	code, res = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Message)
	assert.Empty(t, res.Token)

	code, res = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "ghost", "password": "admin123"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", res.Message)

	code, res = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "username and password are required", res.Message)
}

func TestVerify(t *testing.T) {
	s := newTestServer(t)
	token := s.login("trainer1", "trainer123")

	code, res := s.do(http.MethodPost, "/api/auth/verify", "", gin.H{"token": token})
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, res.Claims)
	assert.Equal(t, "trainer1", res.Claims.Username)
	assert.Equal(t, domain.RoleTrainer, res.Claims.Role)

	code, res = s.do(http.MethodPost, "/api/auth/verify", "", gin.H{"token": token + "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid or expired token", res.Message)
}

func TestMeAndLogout(t *testing.T) {
	s := newTestServer(t)
	token := s.login("member1", "member123")

	code, res := s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "member1", res.Principal.Username)

	code, _ = s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, res = s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid or expired token", res.Message)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.login("member1", "member123")

	code, res := s.do(http.MethodPost, "/api/auth/change-password", token,
		gin.H{"old_password": "nope", "new_password": "fresh-pass"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", res.Message)

	code, res = s.do(http.MethodPost, "/api/auth/change-password", token,
		gin.H{"old_password": "member123", "new_password": "fresh-pass"})
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, "Password changed successfully", res.Message)

	s.login("member1", "fresh-pass")
	code, _ = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "member1", "password": "member123"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestChangePassword_OtherPrincipal(t *testing.T) {
	s := newTestServer(t)

	trainers, err := s.principals.List(context.Background(), domain.RoleTrainer)
	require.NoError(t, err)
	require.Len(t, trainers, 1)
	trainerID := trainers[0].ID

	memberToken := s.login("member1", "member123")
	code, res := s.do(http.MethodPost, "/api/auth/change-password", memberToken,
		gin.H{"principal_id": trainerID, "old_password": "trainer123", "new_password": "x"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", res.Message)

	adminToken := s.login("admin", "admin123")
	code, _ = s.do(http.MethodPost, "/api/auth/change-password", adminToken,
		gin.H{"principal_id": trainerID, "old_password": "trainer123", "new_password": "coach-pass"})
	require.Equal(t, http.StatusOK, code)
	s.login("trainer1", "coach-pass")

	code, res = s.do(http.MethodPost, "/api/auth/change-password", adminToken,
		gin.H{"principal_id": 9999, "old_password": "a", "new_password": "b"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User not found", res.Message)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	trainerToken := s.login("trainer1", "trainer123")

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/principals"},
		{http.MethodPost, "/api/principals"},
		{http.MethodGet, "/api/principals/1"},
		{http.MethodPatch, "/api/principals/1/status"},
		{http.MethodGet, "/api/backups"},
		{http.MethodPost, "/api/backups"},
		{http.MethodGet, "/api/backups/remote"},
		{http.MethodPost, "/api/backups/1/retry"},
	} {
		code, res := s.do(route.method, route.path, trainerToken, gin.H{})
		assert.Equal(t, http.StatusForbidden, code, "%s %s", route.method, route.path)
		assert.Equal(t, "Forbidden", res.Message)
	}
}

func TestPrincipalAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")

	code, res := s.do(http.MethodPost, "/api/principals", admin, gin.H{
		"username":  "member2",
		"password":  "member234",
		"role":      "member",
		"full_name": "Sam Lee",
	})
	require.Equal(t, http.StatusCreated, code, res.Message)
	created := res.Principal
	require.NotNil(t, created)
	assert.Equal(t, domain.StatusActive, created.Status)
	assert.NotContains(t, string(mustJSON(t, res)), "password")

	code, res = s.do(http.MethodPost, "/api/principals", admin, gin.H{
		"username": "member2", "password": "x", "role": "trainer",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "User already exists", res.Message)

	code, res = s.do(http.MethodPost, "/api/principals", admin, gin.H{
		"username": "x", "password": "x", "role": "owner",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "role must be one of admin, trainer, member", res.Message)

	code, res = s.do(http.MethodGet, "/api/principals?role=member", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var members []domain.Profile
	require.NoError(t, json.Unmarshal(res.Data, &members))
	assert.Len(t, members, 2)

	path := fmt.Sprintf("/api/principals/%d/status", created.ID)
	code, _ = s.do(http.MethodPatch, path, admin, gin.H{"status": "inactive"})
	require.Equal(t, http.StatusOK, code)

	code, res = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "member2", "password": "member234"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", res.Message)

	code, res = s.do(http.MethodGet, fmt.Sprintf("/api/principals/%d", created.ID), admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusInactive, res.Principal.Status)

	code, res = s.do(http.MethodGet, "/api/principals/9999", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User not found", res.Message)

	code, res = s.do(http.MethodGet, "/api/principals/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid user id", res.Message)
}

func TestBackups(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")

	code, res := s.do(http.MethodPost, "/api/backups", admin, nil)
	require.Equal(t, http.StatusAccepted, code, res.Message)
	var created domain.Backup
	require.NoError(t, json.Unmarshal(res.Data, &created))
	require.Positive(t, created.ID)

	path := fmt.Sprintf("/api/backups/%d", created.ID)
	require.Eventually(t, func() bool {
		code, res := s.do(http.MethodGet, path, admin, nil)
		if code != http.StatusOK {
			return false
		}
		var b domain.Backup
		return json.Unmarshal(res.Data, &b) == nil && b.Status == domain.BackupStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	code, res = s.do(http.MethodGet, path+"/download", admin, nil)
	require.Equal(t, http.StatusOK, code, res.Message)
	var location struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &location))
	assert.Contains(t, filepath.Base(location.Path), "gymdesk-")

	code, res = s.do(http.MethodGet, "/api/backups", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var all []domain.Backup
	require.NoError(t, json.Unmarshal(res.Data, &all))
	assert.Len(t, all, 1)

	code, res = s.do(http.MethodGet, "/api/backups/42", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Backup not found", res.Message)
}

func (s *testServer) backupStatus(token string, id int64) domain.BackupStatus {
	s.t.Helper()
	code, res := s.do(http.MethodGet, fmt.Sprintf("/api/backups/%d", id), token, nil)
	if code != http.StatusOK {
		return ""
	}
	var b domain.Backup
	if err := json.Unmarshal(res.Data, &b); err != nil {
		return ""
	}
	return b.Status
}

func TestBackups_RetryAndRemote(t *testing.T) {
	store := &flakyStore{failing: true}
	s := newTestServerWithStore(t, store)
	admin := s.login("admin", "admin123")

	code, res := s.do(http.MethodPost, "/api/backups", admin, nil)
	require.Equal(t, http.StatusAccepted, code, res.Message)
	var created domain.Backup
	require.NoError(t, json.Unmarshal(res.Data, &created))

	require.Eventually(t, func() bool {
		return s.backupStatus(admin, created.ID) == domain.BackupStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	code, res = s.do(http.MethodGet, "/api/backups/remote", admin, nil)
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.JSONEq(t, `[]`, string(res.Data))

	store.heal()
	retry := fmt.Sprintf("/api/backups/%d/retry", created.ID)
	require.Eventually(t, func() bool {
		code, _ := s.do(http.MethodPost, retry, admin, nil)
		return code == http.StatusAccepted
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.backupStatus(admin, created.ID) == domain.BackupStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	code, res = s.do(http.MethodPost, retry, admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, res.Message, "is completed")

	code, res = s.do(http.MethodPost, "/api/backups/9999/retry", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Backup not found", res.Message)

	code, res = s.do(http.MethodGet, "/api/backups/remote", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var objects []storage.ObjectInfo
	require.NoError(t, json.Unmarshal(res.Data, &objects))
	require.Len(t, objects, 1)
	assert.True(t, strings.HasPrefix(objects[0].Key, "nightly/gymdesk-"))

	code, res = s.do(http.MethodGet, fmt.Sprintf("/api/backups/%d/download", created.ID), admin, nil)
	require.Equal(t, http.StatusOK, code, res.Message)
	var link struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &link))
	assert.Contains(t, link.URL, objects[0].Key)
}

func TestBackups_RemoteWithoutStorage(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")

	code, res := s.do(http.MethodGet, "/api/backups/remote", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "remote backup storage is not configured", res.Message)
}

func TestPrincipalStatus_LastAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "admin123")

	code, res := s.do(http.MethodGet, "/api/auth/me", admin, nil)
	require.Equal(t, http.StatusOK, code)
	self := res.Principal.ID

	code, res = s.do(http.MethodPatch, fmt.Sprintf("/api/principals/%d/status", self), admin, gin.H{"status": "inactive"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cannot deactivate the last active administrator", res.Message)

	s.login("admin", "admin123")
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	token, ok = bearerToken("bearer   abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer")
	assert.False(t, ok)
	_, ok = bearerToken("")
	assert.False(t, ok)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
