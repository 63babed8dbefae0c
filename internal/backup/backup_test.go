package backup

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mossline/filterhub/internal/database"
	"github.com/mossline/filterhub/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func enabledConfig() Config {
	return Config{
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		Passphrase: "test-passphrase",
	}
}

func setupBackupTestDB(t *testing.T) (*sql.DB, *store.BackupStore, *store.SettingsStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, store.NewBackupStore(db), store.NewSettingsStore(db)
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config or passphrase -> disabled
	m := NewManager(Config{}, nil, nil, nil, nil, slog.Default())
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	m2 := NewManager(Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}, nil, nil, nil, nil, slog.Default())
	if m2.Status().State != StateDisabled {
		t.Errorf("state without passphrase = %q, want %q", m2.Status().State, StateDisabled)
	}

	// Fully configured -> idle
	m3 := NewManager(enabledConfig(), nil, nil, nil, nil, slog.Default())
	if m3.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m3.Status().State, StateIdle)
	}
	if !m3.Enabled() {
		t.Error("configured manager should report enabled")
	}
}

func TestManagerStatusCallback(t *testing.T) {
	var received []Status
	var mu sync.Mutex
	cb := func(s Status) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	m := NewManager(enabledConfig(), nil, nil, nil, cb, slog.Default())

	m.setStatus(Status{State: StateRunning, InProgress: true})
	m.setStatus(Status{State: StateIdle})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d callbacks, want 2", len(received))
	}
	if received[0].State != StateRunning {
		t.Errorf("first callback state = %q, want %q", received[0].State, StateRunning)
	}
	if received[1].State != StateIdle {
		t.Errorf("second callback state = %q, want %q", received[1].State, StateIdle)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(enabledConfig(), nil, nil, nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, nil, slog.Default())

	ctx := context.Background()
	m.Start(ctx) // no-op while disabled

	// Stop should not block
	m.Stop()

	if _, err := m.RunNow(ctx); err == nil {
		t.Error("RunNow should fail while disabled")
	}
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	db, backups, settings := setupBackupTestDB(t)

	m := NewManager(enabledConfig(), db, backups, settings, nil, slog.Default())
	mock := newMockS3()
	m.client = mock

	record, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if record.SizeBytes == 0 {
		t.Error("recorded size is zero")
	}

	data, ok := mock.object(record.ObjectKey)
	if !ok {
		t.Fatalf("object %q missing from bucket", record.ObjectKey)
	}
	if len(data) < saltSize+nonceSize {
		t.Fatalf("uploaded object too small: %d bytes", len(data))
	}

	// The upload round-trips through the stored salt and passphrase.
	plaintext, err := Decrypt(data, "test-passphrase")
	if err != nil {
		t.Fatalf("decrypt upload: %v", err)
	}
	if len(plaintext) == 0 {
		t.Error("decrypted snapshot is empty")
	}

	listed, err := backups.ListRecent(10)
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(listed) != 1 || listed[0].ObjectKey != record.ObjectKey {
		t.Errorf("listed = %+v, want the new record", listed)
	}

	// The salt persists so a second backup decrypts with the same passphrase.
	saltHex, err := settings.Get(saltSettingKey)
	if err != nil || saltHex == "" {
		t.Fatalf("salt not persisted: %q, %v", saltHex, err)
	}
	if m.Status().State != StateIdle {
		t.Errorf("state after run = %q, want %q", m.Status().State, StateIdle)
	}
}

func TestCleanupDeletesOldObjects(t *testing.T) {
	db, backups, settings := setupBackupTestDB(t)

	m := NewManager(enabledConfig(), db, backups, settings, nil, slog.Default())
	mock := newMockS3()
	m.client = mock

	record, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	// Age the record past the retention window.
	if _, err := db.Exec(
		`UPDATE backups SET created_at = datetime('now', '-40 days') WHERE id = ?`,
		record.ID,
	); err != nil {
		t.Fatalf("age record: %v", err)
	}

	if err := m.Cleanup(context.Background(), 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, ok := mock.object(record.ObjectKey); ok {
		t.Error("old object should have been deleted from the bucket")
	}
	listed, err := backups.ListRecent(10)
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("listed %d records after cleanup, want 0", len(listed))
	}
}
