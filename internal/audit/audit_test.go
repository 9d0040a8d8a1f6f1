package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/privacy"
)

func TestNewEntry(t *testing.T) {
	redactions := []privacy.Redaction{
		{Placeholder: "__PHONE_1__", Original: "+1 555-123-4567", Type: "phone"},
		{Placeholder: "__EMAIL_2__", Original: "a@b.com", Type: "email"},
		{Placeholder: "__EMAIL_3__", Original: "c@d.com", Type: "email"},
	}

	entry := NewEntry("s1", SourceContext, "eu", redactions)

	assert.Equal(t, "s1", entry.SessionID)
	assert.Equal(t, SourceContext, entry.Source)
	assert.Equal(t, 3, entry.RedactionCount)
	assert.Equal(t, []string{"email", "phone"}, []string(entry.Types))
	assert.Equal(t, "eu", entry.Region)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestNewEntryEmpty(t *testing.T) {
	entry := NewEntry("", SourceRedact, "", nil)
	assert.Equal(t, 0, entry.RedactionCount)
	assert.NotNil(t, entry.Types)
	assert.Empty(t, entry.Types)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), NewEntry("s", SourceBatch, "", nil)))
	assert.NoError(t, r.Close())
}

func TestNewPostgresRecorderRejectsBadURL(t *testing.T) {
	_, err := NewPostgresRecorder(Config{DatabaseURL: "postgres://%zz"}, zap.NewNop())
	assert.Error(t, err)
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://safedom:***@db:5432/safedom", maskDatabaseURL("postgres://safedom:secret@db:5432/safedom"))
	assert.Equal(t, "postgres://db:5432/safedom", maskDatabaseURL("postgres://db:5432/safedom"))
}
