package documents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		Filename:    "invoice-0042.pdf",
		ContentType: "application/pdf",
		SizeBytes:   18422,
	}
	require.NoError(t, store.Create(ctx, doc))
	require.NotEmpty(t, doc.ID, "id assigned on create")

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "invoice-0042.pdf", got.Filename)
	require.Equal(t, IngestionAccepted, got.IngestionStatus)
	require.Equal(t, "default", got.TenantID)
	require.Equal(t, "en", got.Language)
	require.Nil(t, got.QualityScore)
	require.False(t, got.CreatedAt.IsZero())
}

func TestGetUnknownDocument(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateIngestion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Filename: "blurry.pdf", ContentType: "application/pdf", SizeBytes: 9000}
	require.NoError(t, store.Create(ctx, doc))

	score := 0.41
	err := store.UpdateIngestion(ctx, doc.ID, IngestionQuarantined, "LOW", &score,
		[]string{"LOW_RESOLUTION", "SKEWED_PAGE"})
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, IngestionQuarantined, got.IngestionStatus)
	require.Equal(t, "LOW", got.QualityTier)
	require.NotNil(t, got.QualityScore)
	require.InDelta(t, 0.41, *got.QualityScore, 1e-9)
	require.Equal(t, []string{"LOW_RESOLUTION", "SKEWED_PAGE"}, got.ReasonCodes)
}

func TestUpdateIngestionPartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	score := 0.93
	doc := &Document{
		Filename:     "clean.pdf",
		ContentType:  "application/pdf",
		SizeBytes:    1200,
		QualityTier:  "HIGH",
		QualityScore: &score,
	}
	require.NoError(t, store.Create(ctx, doc))

	// Empty status/tier and nil score keep existing values.
	require.NoError(t, store.UpdateIngestion(ctx, doc.ID, "", "", nil, nil))

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, IngestionAccepted, got.IngestionStatus)
	require.Equal(t, "HIGH", got.QualityTier)
	require.InDelta(t, 0.93, *got.QualityScore, 1e-9)
}

func TestUpdateIngestionUnknownDocument(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateIngestion(context.Background(), "missing", IngestionRejected, "", nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		doc := &Document{
			ID:          string(rune('a' + i)),
			Filename:    "doc.pdf",
			ContentType: "application/pdf",
			SizeBytes:   1,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Create(ctx, doc))
	}

	docs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "c", docs[0].ID)
	require.Equal(t, "b", docs[1].ID)
}
