package definition

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emr-interpretation-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "definition-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return store
}

func f64(v float64) *float64 { return &v }

func glucoseDefinition() *ObservationDefinition {
	return &ObservationDefinition{
		Slug:   "blood-glucose",
		Title:  "Blood Glucose",
		Status: "active",
		Code:   &domain.Coding{System: "http://loinc.org", Code: "2339-0"},
		PermittedUnit: &domain.Coding{
			System: "http://unitsofmeasure.org", Code: "mg/dL",
		},
		QualifiedRanges: []domain.Rule{
			{
				Conditions: []domain.Condition{
					{Metric: "patient_age", Operation: domain.OpInRange, Value: json.RawMessage(`{"min": 18, "max": 120}`)},
				},
				Ranges: []domain.RangeSpec{
					{Max: f64(69), Interpretation: "low"},
					{Min: f64(70), Max: f64(140), Interpretation: domain.NormalInterpretation},
					{Min: f64(141), Interpretation: "high"},
				},
			},
		},
		Components: []ComponentDefinition{
			{
				Code: domain.Coding{System: "http://loinc.org", Code: "2345-7"},
				QualifiedRanges: []domain.Rule{
					{Ranges: []domain.RangeSpec{{Min: f64(0), Max: f64(100), Interpretation: domain.NormalInterpretation}}},
				},
			},
		},
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "definition-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "nested", "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	def := glucoseDefinition()

	require.NoError(t, store.Save(ctx, def))
	assert.NotEmpty(t, def.ID, "ID should be assigned")
	assert.False(t, def.CreatedAt.IsZero())

	loaded, err := store.Get(ctx, "blood-glucose")
	require.NoError(t, err)
	assert.Equal(t, def.ID, loaded.ID)
	assert.Equal(t, "Blood Glucose", loaded.Title)
	assert.Equal(t, "2339-0", loaded.Code.Code)
	assert.Equal(t, "mg/dL", loaded.PermittedUnit.Code)
	require.Len(t, loaded.QualifiedRanges, 1)
	assert.Len(t, loaded.QualifiedRanges[0].Ranges, 3)
	assert.Len(t, loaded.QualifiedRanges[0].Conditions, 1)
	require.Len(t, loaded.Components, 1)
	assert.Equal(t, "2345-7", loaded.Components[0].Code.Code)
}

func TestSQLiteStore_Save_UpsertsBySlug(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	def := glucoseDefinition()
	require.NoError(t, store.Save(ctx, def))
	originalID := def.ID

	updated := glucoseDefinition()
	updated.Title = "Blood Glucose (fasting)"
	require.NoError(t, store.Save(ctx, updated))

	loaded, err := store.Get(ctx, "blood-glucose")
	require.NoError(t, err)
	assert.Equal(t, originalID, loaded.ID, "saving the same slug should update, not duplicate")
	assert.Equal(t, "Blood Glucose (fasting)", loaded.Title)

	defs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_List_OrderedBySlug(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, slug := range []string{"zinc-level", "blood-glucose", "heart-rate"} {
		def := glucoseDefinition()
		def.ID = ""
		def.Slug = slug
		require.NoError(t, store.Save(ctx, def))
	}

	defs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "blood-glucose", defs[0].Slug)
	assert.Equal(t, "heart-rate", defs[1].Slug)
	assert.Equal(t, "zinc-level", defs[2].Slug)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	def := glucoseDefinition()
	require.NoError(t, store.Save(ctx, def))

	require.NoError(t, store.Delete(ctx, "blood-glucose"))

	_, err := store.Get(ctx, "blood-glucose")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_Delete_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_NilCodingsRoundTrip(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	def := &ObservationDefinition{Slug: "bare", Title: "Bare", Status: "draft"}
	require.NoError(t, store.Save(ctx, def))

	loaded, err := store.Get(ctx, "bare")
	require.NoError(t, err)
	assert.Nil(t, loaded.Category)
	assert.Nil(t, loaded.Code)
	assert.Nil(t, loaded.PermittedUnit)
	assert.Empty(t, loaded.QualifiedRanges)
	assert.Empty(t, loaded.Components)
}
