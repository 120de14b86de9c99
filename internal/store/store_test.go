package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sentrakit/agentcore/config"
)

type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestEncodeVectorLiteral(t *testing.T) {
	got, err := encodeVectorLiteral([]float32{0.1, 0.2, 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != "[0.1,0.2,1]" {
		t.Fatalf("literal = %q", got)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("empty vector should error")
	}
}

func TestSaveRunPersistsHistoryInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-1", "list files", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO run_history"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_history")).
		WithArgs("run-1", 0, "tool_result", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := RunRecord{ID: "run-1", Objective: "list files", Steps: json.RawMessage(`[]`)}
	entries := []HistoryRecord{{Position: 0, Kind: "tool_result", Entry: json.RawMessage(`{"position":0}`)}}
	if err := st.SaveRun(context.Background(), rec, entries); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchSimilarArgsQueriesByToolAndVector(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{
		DB:       db,
		embedder: fixedEmbedder{vec: []float32{0.5, 0.5}},
		memCfg:   config.MemoryConfig{Enabled: true},
	}

	rows := sqlmock.NewRows([]string{"args", "score"}).
		AddRow([]byte(`{"user_id": 42}`), 0.97)
	mock.ExpectQuery(regexp.QuoteMeta("FROM arg_memories")).
		WithArgs("[0.5,0.5]", "local__list_files", sqlmock.AnyArg(), 3).
		WillReturnRows(rows)

	hits, err := st.SearchSimilarArgs(context.Background(), "local__list_files", "list files for 42", 0)
	if err != nil {
		t.Fatalf("SearchSimilarArgs: %v", err)
	}
	if len(hits) != 1 || hits[0].Score != 0.97 || hits[0].Args["user_id"] != float64(42) {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMemoryDisabledShortCircuits(t *testing.T) {
	st := &Store{memCfg: config.MemoryConfig{Enabled: false}}
	hits, err := st.SearchSimilarPlans(context.Background(), "anything", 3)
	if err != nil || hits != nil {
		t.Fatalf("disabled memory should be a no-op, got %v, %v", hits, err)
	}
	if err := st.SavePlanMemory(context.Background(), "r", "o", nil); err != nil {
		t.Fatalf("disabled save should be a no-op, got %v", err)
	}
}
