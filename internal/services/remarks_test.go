package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/autofleet/internal/services"
	"github.com/HerbHall/autofleet/internal/testutil"
)

func newRemarkRepo(t *testing.T) services.RemarkRepository {
	t.Helper()
	store := testutil.NewStore(t)
	repo, err := services.NewSQLiteRemarkRepository(context.Background(), store)
	if err != nil {
		t.Fatalf("NewSQLiteRemarkRepository: %v", err)
	}
	return repo
}

func TestSQLiteRemarkRepository_SetAndGet(t *testing.T) {
	repo := newRemarkRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, "dev-1", "rack 3, shelf 2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "rack 3, shelf 2" {
		t.Errorf("remark = %q, want %q", got, "rack 3, shelf 2")
	}
}

func TestSQLiteRemarkRepository_SetOverwrite(t *testing.T) {
	repo := newRemarkRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, "dev-1", "old"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := repo.Set(ctx, "dev-1", "new"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := repo.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "new" {
		t.Errorf("remark = %q, want %q", got, "new")
	}
}

func TestSQLiteRemarkRepository_GetAll(t *testing.T) {
	repo := newRemarkRepo(t)
	ctx := context.Background()

	_ = repo.Set(ctx, "dev-1", "a")
	_ = repo.Set(ctx, "dev-2", "b")

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all["dev-1"] != "a" || all["dev-2"] != "b" {
		t.Errorf("GetAll = %v", all)
	}
}

func TestSQLiteRemarkRepository_NotFound(t *testing.T) {
	repo := newRemarkRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Delete error = %v, want ErrNotFound", err)
	}
}
