package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/repo/memory"
	"github.com/geocoder89/gearsauth/internal/security"
)

func TestStore_HashUpdateCheck(t *testing.T) {
	repo := memory.NewUsersRepo()
	store := NewStore(repo)
	ctx := context.Background()

	legacy, _ := security.HashPasswordBcrypt("old-pass")
	created, err := repo.Create(ctx, user.User{Email: "root@root", PasswordHash: legacy, IsActive: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	u, err := store.FindByEmail(ctx, "ROOT@root")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}

	if !store.CheckPassword(u, "old-pass") {
		t.Fatalf("expected legacy password to check")
	}
	if !store.NeedsRehash(u) {
		t.Fatalf("expected bcrypt hash to need rehash")
	}

	hash, err := store.HashPassword(u, "new-pass")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	if err := store.UpdatePasswordHash(ctx, u, hash); err != nil {
		t.Fatalf("UpdatePasswordHash error: %v", err)
	}

	updated, _ := store.FindByID(ctx, created.ID)
	if updated.SecurityStamp == u.SecurityStamp {
		t.Fatalf("expected security stamp to rotate")
	}
	if !store.CheckPassword(updated, "new-pass") || store.CheckPassword(updated, "old-pass") {
		t.Fatalf("password was not replaced")
	}
	if store.NeedsRehash(updated) {
		t.Fatalf("argon2id hash should not need rehash")
	}

	// the pre-update snapshot is stale now
	if err := store.UpdatePasswordHash(ctx, u, hash); !errors.Is(err, user.ErrStaleUser) {
		t.Fatalf("expected ErrStaleUser, got %v", err)
	}
}

func TestStore_CheckPassword_EmptyHash(t *testing.T) {
	store := NewStore(memory.NewUsersRepo())

	if store.CheckPassword(user.User{}, "") {
		t.Fatalf("user without a hash must never check")
	}
}

func TestStore_FindByEmail_NotFound(t *testing.T) {
	store := NewStore(memory.NewUsersRepo())

	_, err := store.FindByEmail(context.Background(), "nobody@example.com")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
