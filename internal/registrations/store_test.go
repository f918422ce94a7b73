package registrations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expopass/backend/internal/models"
)

func TestSaveAssignsTicketCode(t *testing.T) {
	store := NewInMemory(nil)

	res, err := store.Save(context.Background(), models.RoleVisitor, map[string]interface{}{
		"Email": "Alice@Example.com",
		"Name":  "Alice",
	}, SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Registration)

	assert.False(t, res.Existed)
	assert.Equal(t, "alice@example.com", res.Registration.Email)
	assert.Regexp(t, `^TICK-[A-Z0-9]{8}$`, res.Registration.TicketCode)
	assert.Equal(t, "Alice", res.Registration.Fields["name"])
}

func TestSaveConcurrentCodesUnique(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	const n = 50
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{
				"name": fmt.Sprintf("Guest %d", i),
			}, SaveOptions{})
			if err != nil {
				t.Error(err)
				return
			}
			codes <- res.Registration.TicketCode
		}(i)
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestSaveIdempotentOnEmail(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	first, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{
		"email": "bob@example.com", "name": "Bob",
	}, SaveOptions{})
	require.NoError(t, err)

	second, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{
		"email": "BOB@example.com", "name": "Robert",
	}, SaveOptions{})
	require.NoError(t, err)

	assert.True(t, second.Existed)
	assert.Equal(t, first.ID, second.ID)
	// Resubmission must not clobber the original record.
	assert.Equal(t, "Bob", second.Registration.Fields["name"])
	assert.Equal(t, first.Registration.TicketCode, second.Registration.TicketCode)
}

func TestSaveSameEmailDifferentRoles(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()
	payload := map[string]interface{}{"email": "carol@example.com"}

	asVisitor, err := store.Save(ctx, models.RoleVisitor, payload, SaveOptions{})
	require.NoError(t, err)
	asSpeaker, err := store.Save(ctx, models.RoleSpeaker, payload, SaveOptions{})
	require.NoError(t, err)

	assert.False(t, asSpeaker.Existed)
	assert.NotEqual(t, asVisitor.ID, asSpeaker.ID)
}

func TestSaveWithoutEmailAlwaysInserts(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	a, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"name": "walk-in"}, SaveOptions{})
	require.NoError(t, err)
	b, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"name": "walk-in"}, SaveOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Registration.TicketCode, b.Registration.TicketCode)
}

func TestSaveRetriesOnCodeCollision(t *testing.T) {
	codes := []string{"TICK-SAME0000", "TICK-SAME0000", "TICK-SAME0000", "TICK-FRESH000"}
	i := 0
	store := NewInMemory(func() string {
		c := codes[i%len(codes)]
		i++
		return c
	})
	ctx := context.Background()

	first, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "a@x.com"}, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "TICK-SAME0000", first.Registration.TicketCode)

	second, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "b@x.com"}, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "TICK-FRESH000", second.Registration.TicketCode)
}

func TestSaveCodeSpaceExhausted(t *testing.T) {
	store := NewInMemory(func() string { return "TICK-ONLYONE0" })
	ctx := context.Background()

	_, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "a@x.com"}, SaveOptions{})
	require.NoError(t, err)

	_, err = store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "b@x.com"}, SaveOptions{})
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestSaveAppliesAllowList(t *testing.T) {
	store := NewInMemory(nil)
	allowed := map[string]struct{}{"name": {}, "company": {}}

	res, err := store.Save(context.Background(), models.RoleExhibitor, map[string]interface{}{
		"email":   "d@x.com",
		"Name":    "Dora",
		"Company": "Acme",
		"shoe sz": "42",
	}, SaveOptions{Allowed: allowed})
	require.NoError(t, err)

	assert.Equal(t, "Dora", res.Registration.Fields["name"])
	assert.Equal(t, "Acme", res.Registration.Fields["company"])
	assert.NotContains(t, res.Registration.Fields, "shoe_sz")
	// Raw payload is preserved in full for the audit copy.
	assert.Equal(t, "42", res.Registration.RawForm["shoe sz"])
}

func TestSaveDropsProtectedKeys(t *testing.T) {
	store := NewInMemory(nil)

	res, err := store.Save(context.Background(), models.RoleVisitor, map[string]interface{}{
		"email":       "e@x.com",
		"ticket_code": "TICK-INJECTED",
		"status":      "approved",
	}, SaveOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, "TICK-INJECTED", res.Registration.TicketCode)
	assert.Equal(t, models.StatusNew, res.Registration.Status)
	assert.NotContains(t, res.Registration.Fields, "ticket_code")
	assert.NotContains(t, res.Registration.Fields, "status")
}

func TestCanonicalizeMergesNestedRaw(t *testing.T) {
	normalized, email := Canonicalize(map[string]interface{}{
		"email": "f@x.com",
		"Name":  "top",
		"raw": map[string]interface{}{
			"Name":  "nested",
			"Badge": "B-12",
		},
	}, nil)

	assert.Equal(t, "f@x.com", email)
	// Top-level wins over the nested copy.
	assert.Equal(t, "top", normalized["name"])
	assert.Equal(t, "B-12", normalized["badge"])
}

func TestUpdateMergesFields(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{
		"email": "g@x.com", "name": "Grace", "company": "Initech",
	}, SaveOptions{})
	require.NoError(t, err)

	updated, err := store.Update(ctx, models.RoleVisitor, res.ID, map[string]interface{}{
		"company": "Hooli",
	}, UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Grace", updated.Fields["name"])
	assert.Equal(t, "Hooli", updated.Fields["company"])
}

func TestUpdateTicketCodeWriteOnce(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "h@x.com"}, SaveOptions{})
	require.NoError(t, err)
	original := res.Registration.TicketCode

	// Without the override flag the code silently stays put.
	updated, err := store.Update(ctx, models.RoleVisitor, res.ID, map[string]interface{}{
		"ticket_code": "TICK-NEWCODE0",
	}, UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, original, updated.TicketCode)

	// With it the code changes.
	updated, err = store.Update(ctx, models.RoleVisitor, res.ID, map[string]interface{}{
		"ticket_code": "TICK-NEWCODE0",
	}, UpdateOptions{AllowTicketCodeOverride: true})
	require.NoError(t, err)
	assert.Equal(t, "TICK-NEWCODE0", updated.TicketCode)
}

func TestUpdateTicketCodeOverrideConflict(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	a, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "i@x.com"}, SaveOptions{})
	require.NoError(t, err)
	b, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "j@x.com"}, SaveOptions{})
	require.NoError(t, err)

	_, err = store.Update(ctx, models.RoleVisitor, b.ID, map[string]interface{}{
		"ticket_code": a.Registration.TicketCode,
	}, UpdateOptions{AllowTicketCodeOverride: true})
	assert.ErrorIs(t, err, ErrCodeConflict)
}

func TestEnsureTicketCodeIsStable(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "k@x.com"}, SaveOptions{})
	require.NoError(t, err)

	code, err := store.EnsureTicketCode(ctx, models.RoleVisitor, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Registration.TicketCode, code)

	again, err := store.EnsureTicketCode(ctx, models.RoleVisitor, res.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestSetTicketCategoryStampsUpgradedAt(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "l@x.com"}, SaveOptions{})
	require.NoError(t, err)
	require.Nil(t, res.Registration.UpgradedAt)

	reg, err := store.SetTicketCategory(ctx, models.RoleVisitor, res.ID, "vip")
	require.NoError(t, err)
	assert.Equal(t, "vip", reg.TicketCategory)
	assert.NotNil(t, reg.UpgradedAt)
}

func TestStatusLifecycle(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleExhibitor, map[string]interface{}{"email": "m@x.com"}, SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Registration.Status)

	require.NoError(t, store.SetStatus(ctx, models.RoleExhibitor, res.ID, models.StatusApproved))
	reg, err := store.GetByID(ctx, models.RoleExhibitor, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, reg.Status)

	err = store.SetStatus(ctx, models.RoleExhibitor, uuid.New(), models.StatusApproved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByCodeTiers(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	res, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"email": "n@x.com"}, SaveOptions{})
	require.NoError(t, err)
	code := res.Registration.TicketCode

	got, err := store.FindByCode(ctx, models.RoleVisitor, code)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)

	_, err = store.FindByCode(ctx, models.RoleVisitor, strings.ToLower(code))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = store.FindByCodeFold(ctx, models.RoleVisitor, strings.ToLower(code))
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
}

func TestScanCandidatesRespectsLimit(t *testing.T) {
	store := NewInMemory(nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Save(ctx, models.RoleVisitor, map[string]interface{}{"name": "anon"}, SaveOptions{})
		require.NoError(t, err)
	}

	out, err := store.ScanCandidates(ctx, models.RoleVisitor, []string{"ticket_id"}, 3)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}
